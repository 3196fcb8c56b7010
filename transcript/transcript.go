// Package transcript persists conversation turns. The sink is append-only;
// the relay never reads transcripts back during a call.
package transcript

import (
	"context"
	"sync"
	"time"
)

// Turn is one persisted transcript entry.
type Turn struct {
	CallSID   string    `json:"callSid"`
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Sink receives transcript turns.
type Sink interface {
	// Append persists one turn.
	Append(ctx context.Context, turn Turn) error
	// Close releases the sink's resources.
	Close() error
}

// MemorySink keeps turns in memory. Used in tests and as the default when no
// store is configured.
type MemorySink struct {
	mu    sync.Mutex
	turns []Turn
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append implements Sink.
func (s *MemorySink) Append(_ context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

// Close implements Sink.
func (s *MemorySink) Close() error { return nil }

// Turns returns a copy of the recorded turns.
func (s *MemorySink) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}
