package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/voicewire/relay/log"
)

const defaultWriteTimeout = 5 * time.Second

// Writer appends turns to a sink off the caller's critical path. Record
// returns immediately; the write happens on a pooled worker. Per call,
// sequence numbers are assigned at Record time so ordering survives the
// detached writes.
type Writer struct {
	sink Sink
	pool *ants.Pool

	mu   sync.Mutex
	seqs map[string]int
	wg   sync.WaitGroup
}

// NewWriter creates a writer backed by a worker pool of the given size.
func NewWriter(sink Sink, workers int) (*Writer, error) {
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &Writer{sink: sink, pool: pool, seqs: make(map[string]int)}, nil
}

// Record schedules one turn for persistence and returns without waiting.
func (w *Writer) Record(callSID, role, content string) {
	w.mu.Lock()
	seq := w.seqs[callSID]
	w.seqs[callSID] = seq + 1
	w.mu.Unlock()

	turn := Turn{
		CallSID:   callSID,
		Seq:       seq,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	w.wg.Add(1)
	err := w.pool.Submit(func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
		defer cancel()
		if err := w.sink.Append(ctx, turn); err != nil {
			log.Errorf("transcript: append call=%s seq=%d: %v", callSID, seq, err)
		}
	})
	if err != nil {
		w.wg.Done()
		log.Errorf("transcript: submit write for call %s: %v", callSID, err)
	}
}

// Forget drops the sequence counter for a finished call.
func (w *Writer) Forget(callSID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.seqs, callSID)
}

// Close waits for in-flight writes and releases the pool.
func (w *Writer) Close() {
	w.wg.Wait()
	w.pool.Release()
}
