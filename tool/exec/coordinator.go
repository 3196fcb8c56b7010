package exec

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/voicewire/relay/log"
	"github.com/voicewire/relay/telemetry"
	"github.com/voicewire/relay/tool"
)

const (
	defaultThinkingInterval = 2 * time.Second
	defaultAnnouncement     = "Give me a moment."
)

// Coordinator runs tool invocations on a shared worker pool.
type Coordinator struct {
	pool     *ants.Pool
	interval time.Duration
	async    *AsyncRegistry
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithThinkingInterval sets the keep-alive interval between thinking phrases.
func WithThinkingInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// New creates a coordinator with a worker pool of the given size.
func New(workers int, opts ...Option) (*Coordinator, error) {
	if workers <= 0 {
		workers = 16
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create tool worker pool: %w", err)
	}
	c := &Coordinator{
		pool:     pool,
		interval: defaultThinkingInterval,
		async:    NewAsyncRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Async returns the coordinator's async result registry.
func (c *Coordinator) Async() *AsyncRegistry {
	return c.async
}

// Close releases the worker pool.
func (c *Coordinator) Close() {
	c.pool.Release()
}

// Execute runs one synchronous tool invocation. The returned channel emits
// one Thinking with the tool's announcement immediately, further Thinking
// keep-alives while the handler runs, and exactly one terminal Result; then
// it is closed. Handler errors and panics are captured into the Result, never
// re-raised. Cancelling ctx abandons the execution and cancels the handler.
func (c *Coordinator) Execute(ctx context.Context, spec *tool.Spec, callSID string, args map[string]any) <-chan Event {
	events := make(chan Event, 1)
	events <- Thinking{Text: announcement(spec)}

	go func() {
		defer close(events)

		_, span := telemetry.StartToolCall(ctx, callSID, spec.Name)
		defer span.End()

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		done := make(chan any, 1)
		if err := c.pool.Submit(func() {
			done <- c.runHandler(handlerCtx, spec, args)
		}); err != nil {
			emit(ctx, events, Result{Data: errResult(fmt.Errorf("submit tool worker: %w", err))})
			return
		}

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case data := <-done:
				emit(ctx, events, Result{Data: data})
				return
			case <-ticker.C:
				if phrase := thinkingPhrase(spec); phrase != "" {
					emit(ctx, events, Thinking{Text: phrase})
				}
			case <-ctx.Done():
				log.Debugf("tool %s: execution abandoned for call %s", spec.Name, callSID)
				return
			}
		}
	}()
	return events
}

// runHandler invokes the handler, converting errors and panics to result
// payloads.
func (c *Coordinator) runHandler(ctx context.Context, spec *tool.Spec, args map[string]any) (data any) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("tool %s: handler panic: %v", spec.Name, r)
			data = errResult(fmt.Errorf("panic: %v", r))
		}
	}()
	result, err := spec.Handler(ctx, args)
	if err != nil {
		log.Warnf("tool %s: handler error: %v", spec.Name, err)
		return errResult(err)
	}
	return result
}

// thinkingPhrase picks a keep-alive phrase. The shared coordinator serves
// every live call, so phrase selection goes through the concurrency-safe
// top-level generator.
func thinkingPhrase(spec *tool.Spec) string {
	if len(spec.ThinkingPhrases) == 0 {
		return ""
	}
	return spec.ThinkingPhrases[rand.IntN(len(spec.ThinkingPhrases))]
}

func announcement(spec *tool.Spec) string {
	if spec.PromptText != "" {
		return spec.PromptText
	}
	return defaultAnnouncement
}

func errResult(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

func emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
