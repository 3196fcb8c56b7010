package exec

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/relay/log"
	"github.com/voicewire/relay/telemetry"
	"github.com/voicewire/relay/tool"
)

// Async execution statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const asyncHandlerTimeout = 5 * time.Minute

// AsyncEntry is the registry record for one detached execution.
type AsyncEntry struct {
	Status string
	Result any
}

// AsyncRegistry holds results of detached tool executions keyed by async id.
type AsyncRegistry struct {
	mu      sync.Mutex
	entries map[string]*AsyncEntry
}

// NewAsyncRegistry creates an empty registry.
func NewAsyncRegistry() *AsyncRegistry {
	return &AsyncRegistry{entries: make(map[string]*AsyncEntry)}
}

func (r *AsyncRegistry) create(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &AsyncEntry{Status: StatusPending}
}

func (r *AsyncRegistry) settle(id, status string, result any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[id]; ok {
		entry.Status = status
		entry.Result = result
	}
}

// Lookup returns the settled result for an async id. ok is false while the
// execution is still pending or when the id is unknown.
func (r *AsyncRegistry) Lookup(id string) (result any, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, exists := r.entries[id]
	if !exists || entry.Status == StatusPending {
		return nil, false
	}
	return entry.Result, true
}

// Status returns the raw status string for an async id, or "" when unknown.
func (r *AsyncRegistry) Status(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[id]; ok {
		return entry.Status
	}
	return ""
}

// Forget drops an entry once its result has been patched into history.
func (r *AsyncRegistry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// CompletionFunc is invoked when a detached execution settles. It runs on the
// background worker; implementations must hand the result to the owning
// call's control flow (a mailbox), not touch its state directly.
type CompletionFunc func(asyncID string, result any)

// DispatchAsync starts a detached tool execution and returns immediately with
// the placeholder result that gets appended to history as the tool-result
// turn. Arguments are validated first: a refusal result (not an error) comes
// back so an invalid async call never crashes the turn. When the handler
// finishes, the result is stored in the async registry and onComplete fires.
func (c *Coordinator) DispatchAsync(
	spec *tool.Spec,
	callSID string,
	args map[string]any,
	onComplete CompletionFunc,
) map[string]any {
	if refusal := spec.ValidateArgs(args); refusal != nil {
		return map[string]any{
			"success": false,
			"refused": true,
			"reasons": refusal.Reasons,
		}
	}

	asyncID := uuid.NewString()
	c.async.create(asyncID)

	if err := c.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncHandlerTimeout)
		defer cancel()

		_, span := telemetry.StartToolCall(ctx, callSID, spec.Name)
		defer span.End()

		data := c.runHandler(ctx, spec, args)
		status := StatusCompleted
		if m, ok := data.(map[string]any); ok {
			if _, failed := m["error"]; failed {
				status = StatusFailed
			}
		}
		c.async.settle(asyncID, status, data)
		log.Debugf("tool %s: async %s settled (%s) for call %s", spec.Name, asyncID, status, callSID)
		if onComplete != nil {
			onComplete(asyncID, data)
		}
	}); err != nil {
		// The failure is reported inline; nothing will ever poll or patch
		// this id, so the entry must not outlive the dispatch.
		c.async.Forget(asyncID)
		return map[string]any{
			"success": false,
			"asyncId": asyncID,
			"error":   err.Error(),
		}
	}

	return map[string]any{
		"success":        true,
		"asyncExecution": true,
		"asyncId":        asyncID,
		"status":         StatusPending,
	}
}
