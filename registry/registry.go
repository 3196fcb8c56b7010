// Package registry holds the process-wide staging area for calls: descriptors
// keyed by call id awaiting their connection's setup frame, and the set of
// agents currently on a live call.
package registry

import (
	"sync"

	"github.com/voicewire/relay/agent"
	"github.com/voicewire/relay/log"
)

// CallRegistry maps call ids to staged descriptors and tracks agent
// exclusivity. Create one per process and inject it; tests substitute fresh
// instances.
type CallRegistry struct {
	mu     sync.Mutex
	staged map[string]*agent.Descriptor
	active map[string]struct{}
}

// New creates an empty registry.
func New() *CallRegistry {
	return &CallRegistry{
		staged: make(map[string]*agent.Descriptor),
		active: make(map[string]struct{}),
	}
}

// Store stages a descriptor for callID. Storing a second descriptor for the
// same id before the first is consumed overwrites it; that almost certainly
// means the setup collaborator staged the same call twice, so it is logged.
func (r *CallRegistry) Store(callID string, desc *agent.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.staged[callID]; ok {
		log.Warnf("call registry: overwriting staged descriptor for call %s", callID)
	}
	r.staged[callID] = desc
}

// Pop atomically reads and removes the descriptor for callID. It is the sole
// consumption path; a second Pop returns nil.
func (r *CallRegistry) Pop(callID string) *agent.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	desc := r.staged[callID]
	delete(r.staged, callID)
	return desc
}

// TryActivate atomically checks that agentName is not on a call and marks it
// active. It returns false, without marking, when the agent already is. The
// check and the mark are one step so two simultaneous setups cannot both
// observe "not active".
func (r *CallRegistry) TryActivate(agentName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[agentName]; ok {
		return false
	}
	r.active[agentName] = struct{}{}
	return true
}

// Release clears the agent's active flag. It is safe to call on an agent that
// is not active; teardown paths call it unconditionally.
func (r *CallRegistry) Release(agentName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, agentName)
}

// IsActive reports whether agentName is currently on a call.
func (r *CallRegistry) IsActive(agentName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[agentName]
	return ok
}
