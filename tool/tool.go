// Package tool defines the tool contract consumed by the completion
// orchestrator: a named capability behind a uniform schema+handler pair.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Handler executes one tool invocation. Arguments arrive already decoded from
// the model's JSON. A returned error is captured by the execution coordinator
// and surfaced to the model as an error result, never re-raised.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Category tags for tool specs.
const (
	CategoryControl  = "control"
	CategoryQuery    = "query"
	CategoryAction   = "action"
	CategoryFollowup = "followup"
)

// Declaration describes the metadata of a tool: its name, description and
// expected arguments.
type Declaration struct {
	// Name is the unique identifier of the tool.
	Name string `json:"name"`

	// Description explains the tool's purpose and functionality.
	Description string `json:"description"`

	// InputSchema defines the expected input in JSON schema format.
	InputSchema *Schema `json:"inputSchema"`
}

// Schema represents the structure of JSON Schema used for defining tool
// arguments, following the JSON Schema standard.
type Schema struct {
	// Type specifies the data type (e.g. "object", "string", "number").
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
	// Properties of the arguments, each with its own schema.
	Properties map[string]*Schema `json:"properties,omitempty"`
	// For array types, the schema of items in the array.
	Items *Schema `json:"items,omitempty"`
	// Enum restricts a value to a fixed set.
	Enum []string `json:"enum,omitempty"`
	// AdditionalProperties controls whether undeclared properties are allowed.
	AdditionalProperties any `json:"additionalProperties,omitempty"`
}

// Spec is a registered tool: the declaration plus everything the runtime
// needs to execute it and to keep a caller entertained while it runs.
type Spec struct {
	// Name is the unique identifier of the tool.
	Name string

	// Description explains the tool to the model.
	Description string

	// InputSchema validates the model-provided arguments.
	InputSchema *Schema

	// Handler performs the actual work.
	Handler Handler

	// PromptText is spoken to the caller when execution starts
	// ("Searching..."). Empty means the coordinator's default announcement.
	PromptText string

	// ThinkingPhrases are filler phrases emitted while the handler is still
	// running. An empty list means silence.
	ThinkingPhrases []string

	// Async marks a tool whose real work is dispatched to a background
	// worker; the turn continues with a pending placeholder result.
	Async bool

	// Category groups tools for configuration and reporting.
	Category string
}

// Declaration returns the spec's model-facing metadata.
func (s *Spec) Declaration() *Declaration {
	return &Declaration{
		Name:        s.Name,
		Description: s.Description,
		InputSchema: s.InputSchema,
	}
}

// Registry is the process-wide name-to-spec mapping. Specs are registered
// once at startup and immutable thereafter.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register adds a spec to the registry. Registering a nil spec, an unnamed
// spec or a duplicate name is an error.
func (r *Registry) Register(spec *Spec) error {
	if spec == nil || spec.Name == "" {
		return fmt.Errorf("tool: spec must have a name")
	}
	if spec.Handler == nil {
		return fmt.Errorf("tool %q: handler is required", spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[spec.Name]; ok {
		return fmt.Errorf("tool %q: already registered", spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

// MustRegister registers a spec and panics on error. Intended for startup
// wiring where a duplicate registration is a programming mistake.
func (r *Registry) MustRegister(spec *Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Get returns the spec for name, or nil if unknown.
func (r *Registry) Get(name string) *Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs[name]
}

// Declarations resolves a list of tool names into declarations, silently
// skipping names the registry does not know.
func (r *Registry) Declarations(names []string) []*Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decls := make([]*Declaration, 0, len(names))
	for _, name := range names {
		if spec, ok := r.specs[name]; ok {
			decls = append(decls, spec.Declaration())
		}
	}
	return decls
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	return names
}

// DecodeArgs decodes the model's raw JSON arguments into a map. A missing or
// empty payload decodes to an empty map so that no-argument tools work.
func DecodeArgs(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	return args, nil
}
