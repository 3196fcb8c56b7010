package tool

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Refusal is a structured validation failure. It is returned as a tool
// result, not as an error, so an invalid call never crashes the turn; the
// model sees the refusal and can correct itself.
type Refusal struct {
	Success bool     `json:"success"`
	Refused bool     `json:"refused"`
	Reasons []string `json:"reasons"`
}

func (r *Refusal) String() string {
	return fmt.Sprintf("refused: %s", strings.Join(r.Reasons, "; "))
}

// ValidateArgs checks args against the spec's input schema. It returns a
// Refusal describing the violations, or nil when the arguments are valid.
// A spec without a schema accepts anything.
func (s *Spec) ValidateArgs(args map[string]any) *Refusal {
	if s.InputSchema == nil {
		return nil
	}
	schemaJSON, err := json.Marshal(s.InputSchema)
	if err != nil {
		return &Refusal{Refused: true, Reasons: []string{"internal: unmarshalable schema"}}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return &Refusal{Refused: true, Reasons: []string{fmt.Sprintf("schema validation failed: %v", err)}}
	}
	if result.Valid() {
		return nil
	}
	reasons := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}
	return &Refusal{Refused: true, Reasons: reasons}
}
