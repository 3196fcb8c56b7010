// Package agent defines the named persona profiles the relay answers calls
// as, and the per-call runtime configuration derived from them.
package agent

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voicewire/relay/model"
)

// Defaults applied when a profile leaves a knob unset.
const (
	DefaultMaxHistory        = 40
	DefaultMaxToolIterations = 6
	DefaultMaxCallDuration   = 10 * time.Minute
)

// VoiceConfig holds the synthesis voice and prosody settings for one agent.
type VoiceConfig struct {
	// Name is the synthesis voice identifier.
	Name string `yaml:"name" json:"name"`

	// Language is the BCP-47 language tag.
	Language string `yaml:"language" json:"language"`

	// SupportsSSML marks voices that accept SSML markup.
	SupportsSSML bool `yaml:"supports_ssml" json:"supportsSsml"`

	// Speed is the transport's native speed parameter. When set, prosody is
	// handled by the transport and markup mode is off.
	Speed string `yaml:"speed" json:"speed,omitempty"`

	// Rate, Pitch and Volume are SSML prosody attributes. Empty means the
	// voice default.
	Rate   string `yaml:"rate" json:"rate,omitempty"`
	Pitch  string `yaml:"pitch" json:"pitch,omitempty"`
	Volume string `yaml:"volume" json:"volume,omitempty"`
}

// MarkupMode reports whether outbound text should be wrapped in SSML: the
// voice must support it, the transport must not already apply a native speed,
// and at least one prosody attribute must differ from the voice default.
func (v VoiceConfig) MarkupMode() bool {
	return v.SupportsSSML && v.Speed == "" &&
		(v.Rate != "" || v.Pitch != "" || v.Volume != "")
}

// RuntimeConfig is the merged, mutable configuration driving one call. It is
// owned by a single live connection; a "change model" or "reset" tool result
// mutates it in place and every later completion call in the same call must
// observe the mutation.
type RuntimeConfig struct {
	// Model is the active completion model id.
	Model string `yaml:"model" json:"model"`

	// BackupModel is swapped in once per turn when the primary fails.
	BackupModel string `yaml:"backup_model" json:"backupModel,omitempty"`

	// BackupTemperature and BackupMaxTokens override the generation knobs
	// when the backup model is active. Nil keeps the primary values.
	BackupTemperature *float64 `yaml:"backup_temperature" json:"backupTemperature,omitempty"`
	BackupMaxTokens   *int     `yaml:"backup_max_tokens" json:"backupMaxTokens,omitempty"`

	// Temperature and MaxTokens are the generation parameters.
	Temperature *float64 `yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens" json:"maxTokens,omitempty"`

	// Tools lists the registered tool names this agent may call.
	Tools []string `yaml:"tools" json:"tools,omitempty"`

	// SystemPrompt is the system turn template. Placeholders of the form
	// {{name}} are re-interpolated before every completion call; the
	// template itself is never mutated.
	SystemPrompt string `yaml:"system_prompt" json:"systemPrompt"`

	// Greeting is spoken as the first frame after setup, when set.
	Greeting string `yaml:"greeting" json:"greeting,omitempty"`

	// Voice holds the synthesis settings.
	Voice VoiceConfig `yaml:"voice" json:"voice"`

	// MaxHistory bounds the conversation history length. The system turn is
	// always retained.
	MaxHistory int `yaml:"max_history" json:"maxHistory,omitempty"`

	// MaxToolIterations bounds the tool loop within one turn.
	MaxToolIterations int `yaml:"max_tool_iterations" json:"maxToolIterations,omitempty"`

	// MaxCallDuration is the allotted call time; when less than five seconds
	// remain the relay says goodbye and hangs up.
	MaxCallDuration time.Duration `yaml:"-" json:"maxCallDuration,omitempty"`
}

// UnmarshalYAML decodes a profile, accepting Go duration strings ("10m",
// "90s") for max_call_duration.
func (c *RuntimeConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain RuntimeConfig
	aux := struct {
		plain           `yaml:",inline"`
		MaxCallDuration string `yaml:"max_call_duration"`
	}{}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	*c = RuntimeConfig(aux.plain)
	if aux.MaxCallDuration != "" {
		d, err := time.ParseDuration(aux.MaxCallDuration)
		if err != nil {
			return fmt.Errorf("max_call_duration: %w", err)
		}
		c.MaxCallDuration = d
	}
	return nil
}

// Normalize fills unset knobs with defaults.
func (c *RuntimeConfig) Normalize() {
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = DefaultMaxToolIterations
	}
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = DefaultMaxCallDuration
	}
}

// Clone returns a deep copy. Descriptors snapshot the profile config so one
// call's mutations never leak into the next call for the same agent.
func (c *RuntimeConfig) Clone() *RuntimeConfig {
	clone := *c
	clone.Tools = append([]string(nil), c.Tools...)
	clone.Temperature = clonePtr(c.Temperature)
	clone.MaxTokens = clonePtr(c.MaxTokens)
	clone.BackupTemperature = clonePtr(c.BackupTemperature)
	clone.BackupMaxTokens = clonePtr(c.BackupMaxTokens)
	return &clone
}

// ApplyModelChange swaps the active model and optional generation overrides.
func (c *RuntimeConfig) ApplyModelChange(modelName string, temperature *float64, maxTokens *int) {
	c.Model = modelName
	if temperature != nil {
		c.Temperature = clonePtr(temperature)
	}
	if maxTokens != nil {
		c.MaxTokens = clonePtr(maxTokens)
	}
}

// ApplyBackup swaps the backup model in after a primary failure.
func (c *RuntimeConfig) ApplyBackup() {
	c.ApplyModelChange(c.BackupModel, c.BackupTemperature, c.BackupMaxTokens)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Descriptor is a staged call: the resolved identity a new connection
// consumes exactly once when its setup frame arrives. Created by the external
// call-setup collaborator.
type Descriptor struct {
	// AgentName is the persona answering the call.
	AgentName string `json:"agentName"`

	// Config is the agent profile snapshot for this call.
	Config *RuntimeConfig `json:"config"`

	// SavedHistory seeds the conversation when a call is resumed.
	SavedHistory []model.Message `json:"savedHistory,omitempty"`

	// Resumed marks a re-established call.
	Resumed bool `json:"resumed,omitempty"`

	// CallerID is the caller's number or handle.
	CallerID string `json:"callerId"`

	// Extras carries collaborator-specific metadata.
	Extras map[string]string `json:"extras,omitempty"`
}
