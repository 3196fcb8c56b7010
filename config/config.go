// Package config loads the relay's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voicewire/relay/agent"
)

// OpenAI holds the completion backend settings. The API key comes from the
// OPENAI_API_KEY environment variable, never from the file.
type OpenAI struct {
	BaseURL string `yaml:"base_url"`
}

// Config is the top-level service configuration.
type Config struct {
	// Listen is the HTTP listen address, host:port.
	Listen string `yaml:"listen"`

	// LogLevel is one of debug, info, warn, error, fatal.
	LogLevel string `yaml:"log_level"`

	// TranscriptDB is the SQLite file path for transcripts. Empty keeps
	// transcripts in memory only.
	TranscriptDB string `yaml:"transcript_db"`

	// KeepAliveSource is an audio URL played while a tool runs.
	KeepAliveSource string `yaml:"keep_alive_source"`

	// FollowupWebhook is the endpoint the send_followup tool posts to. The
	// tool is only registered when this is set.
	FollowupWebhook string `yaml:"followup_webhook"`

	// ToolWorkers sizes the shared tool execution pool.
	ToolWorkers int `yaml:"tool_workers"`

	// DefaultAgent names the profile answering calls with no staged
	// descriptor.
	DefaultAgent string `yaml:"default_agent"`

	// Agents maps agent names to their profiles.
	Agents map[string]*agent.RuntimeConfig `yaml:"agents"`

	OpenAI OpenAI `yaml:"openai"`
}

const defaultToolWorkers = 32

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ToolWorkers <= 0 {
		c.ToolWorkers = defaultToolWorkers
	}
	if c.DefaultAgent == "" && len(c.Agents) == 1 {
		for name := range c.Agents {
			c.DefaultAgent = name
		}
	}
}

func (c *Config) validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: at least one agent profile is required")
	}
	if _, ok := c.Agents[c.DefaultAgent]; !ok {
		return fmt.Errorf("config: default_agent %q has no profile", c.DefaultAgent)
	}
	for name, profile := range c.Agents {
		if profile == nil {
			return fmt.Errorf("config: agent %q has an empty profile", name)
		}
		if profile.Model == "" {
			return fmt.Errorf("config: agent %q has no model", name)
		}
	}
	return nil
}

// Profile returns a deep copy of the named agent profile, or nil.
func (c *Config) Profile(name string) *agent.RuntimeConfig {
	profile, ok := c.Agents[name]
	if !ok {
		return nil
	}
	return profile.Clone()
}
