package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models shiptrack.yml.
type Config struct {
	Workspace struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"workspace"`
	Policies struct {
		Approval struct {
			// AnyStage lifts the default restriction of feature
			// approve/reject to the review stage.
			AnyStage bool `yaml:"any_stage"`
			// RequireForDevelopment gates the approved -> development
			// stage transition on a recorded approval.
			RequireForDevelopment bool `yaml:"require_for_development"`
		} `yaml:"approval"`
		Rejection struct {
			MinReasonLength int `yaml:"min_reason_length"`
		} `yaml:"rejection"`
	} `yaml:"policies"`
	Sprints struct {
		DefaultDurationWeeks int `yaml:"default_duration_weeks"`
	} `yaml:"sprints"`
	Releases struct {
		// DefaultApprovers seeds the approval roster when a request
		// names no approvers explicitly.
		DefaultApprovers []string `yaml:"default_approvers"`
	} `yaml:"releases"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with st workspace config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	if c.Policies.Rejection.MinReasonLength < 0 {
		return fmt.Errorf("config.policies.rejection.min_reason_length must not be negative")
	}
	if d := c.Sprints.DefaultDurationWeeks; d < 1 || d > 4 {
		return fmt.Errorf("config.sprints.default_duration_weeks must be between 1 and 4")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// MinRejectionReason returns the configured minimum rejection reason
// length, defaulting to 10 characters.
func (c *Config) MinRejectionReason() int {
	if c == nil || c.Policies.Rejection.MinReasonLength == 0 {
		return 10
	}
	return c.Policies.Rejection.MinReasonLength
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "shiptrack.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, workspaceID, workspaceID))).Decode(&cfg)
	cfg.Workspace.ID = workspaceID
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID, workspaceID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workspace:
  id: %s
  name: %s

policies:
  approval:
    any_stage: false
    require_for_development: true
  rejection:
    min_reason_length: 10

sprints:
  default_duration_weeks: 2

releases:
  default_approvers: []
`
