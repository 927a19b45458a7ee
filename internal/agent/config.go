// Package agent loads the vdeplug configuration file.
package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plexsphere/vdeplug/internal/plug"
	"github.com/plexsphere/vdeplug/internal/tap"
	"github.com/plexsphere/vdeplug/internal/vde"
)

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// AgentConfig is the top-level configuration for vdeplug. Command-line
// arguments override Device and Endpoint.
type AgentConfig struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// Device is the TAP device name.
	Device string `yaml:"device"`

	// Endpoint is the remote switch address.
	Endpoint string `yaml:"endpoint"`

	Tap tap.Config `yaml:"tap"`
	VDE vde.Config `yaml:"vde"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *AgentConfig) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.Tap.ApplyDefaults()
	c.VDE.ApplyDefaults()
}

// Validate checks that values are acceptable. Device and Endpoint may be
// empty here; see Plug.
func (c *AgentConfig) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent: config: invalid log_level %q", c.LogLevel)
	}
	if c.Device != "" {
		if err := tap.ValidateName(c.Device); err != nil {
			return fmt.Errorf("agent: config: %w", err)
		}
	}
	if err := c.Tap.Validate(); err != nil {
		return err
	}
	if err := c.VDE.Validate(); err != nil {
		return err
	}
	return nil
}

// Plug returns the session configuration.
func (c *AgentConfig) Plug() plug.Config {
	return plug.Config{Device: c.Device, Endpoint: c.Endpoint}
}

// DefaultConfig returns a validated configuration with defaults only.
func DefaultConfig() *AgentConfig {
	var cfg AgentConfig
	cfg.ApplyDefaults()
	return &cfg
}

// ParseConfig reads a YAML configuration file and returns an AgentConfig.
// It applies defaults and validates the configuration.
func ParseConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: config: read %s: %w", path, err)
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("agent: config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
