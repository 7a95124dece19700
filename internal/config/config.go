// Package config holds the runtime configuration for the forge backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Values come from an optional
// YAML file, environment variables, and CLI flags, in that order.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Model     ModelConfig     `yaml:"model"`
	Limits    LimitsConfig    `yaml:"limits"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`

	// StateDir is where sessions, checkpoints, and the projects registry
	// are persisted. Default: ~/.forge
	StateDir string `yaml:"state_dir"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WorkspaceConfig names the workspace the agent operates on.
type WorkspaceConfig struct {
	// Dir is the local workspace root. Mutually exclusive with SSH.
	Dir string `yaml:"dir"`

	// SSH is a composite "user@host[:port]:/dir" for remote workspaces.
	SSH string `yaml:"ssh"`

	// SSHKey is the path to the private key used for SSH workspaces.
	SSHKey string `yaml:"ssh_key"`
}

// ModelConfig configures the LLM provider.
type ModelConfig struct {
	// Model is the model id passed to the provider.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	// Default: ANTHROPIC_API_KEY
	APIKeyEnv string `yaml:"api_key_env"`

	// MaxTokens caps tokens per model response.
	MaxTokens int `yaml:"max_tokens"`

	// ContextWindow is the model context size used for the per-turn
	// context-usage percentage.
	ContextWindow int `yaml:"context_window"`

	// MaxRetries bounds stream retry attempts before stream_failed.
	MaxRetries int `yaml:"max_retries"`

	// IdleTimeout triggers a stream retry when no event arrives.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// LimitsConfig bounds tool execution.
type LimitsConfig struct {
	// CommandTimeout is the default shell command timeout.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// OutputWindow caps the rolling shell output buffer in bytes.
	OutputWindow int `yaml:"output_window"`

	// MaxIterations caps model/tool round trips per turn.
	MaxIterations int `yaml:"max_iterations"`

	// DenyPatterns lists shell command substrings refused per turn.
	DenyPatterns []string `yaml:"deny_patterns"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OTLP span export. Tracing stays off until an
// endpoint is set.
type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// SampleRate is the fraction of turns traced, 0 to 1. Default: 1.
	SampleRate float64 `yaml:"sample_rate"`

	// Insecure disables TLS on the exporter connection.
	Insecure bool `yaml:"insecure"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8135,
		},
		Model: ModelConfig{
			Model:         "claude-sonnet-4-20250514",
			APIKeyEnv:     "ANTHROPIC_API_KEY",
			MaxTokens:     8192,
			ContextWindow: 200000,
			MaxRetries:    3,
			IdleTimeout:   90 * time.Second,
		},
		Limits: LimitsConfig{
			CommandTimeout: 120 * time.Second,
			OutputWindow:   50_000,
			MaxIterations:  50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		StateDir: filepath.Join(home, ".forge"),
	}
}

// Load reads the YAML file at path on top of defaults. An empty path
// returns defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for fatal inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Workspace.Dir != "" && c.Workspace.SSH != "" {
		return fmt.Errorf("workspace dir and ssh are mutually exclusive")
	}
	if c.Workspace.SSH != "" {
		if _, err := ParseSSHTarget(c.Workspace.SSH); err != nil {
			return err
		}
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model max_tokens must be positive")
	}
	if c.Limits.OutputWindow <= 0 {
		return fmt.Errorf("limits output_window must be positive")
	}
	return nil
}

// APIKey resolves the provider API key from the configured env var.
func (c *Config) APIKey() string {
	env := c.Model.APIKeyEnv
	if env == "" {
		env = "ANTHROPIC_API_KEY"
	}
	return os.Getenv(env)
}

// SSHTarget is a parsed "user@host[:port]:/dir" workspace locator.
type SSHTarget struct {
	User string
	Host string
	Port int
	Dir  string
}

// String reassembles the canonical composite form.
func (t SSHTarget) String() string {
	return fmt.Sprintf("%s@%s:%d:%s", t.User, t.Host, t.Port, t.Dir)
}

// ParseSSHTarget parses "user@host[:port]:/dir". The port defaults to 22.
func ParseSSHTarget(raw string) (SSHTarget, error) {
	target := SSHTarget{Port: 22}
	at := strings.Index(raw, "@")
	if at <= 0 {
		return target, fmt.Errorf("ssh target %q: missing user", raw)
	}
	target.User = raw[:at]
	rest := raw[at+1:]

	// host[:port]:/dir — the directory part always starts with a slash.
	slash := strings.Index(rest, ":/")
	if slash < 0 {
		return target, fmt.Errorf("ssh target %q: missing directory", raw)
	}
	hostPart := rest[:slash]
	target.Dir = rest[slash+1:]

	if colon := strings.Index(hostPart, ":"); colon >= 0 {
		target.Host = hostPart[:colon]
		var port int
		if _, err := fmt.Sscanf(hostPart[colon+1:], "%d", &port); err != nil || port <= 0 {
			return target, fmt.Errorf("ssh target %q: bad port", raw)
		}
		target.Port = port
	} else {
		target.Host = hostPart
	}
	if target.Host == "" {
		return target, fmt.Errorf("ssh target %q: missing host", raw)
	}
	return target, nil
}
