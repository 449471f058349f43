// Package config loads vicelink configuration from TOML with defaults and
// validation.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full vicelink configuration.
type Config struct {
	Monitor MonitorConfig `toml:"monitor"`
	Server  ServerConfig  `toml:"server"`
	Script  ScriptConfig  `toml:"script"`
}

// MonitorConfig describes the emulator connection.
type MonitorConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	Protocol         string `toml:"protocol"`
	ConnectTimeoutMS int    `toml:"connect_timeout_ms"`
	RequestTimeoutMS int    `toml:"request_timeout_ms"`
}

// ConnectTimeout returns the connect timeout as a duration.
func (m MonitorConfig) ConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeoutMS) * time.Millisecond
}

// RequestTimeout returns the per-request timeout as a duration.
func (m MonitorConfig) RequestTimeout() time.Duration {
	return time.Duration(m.RequestTimeoutMS) * time.Millisecond
}

// ServerConfig describes the tool server identity.
type ServerConfig struct {
	Name string `toml:"name"`
}

// ScriptConfig gates Lua automation.
type ScriptConfig struct {
	Enabled   bool `toml:"enabled"`
	TimeoutMS int  `toml:"timeout_ms"`
}

// Timeout returns the per-script timeout as a duration.
func (s ScriptConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			Host:             "127.0.0.1",
			Port:             6502,
			Protocol:         "v2",
			ConnectTimeoutMS: 5000,
			RequestTimeoutMS: 10000,
		},
		Server: ServerConfig{
			Name: "vicelink",
		},
		Script: ScriptConfig{
			Enabled:   true,
			TimeoutMS: 30000,
		},
	}
}

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads configuration from path, layered over defaults. A missing file
// is not an error; the defaults apply unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, &ParseError{Path: path, Message: err.Error(), Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Monitor.Port < 1 || c.Monitor.Port > 65535 {
		return fmt.Errorf("monitor port %d out of range", c.Monitor.Port)
	}
	switch c.Monitor.Protocol {
	case "classic", "v1", "v2":
	default:
		return fmt.Errorf("unknown monitor protocol %q (want classic, v1 or v2)", c.Monitor.Protocol)
	}
	if c.Monitor.ConnectTimeoutMS <= 0 || c.Monitor.RequestTimeoutMS <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Script.Enabled && c.Script.TimeoutMS <= 0 {
		return fmt.Errorf("script timeout must be positive")
	}
	return nil
}
