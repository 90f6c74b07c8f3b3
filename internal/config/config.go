// Package config handles configuration loading and management for Clawline.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the rc file leaves fields unset.
const (
	DefaultClientID   = "clawline"
	DefaultClientMode = "cli"
	DefaultRole       = "operator"
)

// GatewayConfig describes the gateway endpoint and the identity the client
// presents during the connect handshake.
type GatewayConfig struct {
	// URL is the WebSocket endpoint, ws:// or wss://.
	URL string
	// ClientID names this client installation to the gateway.
	ClientID string
	// ClientMode distinguishes surfaces (cli, ui) sharing a client id.
	ClientMode string
	// Role requested during the handshake.
	Role string
	// Scopes requested during the handshake.
	Scopes []string
	// Token is an optional bearer token folded into the signed payload.
	Token string
}

// LogConfig controls file logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error (default: info).
	Level string
	// File is the log file path; empty disables file logging.
	File string
	// JSON switches the file handler to JSON records.
	JSON bool
}

// Config is the complete Clawline configuration.
type Config struct {
	Gateway GatewayConfig
	Log     LogConfig
	// Session is the default session key the chat command binds to.
	Session string
	// Model is an optional default model for chat sends.
	Model string
}

// rawConfig mirrors the YAML layout of the rc file.
type rawConfig struct {
	Gateway struct {
		URL        string   `yaml:"url"`
		ClientID   string   `yaml:"client_id"`
		ClientMode string   `yaml:"client_mode"`
		Role       string   `yaml:"role"`
		Scopes     []string `yaml:"scopes"`
		Token      string   `yaml:"token"`
	} `yaml:"gateway"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
	Session string `yaml:"session"`
	Model   string `yaml:"model"`
}

// DefaultConfigPath returns the rc file path for the current platform,
// honoring the CLAWLINE_RC environment override.
func DefaultConfigPath() string {
	if envPath := os.Getenv("CLAWLINE_RC"); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		configDir = home
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			home, _ := os.UserHomeDir()
			configDir = home
		}
	}

	return filepath.Join(configDir, ".clawlinerc")
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &Config{
		Gateway: GatewayConfig{
			URL:        raw.Gateway.URL,
			ClientID:   raw.Gateway.ClientID,
			ClientMode: raw.Gateway.ClientMode,
			Role:       raw.Gateway.Role,
			Scopes:     raw.Gateway.Scopes,
			Token:      raw.Gateway.Token,
		},
		Log: LogConfig{
			Level: raw.Log.Level,
			File:  raw.Log.File,
			JSON:  raw.Log.JSON,
		},
		Session: raw.Session,
		Model:   raw.Model,
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with defaults applied and no gateway URL.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Gateway.ClientID == "" {
		c.Gateway.ClientID = DefaultClientID
	}
	if c.Gateway.ClientMode == "" {
		c.Gateway.ClientMode = DefaultClientMode
	}
	if c.Gateway.Role == "" {
		c.Gateway.Role = DefaultRole
	}
	if c.Session == "" {
		c.Session = "default"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("gateway.url must use ws:// or wss://, got %q", u.Scheme)
	}
	return nil
}
