package config

import (
	"strings"
	"testing"
)

func TestParseFullConfig(t *testing.T) {
	data := []byte(`
gateway:
  url: wss://gateway.example.com/ws
  client_id: my-laptop
  client_mode: ui
  role: admin
  scopes: [read, write]
  token: secret-token
log:
  level: debug
  file: /tmp/clawline.log
  json: true
session: work
model: fast-1
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Gateway.URL != "wss://gateway.example.com/ws" {
		t.Errorf("URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.ClientID != "my-laptop" || cfg.Gateway.ClientMode != "ui" || cfg.Gateway.Role != "admin" {
		t.Errorf("client fields mismatch: %+v", cfg.Gateway)
	}
	if len(cfg.Gateway.Scopes) != 2 || cfg.Gateway.Scopes[0] != "read" {
		t.Errorf("scopes mismatch: %v", cfg.Gateway.Scopes)
	}
	if cfg.Gateway.Token != "secret-token" {
		t.Errorf("token mismatch: %q", cfg.Gateway.Token)
	}
	if cfg.Log.Level != "debug" || cfg.Log.File != "/tmp/clawline.log" || !cfg.Log.JSON {
		t.Errorf("log config mismatch: %+v", cfg.Log)
	}
	if cfg.Session != "work" || cfg.Model != "fast-1" {
		t.Errorf("session/model mismatch: %q %q", cfg.Session, cfg.Model)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("gateway:\n  url: ws://localhost:9000\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Gateway.ClientID != DefaultClientID {
		t.Errorf("ClientID = %q, want %q", cfg.Gateway.ClientID, DefaultClientID)
	}
	if cfg.Gateway.ClientMode != DefaultClientMode {
		t.Errorf("ClientMode = %q, want %q", cfg.Gateway.ClientMode, DefaultClientMode)
	}
	if cfg.Gateway.Role != DefaultRole {
		t.Errorf("Role = %q, want %q", cfg.Gateway.Role, DefaultRole)
	}
	if cfg.Session != "default" {
		t.Errorf("Session = %q, want default", cfg.Session)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestParseRejectsMissingURL(t *testing.T) {
	if _, err := Parse([]byte("session: s\n")); err == nil {
		t.Error("expected an error when gateway.url is missing")
	}
}

func TestParseRejectsNonWebSocketScheme(t *testing.T) {
	_, err := Parse([]byte("gateway:\n  url: https://example.com\n"))
	if err == nil || !strings.Contains(err.Error(), "ws://") {
		t.Errorf("expected a scheme error, got %v", err)
	}
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("gateway: [unclosed")); err == nil {
		t.Error("expected a parse error")
	}
}

func TestDefaultConfigPathEnvOverride(t *testing.T) {
	t.Setenv("CLAWLINE_RC", "/custom/path/.clawlinerc")
	if got := DefaultConfigPath(); got != "/custom/path/.clawlinerc" {
		t.Errorf("DefaultConfigPath = %q", got)
	}
}

func TestDefaultConfigPathEndsWithRC(t *testing.T) {
	t.Setenv("CLAWLINE_RC", "")
	if got := DefaultConfigPath(); !strings.HasSuffix(got, ".clawlinerc") {
		t.Errorf("DefaultConfigPath = %q, want a .clawlinerc path", got)
	}
}

func TestDefaultHasNoURL(t *testing.T) {
	cfg := Default()
	if cfg.Gateway.URL != "" {
		t.Errorf("Default() should not invent a gateway URL, got %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.ClientID != DefaultClientID {
		t.Errorf("Default() missing defaults: %+v", cfg.Gateway)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Default() should not validate without a URL")
	}
}
