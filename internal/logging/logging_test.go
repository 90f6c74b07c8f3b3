package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitializeWithFileLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clawline.log")

	err := Initialize(Config{
		Level:   "debug",
		FileLog: &FileLogConfig{Path: path},
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Close()

	Get().Debug("hello from test")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	if err := Close(); err != nil {
		t.Errorf("Close on fresh state: %v", err)
	}
	if err := Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestWithComponent(t *testing.T) {
	if Gateway() == nil || Chat() == nil || Identity() == nil || CLI() == nil {
		t.Fatal("component loggers must never be nil")
	}
}
