package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level %s, got %s", LevelInfo, cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("Expected default format %s, got %s", FormatText, cfg.Format)
	}
	if cfg.Output != "stdout" {
		t.Errorf("Expected default output stdout, got %s", cfg.Output)
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		name    string
		level   LogLevel
		debug   bool
		info    bool
		warning bool
	}{
		{"debug shows everything", LevelDebug, true, true, true},
		{"info hides debug", LevelInfo, false, true, true},
		{"warn hides info", LevelWarn, false, false, true},
		{"unknown falls back to info", LogLevel("loud"), false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(Config{Level: tt.level, Format: FormatText}, &buf)

			logger.Debug("debug-line")
			logger.Info("info-line")
			logger.Warn("warn-line")

			out := buf.String()
			if strings.Contains(out, "debug-line") != tt.debug {
				t.Errorf("debug visibility mismatch: %q", out)
			}
			if strings.Contains(out, "info-line") != tt.info {
				t.Errorf("info visibility mismatch: %q", out)
			}
			if strings.Contains(out, "warn-line") != tt.warning {
				t.Errorf("warn visibility mismatch: %q", out)
			}
		})
	}
}

func TestJSONActionHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf).
		WithComponent("orchestrator").
		WithCycle("cycle-1")

	logger.ErrorAction("action failed", "SSHHostKey", "10.0.0.7", errors.New("refused"), "port", 22)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode JSON log line: %v", err)
	}

	expected := map[string]any{
		"msg":       "action failed",
		"component": "orchestrator",
		"cycle_id":  "cycle-1",
		"action":    "SSHHostKey",
		"target":    "10.0.0.7",
		"error":     "refused",
		"port":      float64(22),
	}
	for k, v := range expected {
		if entry[k] != v {
			t.Errorf("field %s: expected %v, got %v", k, v, entry[k])
		}
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bifrost.log")

	logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: path})
	if err != nil {
		t.Fatalf("Failed to create file logger: %v", err)
	}
	logger.InfoRemediation("connected", "HomeNet")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "ssid=HomeNet") {
		t.Errorf("Expected ssid field in log file, got %q", string(data))
	}
}

func TestDefaultLoggerReplacement(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewWithWriter(DefaultConfig(), &buf))

	Default().InfoDaemon("daemon started", "pid", 42)
	slog.Warn("via slog")

	out := buf.String()
	if !strings.Contains(out, "component=daemon") {
		t.Errorf("Expected daemon component in output, got %q", out)
	}
	if !strings.Contains(out, "via slog") {
		t.Errorf("Expected slog default to be routed, got %q", out)
	}
}

func TestDiscardLogger(t *testing.T) {
	logger := NewDiscard().WithComponent("test")
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("Expected discard logger to be disabled")
	}
	logger.ErrorDaemon("dropped", errors.New("boom"))
}
