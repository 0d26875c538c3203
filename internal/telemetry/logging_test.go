package telemetry

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logger, _, closer, err := NewLogger(dir, "info", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("session started", "period", "2025-Q3")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected at least one log line")
	}
	var entry map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "session started" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["period"] != "2025-Q3" {
		t.Errorf("period = %v", entry["period"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("expected renamed timestamp key")
	}
}

func TestNewLoggerRedactsSensitiveKeys(t *testing.T) {
	dir := t.TempDir()
	logger, _, closer, err := NewLogger(dir, "info", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("provider configured", "api_key", "sk-abcdef1234567890abcdef")
	closer.Close()

	data, err := os.ReadFile(filepath.Join(dir, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "sk-abcdef") {
		t.Fatal("api key leaked into log")
	}
	if !strings.Contains(string(data), "[REDACTED]") {
		t.Fatal("expected redaction placeholder")
	}
}

func TestNewLoggerLevelVarAdjustsAtRuntime(t *testing.T) {
	dir := t.TempDir()
	logger, lvl, closer, err := NewLogger(dir, "info", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("before raise")
	lvl.Set(slog.LevelDebug)
	logger.Debug("after raise")
	closer.Close()

	data, err := os.ReadFile(filepath.Join(dir, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "before raise") {
		t.Fatal("debug line written while level was info")
	}
	if !strings.Contains(string(data), "after raise") {
		t.Fatal("debug line missing after level lowered to debug")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
