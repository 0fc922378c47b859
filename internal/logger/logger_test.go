package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"garvis/internal/config"
)

func TestNew_JSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := newWithWriter(config.AppConfig{Env: "production", LogLevel: "info"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer()

	log.Info("agent registered", "agent", "TaskManager")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, buf.String())
	}
	if entry["msg"] != "agent registered" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["service"] != "garvis" || entry["environment"] != "production" {
		t.Errorf("missing default attributes: %v", entry)
	}
	if entry["agent"] != "TaskManager" {
		t.Errorf("agent = %v", entry["agent"])
	}
}

func TestNew_TextInDevelopment(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := newWithWriter(config.AppConfig{Env: "development"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hello")
	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "service=garvis") {
		t.Fatalf("expected text output, got %q", out)
	}
}

func TestNew_ExplicitFormatWins(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := newWithWriter(config.AppConfig{Env: "development", LogFormat: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hello")
	if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Fatalf("expected JSON, got %q", buf.String())
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := newWithWriter(config.AppConfig{Env: "test", LogLevel: "warn"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level not applied: %q", buf.String())
	}
}

func TestNew_AlsoWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "garvis.log")
	var buf bytes.Buffer
	log, closer, err := newWithWriter(config.AppConfig{Env: "production", LogFile: path}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("to both")
	if err := closer(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to both") || !strings.Contains(buf.String(), "to both") {
		t.Fatalf("file=%q stderr=%q", data, buf.String())
	}
}

func TestNew_BadFilePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := New(config.AppConfig{LogFile: filepath.Join(blocker, "x.log")}); err == nil {
		t.Fatal("expected error when log dir is a file")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
