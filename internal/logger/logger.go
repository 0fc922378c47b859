// Package logger builds the process-wide *slog.Logger from configuration.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"garvis/internal/config"
)

const serviceName = "garvis"

// New returns a logger for cfg and a closer for any opened log file.
// Output goes to stderr, and also to cfg.LogFile when set.
func New(cfg config.AppConfig) (*slog.Logger, func() error, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.AppConfig, base io.Writer) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg.LogFile, base)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	switch format(cfg) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	log := slog.New(handler).With("service", serviceName, "environment", cfg.Env)
	return log, closer, nil
}

// format picks text for development and json elsewhere unless set explicitly.
func format(cfg config.AppConfig) string {
	if f := strings.ToLower(cfg.LogFormat); f != "" {
		return f
	}
	if cfg.Env == config.EnvDevelopment {
		return "text"
	}
	return "json"
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutput(path string, base io.Writer) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	if path == "" {
		return base, noop, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(base, f), f.Close, nil
}
