package app

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a configured slog.Logger based on configuration. Every
// record carries the service name and environment.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: parseLevel("")}
	format, env := "pretty", "development"
	if cfg != nil {
		opts.Level = parseLevel(cfg.LogLevel)
		format, env = cfg.LogFormat, cfg.AppEnv
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("service", "backoffice"), slog.String("env", env))
}

func parseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
