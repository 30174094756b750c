// Package logging configures the process-wide log/slog logger for the
// RoomChat server and client.
//
// Log levels from most to least verbose: DEBUG, INFO, WARN, ERROR.
// Command-line flags take precedence; ROOMCHAT_LOG_LEVEL and
// ROOMCHAT_LOG_FORMAT provide defaults.
//
// Usage:
//
//	opts, _ := logging.LoadOptionsFromEnv()
//	logging.Setup(opts)
//	slog.Info("chat listener ready", "addr", addr)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Options controls how logging is configured.
type Options struct {
	Level  string    // "debug", "info", "warn", "error" (default: "info")
	Format string    // "text" or "json" (default: "text")
	Output io.Writer // where to write logs (default: os.Stdout)
}

type envOptions struct {
	Level  string `env:"ROOMCHAT_LOG_LEVEL" envDefault:"info"`
	Format string `env:"ROOMCHAT_LOG_FORMAT" envDefault:"text"`
}

// LoadOptionsFromEnv reads the level and format from the environment.
func LoadOptionsFromEnv() (Options, error) {
	var eo envOptions
	if err := env.Parse(&eo); err != nil {
		return Options{}, fmt.Errorf("logging: parse env: %w", err)
	}
	return Options{Level: eo.Level, Format: eo.Format}, nil
}

// ParseLevel converts a string level name to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New builds a logger from opts without installing it.
func New(opts Options) (*slog.Logger, error) {
	if err := Validate(opts.Level); err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		return slog.New(slog.NewJSONHandler(out, handlerOpts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(out, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (valid: text, json)", opts.Format)
	}
}

// Setup installs the logger described by opts as the slog default.
// Call it early in main() before any logging occurs.
func Setup(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// LevelNames returns all valid level names, useful for --help text.
func LevelNames() string {
	return "debug, info, warn, error"
}

// Validate returns an error if the level string is not recognized.
func Validate(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error", "":
		return nil
	default:
		return fmt.Errorf("unknown log level %q (valid: %s)", level, LevelNames())
	}
}
