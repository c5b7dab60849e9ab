// Package logger builds the structured slog loggers shared by every water-monitor command.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the slog handler used for output.
type Format string

const (
	// FormatJSON writes one JSON object per record (default, container friendly).
	FormatJSON Format = "json"
	// FormatText writes logfmt-style key=value records for local development.
	FormatText Format = "text"
)

// Config holds the configuration for the logger.
type Config struct {
	// Output is the writer to send logs to (defaults to os.Stdout).
	Output io.Writer
	// Format is the record encoding (defaults to FormatJSON).
	Format Format
	// Service, when set, is attached to every record as "service".
	Service string
	// Level is the minimum log level to output.
	Level slog.Level
	// AddSource adds source code position to log records.
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  slog.LevelInfo,
		Format: FormatJSON,
		Output: os.Stdout,
	}
}

// New creates a logger with the provided configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == FormatText {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	l := slog.New(handler)
	if cfg.Service != "" {
		l = l.With(slog.String("service", cfg.Service))
	}
	return l
}

// NewDefault creates a JSON logger at info level writing to stdout.
func NewDefault() *slog.Logger {
	return New(DefaultConfig())
}

// FromStrings builds a logger from the textual level and format found in configuration.
func FromStrings(level, format, service string) *slog.Logger {
	cfg := DefaultConfig()
	cfg.Level = ParseLevel(level)
	cfg.Format = ParseFormat(format)
	cfg.Service = service
	return New(cfg)
}

// ParseLevel converts a string to a slog.Level.
// Supported values: "debug", "info", "warn"/"warning", "error", case-insensitive.
// Returns slog.LevelInfo if the level string is not recognized.
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

// ParseFormat converts a string to a Format, defaulting to FormatJSON.
func ParseFormat(format string) Format {
	if strings.EqualFold(strings.TrimSpace(format), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

// ForComponent returns a child logger tagged with the component name.
func ForComponent(l *slog.Logger, component string, attrs ...slog.Attr) *slog.Logger {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("component", component))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return l.With(args...)
}
