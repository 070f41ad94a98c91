package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

var (
	// ErrInvalidLevel is returned for unknown level names.
	ErrInvalidLevel = errors.New("invalid log level")
	// ErrInvalidFormat is returned for unknown output formats.
	ErrInvalidFormat = errors.New("invalid log format")
)

// Options configures NewLogger. Empty fields default to info and text.
type Options struct {
	Level  string
	Format string
}

// ParseLevel converts debug, info, warn (or warning), and error.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, name)
	}
}

// NewLogger returns a redacting logger writing to w.
func NewLogger(w io.Writer, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatText:
		handler = slog.NewTextHandler(w, handlerOpts)
	case FormatJSON:
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, opts.Format)
	}
	return slog.New(NewRedactingHandler(handler)), nil
}

// NewCLILogger returns a text logger for command-line use: debug when
// verbose, warnings only otherwise.
func NewCLILogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(NewRedactingHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
