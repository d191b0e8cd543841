// Package log provides the logging infrastructure shared by all parley
// components.
//
// Loggers are injected, never global: each component receives a log.Logger in
// its constructor and may narrow it with logger.With("component", ...). Tests
// use NewNop() or NewWithWriter with a buffer to assert on output.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is a type alias for *slog.Logger. Using the standard library type
// directly keeps full compatibility with the slog ecosystem and avoids a
// bespoke interface.
type Logger = *slog.Logger

// Config defines logger options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo.
	Level slog.Level

	// JSON enables JSON output. Default: false (text).
	JSON bool

	// AddSource attaches source file positions to entries. Default: false.
	AddSource bool
}

// New creates a logger writing to os.Stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger writing to w. Useful for tests that inspect
// log output.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// NewNop returns a logger that discards everything. Test use only; production
// code should always run with a configured logger.
func NewNop() Logger {
	return slog.New(slog.DiscardHandler)
}
