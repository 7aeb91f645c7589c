package maggtomic

import (
	"io"
	"log/slog"
	"os"

	"github.com/polyneme/maggtomic/config"
)

// NewLogger builds a logger from the log section of a configuration.
// A nil w means stderr.
func NewLogger(w io.Writer, cfg config.Log) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch cfg.Format {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), nil
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
