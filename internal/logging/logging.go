// Package logging builds the process-wide slog logger: text to stderr for
// interactive use, with optional rotated file output for long experiments.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configure the logger.
type Options struct {
	Level   string // debug, info, warn, error
	File    string // empty disables file output
	JSON    bool
	Verbose bool // shorthand for Level=debug
}

// New builds a logger from the given options and installs it as
// slog.Default.
func New(opts Options) (*slog.Logger, error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
	}

	var w io.Writer = os.Stderr
	if path := strings.TrimSpace(opts.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	var handler slog.Handler
	hopts := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log, nil
}
