// Package logging builds the process logger.
//
// Everything in stallcode logs through *slog.Logger handed down by
// constructors. This package only decides where the lines go and how
// they look: colourised text (tint) for a terminal or JSON for a log
// collector, optionally teed into a size-rotated file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options mirrors the log section of the config.
type Options struct {
	Level  string    // debug, info, warn or error
	Format string    // text or json
	File   string    // optional rotated log file
	Output io.Writer // console stream; nil means stdout
}

// ParseLevel maps a level name to slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// New returns a logger writing to opts.Output and, when opts.File is set,
// to a rotated file as well. The returned closer releases the file and is
// safe to call when no file is open.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := ParseLevel(opts.Level)

	var closer io.Closer = nopCloser{}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	console := out
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: creating log directory: %w", err)
		}
		sink := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MB
			MaxBackups: 7,
			MaxAge:     14, // days
			Compress:   true,
		}
		closer = sink
		out = io.MultiWriter(console, sink)
	}

	var handler slog.Handler
	switch opts.Format {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	default:
		// Colour codes only make sense when nothing else reads the stream.
		handler = tint.NewHandler(out, &tint.Options{
			Level:   level,
			NoColor: opts.File != "",
		})
	}

	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
