// Package logger builds the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	FormatJSON = "json"
	FormatText = "text"
)

type Options struct {
	Service   string
	Env       string
	Level     string
	AddSource bool
	// Format is FormatJSON (default) or FormatText for local development.
	Format string
	// Output defaults to stdout.
	Output io.Writer
}

// New returns a logger tagged with service and env and installs it as the
// slog default.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
	}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), FormatText) {
		h = slog.NewTextHandler(out, handlerOpts)
	} else {
		h = slog.NewJSONHandler(out, handlerOpts)
	}

	l := slog.New(h.WithAttrs([]slog.Attr{
		slog.String("service", opts.Service),
		slog.String("env", opts.Env),
	}))

	slog.SetDefault(l)
	return l
}

// ParseLevel maps a level name to its slog level. Unknown names are info.
func ParseLevel(lvl string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(lvl))); err != nil {
		if strings.EqualFold(strings.TrimSpace(lvl), "warning") {
			return slog.LevelWarn
		}
		return slog.LevelInfo
	}
	return level
}
