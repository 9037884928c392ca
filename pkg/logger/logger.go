// Package logger builds the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// New returns a tint-backed logger writing to stdout. Verbose enables
// debug level. Timestamps are UTC with millisecond precision so log lines
// line up with the written_at stamps in load metadata.
func New(verbose bool) *slog.Logger {
	return NewWithWriter(os.Stdout, verbose)
}

// NewWithWriter is New with an explicit sink, for tools that capture
// their own output.
func NewWithWriter(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.TimeValue(a.Value.Time().UTC())
			}
			// Empty string attrs carry no information; drop them.
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}
