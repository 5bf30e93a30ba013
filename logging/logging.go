// Package logging builds the zerolog loggers used by the server and CLI.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to stderr.
// An unknown level falls back to info. If human is true, uses a console writer.
func New(level string, human bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, level, human)
}

func NewWithWriter(w io.Writer, level string, human bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if human {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
