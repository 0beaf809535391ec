// Package gwlog centralizes logger construction and context propagation so
// every component logs through the same zerolog pipeline.
package gwlog

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process-wide base logger. pretty enables a human-readable
// console writer (for local `gateway serve` use); otherwise plain JSON lines
// are emitted, which is what a deployed gateway should ship to its log
// collector.
func New(pretty bool, level zerolog.Level) zerolog.Logger {
	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// FromContext returns the logger embedded in ctx (via zerolog.Ctx), falling
// back to fallback when the context carries none or it was disabled.
func FromContext(ctx context.Context, fallback *zerolog.Logger) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	return fallback
}
