package engine

import (
	"io"
	"log/slog"
	"math"
)

// Option configures an engine.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	budget     int64
	maxEntries int
}

func defaultOptions() options {
	return options{logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))}
}

// WithLogger sets the logger. Engines log nothing by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMemoryBudget bounds the buffers of one batch, in bytes. Zero means
// no bound.
func WithMemoryBudget(bytes int64) Option {
	return func(o *options) { o.budget = bytes }
}

// WithMaxEntries caps the logical entries per batch.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}
