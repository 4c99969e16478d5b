// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"log/slog"

	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/engine"
	"github.com/born-ml/tessera/internal/schema"
)

// State is the lifecycle state of an engine.
type State = engine.State

// Engine states.
const (
	Unconfigured    = engine.Unconfigured
	DataBound       = engine.DataBound
	InputConfigured = engine.InputConfigured
	Planned         = engine.Planned
	Running         = engine.Running
)

// Option configures an engine.
type Option = engine.Option

// WithLogger sets the logger. Engines log nothing by default.
func WithLogger(l *slog.Logger) Option {
	return engine.WithLogger(l)
}

// WithMemoryBudget bounds the buffers of one batch, in bytes.
func WithMemoryBudget(bytes int64) Option {
	return engine.WithMemoryBudget(bytes)
}

// WithMaxEntries caps the logical entries per batch.
func WithMaxEntries(n int) Option {
	return engine.WithMaxEntries(n)
}

// Stats summarizes a run.
type Stats = engine.Stats

// TrainStats summarizes a training run.
type TrainStats = engine.TrainStats

// Forward

// Forward computes outputs of a network over a stream of entries.
type Forward = engine.Forward

// NewForward creates an inference engine writing the named outputs, or the
// schema's sinks when outputs is empty.
//
// Example:
//
//	fwd, err := engine.NewForward(schema, cpu.New(0).Table(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := fwd.SetData(weights); err != nil {
//	    log.Fatal(err)
//	}
//	stats, err := fwd.Run(ctx, reader, writer)
func NewForward(s *schema.Schema, table *backend.Table, outputs []string, opts ...Option) (*Forward, error) {
	return engine.NewForward(s, table, outputs, opts...)
}

// Backward

// Backward trains the bound network data on a stream of entries.
type Backward = engine.Backward

// Step holds the training policy of one Run.
type Step = engine.Step

// ErrorSource seeds the backward pass from outputs and targets.
type ErrorSource = engine.ErrorSource

// ErrorFunc adapts a function to ErrorSource.
type ErrorFunc = engine.ErrorFunc

// NewBackward creates a training engine seeding errors at outputs, or at
// the schema's sinks when outputs is empty.
//
// Example:
//
//	bwd, err := engine.NewBackward(schema, cpu.New(0).Table(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stats, err := bwd.Run(ctx, reader, nil, engine.Step{
//	    LearningRate: 0.01,
//	    Loss:         train.SquaredError{Target: "target"},
//	})
func NewBackward(s *schema.Schema, table *backend.Table, outputs []string, opts ...Option) (*Backward, error) {
	return engine.NewBackward(s, table, outputs, opts...)
}
