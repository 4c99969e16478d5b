// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train runs training tasks over whole epochs.
//
// Example:
//
//	bwd, _ := engine.NewBackward(schema, cpu.New(0).Table(), nil)
//	_ = bwd.SetData(weights)
//	tr, err := train.New(bwd, train.Config{
//	    Epochs:       20,
//	    LearningRate: 0.05,
//	    Schedule:     train.StepDecay{Every: 5, Gamma: 0.5},
//	    Step: engine.Step{
//	        Momentum: 0.9,
//	        Rule:     optim.NewMomentum(),
//	        Loss:     train.SoftmaxCrossEntropy{Target: "label"},
//	    },
//	    CheckpointDir: "checkpoints",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	state, err := tr.Run(ctx, reader)
package train

import (
	"github.com/born-ml/tessera/internal/engine"
	"github.com/born-ml/tessera/internal/train"
)

// Config describes a training task.
type Config = train.Config

// Trainer drives a backward engine over whole epochs.
type Trainer = train.Trainer

// Option configures a Trainer.
type Option = train.Option

// WithLogger sets the logger of a Trainer.
var WithLogger = train.WithLogger

// EpochResult summarizes one epoch.
type EpochResult = train.EpochResult

// TaskState is the progress of a training task.
type TaskState = train.TaskState

// New validates cfg and returns a trainer for b.
func New(b *engine.Backward, cfg Config, opts ...Option) (*Trainer, error) {
	return train.New(b, cfg, opts...)
}

// Schedules

// Schedule maps an epoch to a learning rate.
type Schedule = train.Schedule

// Constant keeps the base rate.
type Constant = train.Constant

// StepDecay multiplies the rate by Gamma every Every epochs.
type StepDecay = train.StepDecay

// ExponentialDecay multiplies the rate by Gamma every epoch.
type ExponentialDecay = train.ExponentialDecay

// Losses

// SquaredError is ½Σ(y-t)² against a named reader input.
type SquaredError = train.SquaredError

// SoftmaxCrossEntropy scores a softmax of the output against a named reader
// input holding a distribution or a class index.
type SoftmaxCrossEntropy = train.SoftmaxCrossEntropy
