// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/born-ml/tessera/internal/optim"
)

// Rule interface defines the common interface for all update rules.
type Rule = optim.Rule

// Param is the update of one weight vector of one layer.
type Param = optim.Param

// Rule names.
const (
	SGDName      = optim.SGDName
	MomentumName = optim.MomentumName
	NesterovName = optim.NesterovName
	AdamName     = optim.AdamName
)

// New returns the rule registered under name; an empty name selects SGD.
func New(name string) (Rule, error) {
	return optim.New(name)
}

// SGD (Stochastic Gradient Descent)

// SGD represents plain gradient descent.
type SGD = optim.SGD

// NewSGD creates a new SGD rule.
func NewSGD() *SGD {
	return optim.NewSGD()
}

// Momentum represents gradient descent with a velocity per weight vector.
type Momentum = optim.Momentum

// NewMomentum creates a new momentum rule.
//
// Example:
//
//	step := engine.Step{
//	    LearningRate: 0.01,
//	    Momentum:     0.9,
//	    Rule:         optim.NewMomentum(),
//	    Loss:         train.SquaredError{Target: "target"},
//	}
func NewMomentum() *Momentum {
	return optim.NewMomentum()
}

// Nesterov represents momentum with a look-ahead gradient.
type Nesterov = optim.Nesterov

// NewNesterov creates a new Nesterov rule.
func NewNesterov() *Nesterov {
	return optim.NewNesterov()
}

// Adam (Adaptive Moment Estimation)

// Adam represents the Adam rule.
type Adam = optim.Adam

// AdamConfig contains configuration for the Adam rule.
type AdamConfig = optim.AdamConfig

// NewAdam creates a new Adam rule with bias correction.
//
// Example:
//
//	rule := optim.NewAdam(optim.AdamConfig{
//	    Betas: [2]float32{0.9, 0.999},
//	    Eps:   1e-8,
//	})
func NewAdam(config AdamConfig) *Adam {
	return optim.NewAdam(config)
}
