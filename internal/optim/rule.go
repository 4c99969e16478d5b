// Package optim implements the weight update rules applied by the backward
// engine after each batch.
//
// This package provides:
//   - Rule interface: one update step for one weight vector
//   - SGD: plain stochastic gradient descent
//   - Momentum: SGD with a velocity term
//   - Nesterov: SGD with Nesterov accelerated momentum
//   - Adam: adaptive moment estimation
//
// Rules are stateful. Velocities and moments are kept per (layer, vector)
// pair, so one Rule value serves a whole network. The engine calls Apply
// once per weight vector per batch, always from one goroutine.
//
// Example usage:
//
//	rule, err := optim.New("nesterov")
//	if err != nil {
//	    return err
//	}
//	step := engine.Step{LearningRate: 0.01, Momentum: 0.9, Rule: rule}
package optim

import (
	"slices"

	"github.com/born-ml/tessera/internal/neterr"
)

// Rule names accepted by New.
const (
	SGDName      = "sgd"
	MomentumName = "momentum"
	NesterovName = "nesterov"
	AdamName     = "adam"
)

// Param is one weight vector and its averaged gradient.
type Param struct {
	Layer  int // Layer index in schema order
	Vector int // Weight vector index within the layer

	Weights  []float32 // Updated in place
	Gradient []float32 // Mean gradient of the batch

	LearningRate float32
	WeightDecay  float32 // Zero for vectors excluded from weight decay
	Momentum     float32
}

// Rule updates weights from gradients.
type Rule interface {
	// Name returns the name New accepts for this rule.
	Name() string
	// Apply updates p.Weights.
	Apply(p Param)
	// Reset drops all accumulated state.
	Reset()
}

// New returns the rule registered under name.
func New(name string) (Rule, error) {
	switch name {
	case SGDName, "":
		return NewSGD(), nil
	case MomentumName:
		return NewMomentum(), nil
	case NesterovName:
		return NewNesterov(), nil
	case AdamName:
		return NewAdam(AdamConfig{}), nil
	}
	return nil, neterr.Configf("", "unknown update rule %q, expected one of %v", name, Names())
}

// Names lists the rule names.
func Names() []string {
	return []string{SGDName, MomentumName, NesterovName, AdamName}
}

type key struct{ layer, vector int }

// state keeps one float vector per weight vector.
type state map[key][]float32

// get returns the zero-initialized vector for p.
func (s state) get(p Param) []float32 {
	k := key{p.Layer, p.Vector}
	v, ok := s[k]
	if !ok || len(v) != len(p.Weights) {
		v = make([]float32, len(p.Weights))
		s[k] = v
	}
	return v
}

// decayed returns the gradient of element i including the L2 term.
func decayed(p Param, i int) float32 {
	return p.Gradient[i] + p.WeightDecay*p.Weights[i]
}

// snapshot returns a copy of the state vector of (layer, vector), or nil.
func snapshot(s state, layer, vector int) []float32 {
	return slices.Clone(s[key{layer, vector}])
}
