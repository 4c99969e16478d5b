// Package backend defines the execution unit contract between the engines
// and the arithmetic implementations, and the per-engine dispatch table that
// maps layer types to unit factories.
//
// Buffer layout: every tensor slice holds entries back to back; within an
// entry feature maps are stored one after another and dimension 0 varies
// fastest inside a feature map.
package backend

import (
	"github.com/born-ml/tessera/internal/layer"
)

// Requirements declares scratch space a unit needs beyond its input and
// output buffers, counted in float32 elements.
type Requirements struct {
	Fixed    int // Independent of the batch size
	PerEntry int // Per physical input entry
}

// Floats returns the scratch size for entries physical input entries.
func (r Requirements) Floats(entries int) int {
	return r.Fixed + r.PerEntry*entries
}

// Spec describes the layer instance a unit is created for.
type Spec struct {
	Layer  layer.Layer
	Inputs []layer.Configuration
	Output layer.Configuration
}

// Pass carries the buffers of one batch through a unit. Entries counts the
// physical entries of the inputs; the output holds Entries times the
// layer's tiling factor.
type Pass struct {
	Entries int
	Inputs  [][]float32
	Output  []float32
	Weights [][]float32
	Custom  [][]float32
	Scratch []float32

	// Training buffers. Units add into InputErrors and Gradients; the
	// engine clears them. A nil InputErrors element means that input needs
	// no error.
	OutputErrors []float32
	InputErrors  [][]float32
	Gradients    [][]float32
}

// OutputEntries returns the physical output entry count for a layer.
func (p *Pass) OutputEntries(l layer.Layer) int {
	n, _ := l.TilingFactor().Entries(p.Entries)
	return n
}

// Tester runs the forward pass of one layer.
type Tester interface {
	// InPlaceInput returns the input index whose buffer the output may
	// share, or -1.
	InPlaceInput() int
	// Requirements declares scratch space.
	Requirements() Requirements
	// Forward computes Output from Inputs.
	Forward(p *Pass) error
}

// Updater runs forward, backward-data and weight gradient passes.
type Updater interface {
	Tester
	// BackwardData adds the error of input i to InputErrors[i].
	BackwardData(p *Pass, input int) error
	// UpdateWeights adds the weight gradients of the batch to Gradients.
	UpdateWeights(p *Pass) error
	// FusedBackward reports whether BackwardDataAndWeights replaces the
	// two calls above.
	FusedBackward() bool
	// BackwardDataAndWeights computes every non-nil InputErrors element and
	// the weight gradients in one call.
	BackwardDataAndWeights(p *Pass) error
}

// Factory creates units for one layer type. NewUpdater is nil when the
// backend only supports inference for the type.
type Factory struct {
	NewTester  func(spec Spec) (Tester, error)
	NewUpdater func(spec Spec) (Updater, error)
}
