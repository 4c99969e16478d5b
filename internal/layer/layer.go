// Package layer defines the layer type system: the closed set of layer
// variants, their shape inference, cost estimates, data shapes, parameter
// records and weight initialization.
//
// Every variant implements Layer. A variant value is a plain description and
// owns no buffers; backends attach arithmetic through the dispatch table in
// package backend.
package layer

import (
	"math/rand"
	"slices"

	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/neterr"
)

// ActionKind selects the pass a cost estimate refers to.
type ActionKind int

// Action kinds.
const (
	KindForward ActionKind = iota
	KindBackwardData
	KindUpdateWeights
)

// Action is a unit of work performed by a layer for one entry.
type Action struct {
	Kind  ActionKind
	Input int // Input index for KindBackwardData
}

// Forward is the forward action.
var Forward = Action{Kind: KindForward}

// UpdateWeights is the weight gradient action.
var UpdateWeights = Action{Kind: KindUpdateWeights}

// BackwardData returns the backward-data action for input i.
func BackwardData(i int) Action {
	return Action{Kind: KindBackwardData, Input: i}
}

// RandomizeOptions controls weight initialization.
type RandomizeOptions struct {
	Orthogonal bool // Use orthogonal initialization where the variant supports it
}

// Layer is one node of a network graph.
type Layer interface {
	// TypeName returns the stable variant name, e.g. "Convolution".
	TypeName() string
	// TypeID returns the stable variant identifier used in persisted records.
	TypeID() uuid.UUID
	// Name returns the instance name, unique within a schema.
	Name() string
	// Inputs returns the names of the layers or external inputs this layer reads.
	Inputs() []string
	// Clone returns a deep copy.
	Clone() Layer
	// Check validates structural parameters.
	Check() error

	// OutputConfiguration infers the output shape from the input shapes.
	OutputConfiguration(inputs []Configuration) (Configuration, error)
	// InputConfiguration maps an output shape back to the shape required
	// at input index i.
	InputConfiguration(i int, output Configuration) (Configuration, error)
	// Flops estimates floating point operations per entry for an action.
	Flops(inputs []Configuration, action Action) float64

	// DataConfig returns the element count of each trainable weight vector.
	DataConfig() DataConfig
	// CustomDataConfig returns the element count of each non-gradient vector.
	CustomDataConfig() DataConfig
	// WeightDecayParts lists weight vectors subject to weight decay.
	WeightDecayParts() []int
	// CreateCustomData returns default custom data.
	CreateCustomData() [][]float32
	// TilingFactor returns how many physical output entries one input entry maps to.
	TilingFactor() TilingFactor
	// FusedBackward reports whether backward data and weight gradients
	// are computed by a single call.
	FusedBackward() bool

	// ParameterStrings describes the parameters for summaries.
	ParameterStrings() []string
	// MarshalParams encodes structural parameters.
	MarshalParams() []byte
	// UnmarshalParams decodes structural parameters, applying defaults
	// for absent fields.
	UnmarshalParams(b []byte) error
	// Randomize fills data and custom vectors.
	Randomize(data, custom [][]float32, rng *rand.Rand, opts RandomizeOptions) error
}

// Base carries the instance name and input bindings shared by every variant
// and supplies the default behavior of a layer without weights.
type Base struct {
	InstanceName string   `yaml:"name"`
	InputNames   []string `yaml:"inputs,omitempty"`
}

// Name returns the instance name.
func (b *Base) Name() string { return b.InstanceName }

// Inputs returns the input names.
func (b *Base) Inputs() []string { return b.InputNames }

// Bind sets the input names.
func (b *Base) Bind(inputs ...string) { b.InputNames = slices.Clone(inputs) }

func (b *Base) cloneBase() Base {
	return Base{InstanceName: b.InstanceName, InputNames: slices.Clone(b.InputNames)}
}

// InputConfiguration is the identity mapping.
func (b *Base) InputConfiguration(_ int, output Configuration) (Configuration, error) {
	return output.Clone(), nil
}

// DataConfig reports no weights.
func (b *Base) DataConfig() DataConfig { return nil }

// CustomDataConfig reports no custom data.
func (b *Base) CustomDataConfig() DataConfig { return nil }

// CreateCustomData returns no vectors.
func (b *Base) CreateCustomData() [][]float32 { return nil }

// WeightDecayParts reports no decayed vectors.
func (b *Base) WeightDecayParts() []int { return nil }

// TilingFactor is one.
func (b *Base) TilingFactor() TilingFactor { return One }

// FusedBackward is false.
func (b *Base) FusedBackward() bool { return false }

// ParameterStrings is empty.
func (b *Base) ParameterStrings() []string { return nil }

// Randomize does nothing.
func (b *Base) Randomize(_, _ [][]float32, _ *rand.Rand, _ RandomizeOptions) error { return nil }

// single validates that exactly one input configuration was supplied.
func (b *Base) single(inputs []Configuration) (Configuration, error) {
	if len(inputs) != 1 {
		return Configuration{}, neterr.Configf(b.InstanceName, "expected 1 input, got %d", len(inputs))
	}
	return inputs[0], nil
}

// Setter is implemented by layers that can be rebound to new inputs.
type Setter interface {
	Bind(inputs ...string)
}

// CreateCustomData allocates custom vectors per cfg filled with -1.
func CreateCustomData(cfg DataConfig) [][]float32 {
	out := make([][]float32, len(cfg))
	for i, n := range cfg {
		v := make([]float32, n)
		for j := range v {
			v[j] = -1
		}
		out[i] = v
	}
	return out
}

// HasWeights reports whether l declares trainable weights.
func HasWeights(l Layer) bool {
	return l.DataConfig().Total() > 0
}
