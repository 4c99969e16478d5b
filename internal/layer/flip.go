package layer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/neterr"
)

// Flip doubles every entry: physical output entry 2i is input entry i as is,
// entry 2i+1 is mirrored along Dimension.
type Flip struct {
	Base      `yaml:",inline"`
	Dimension int `yaml:"dimension"`
}

// NewFlip creates a flip around the given dimension.
func NewFlip(name string, dimension int) *Flip {
	return &Flip{Base: Base{InstanceName: name}, Dimension: dimension}
}

// TypeName returns "Flip".
func (l *Flip) TypeName() string { return FlipType }

// TypeID returns the persisted type identifier.
func (l *Flip) TypeID() uuid.UUID { return flipID }

// Clone returns a deep copy.
func (l *Flip) Clone() Layer {
	return &Flip{Base: l.cloneBase(), Dimension: l.Dimension}
}

// Check validates the dimension.
func (l *Flip) Check() error {
	if l.Dimension < 0 {
		return neterr.Configf(l.InstanceName, "flip dimension %d must not be negative", l.Dimension)
	}
	return nil
}

// OutputConfiguration preserves the input shape.
func (l *Flip) OutputConfiguration(inputs []Configuration) (Configuration, error) {
	in, err := l.single(inputs)
	if err != nil {
		return Configuration{}, err
	}
	if l.Dimension >= len(in.Dims) {
		return Configuration{}, neterr.Configf(l.InstanceName, "flip dimension %d out of range for %d-dimensional input", l.Dimension, len(in.Dims))
	}
	return in.Clone(), nil
}

// Flops counts one copy per output neuron.
func (l *Flip) Flops(inputs []Configuration, action Action) float64 {
	if len(inputs) != 1 || action.Kind == KindUpdateWeights {
		return 0
	}
	return float64(inputs[0].NeuronCount() * 2)
}

// TilingFactor is 2.
func (l *Flip) TilingFactor() TilingFactor { return Tiling(2) }

// ParameterStrings describes the dimension.
func (l *Flip) ParameterStrings() []string {
	return []string{fmt.Sprintf("dimension %d", l.Dimension)}
}

// MarshalParams encodes the dimension.
func (l *Flip) MarshalParams() []byte {
	var e paramEncoder
	e.int(1, l.Dimension, 0)
	return e.b
}

// UnmarshalParams decodes the dimension.
func (l *Flip) UnmarshalParams(b []byte) error {
	f, err := decodeParams(l.InstanceName, b)
	if err != nil {
		return err
	}
	l.Dimension = f.int(1, 0)
	return nil
}
