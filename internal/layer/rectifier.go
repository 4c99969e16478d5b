package layer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/neterr"
)

// Rectifier computes max(x, NegativeSlope*x) elementwise.
type Rectifier struct {
	Base          `yaml:",inline"`
	NegativeSlope float32 `yaml:"negative_slope,omitempty"`
}

// NewRectifier creates a plain rectifier.
func NewRectifier(name string) *Rectifier {
	return &Rectifier{Base: Base{InstanceName: name}}
}

// TypeName returns "Rectifier".
func (l *Rectifier) TypeName() string { return RectifierType }

// TypeID returns the persisted type identifier.
func (l *Rectifier) TypeID() uuid.UUID { return rectifierID }

// Clone returns a deep copy.
func (l *Rectifier) Clone() Layer {
	return &Rectifier{Base: l.cloneBase(), NegativeSlope: l.NegativeSlope}
}

// Check validates the slope.
func (l *Rectifier) Check() error {
	if l.NegativeSlope < 0 || l.NegativeSlope >= 1 {
		return neterr.Configf(l.InstanceName, "negative slope %g must be in [0, 1)", l.NegativeSlope)
	}
	return nil
}

// OutputConfiguration preserves the input shape.
func (l *Rectifier) OutputConfiguration(inputs []Configuration) (Configuration, error) {
	in, err := l.single(inputs)
	if err != nil {
		return Configuration{}, err
	}
	return in.Clone(), nil
}

// Flops counts one operation per neuron.
func (l *Rectifier) Flops(inputs []Configuration, action Action) float64 {
	if len(inputs) != 1 || action.Kind == KindUpdateWeights {
		return 0
	}
	return float64(inputs[0].NeuronCount())
}

// ParameterStrings describes the slope.
func (l *Rectifier) ParameterStrings() []string {
	if l.NegativeSlope == 0 {
		return nil
	}
	return []string{fmt.Sprintf("slope %g", l.NegativeSlope)}
}

// MarshalParams encodes the slope.
func (l *Rectifier) MarshalParams() []byte {
	var e paramEncoder
	e.float(1, l.NegativeSlope, 0)
	return e.b
}

// UnmarshalParams decodes the slope.
func (l *Rectifier) UnmarshalParams(b []byte) error {
	f, err := decodeParams(l.InstanceName, b)
	if err != nil {
		return err
	}
	l.NegativeSlope = f.float(1, 0)
	return nil
}
