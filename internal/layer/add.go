package layer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/neterr"
)

// Add sums equally shaped inputs and scales the result by Alpha.
type Add struct {
	Base  `yaml:",inline"`
	Alpha float32 `yaml:"alpha"`
}

// NewAdd creates an unscaled sum over the given inputs.
func NewAdd(name string, inputs ...string) *Add {
	l := &Add{Base: Base{InstanceName: name}, Alpha: 1}
	l.Bind(inputs...)
	return l
}

// TypeName returns "Add".
func (l *Add) TypeName() string { return AddType }

// TypeID returns the persisted type identifier.
func (l *Add) TypeID() uuid.UUID { return addID }

// Clone returns a deep copy.
func (l *Add) Clone() Layer {
	return &Add{Base: l.cloneBase(), Alpha: l.Alpha}
}

// Check requires at least two inputs.
func (l *Add) Check() error {
	if len(l.InputNames) < 2 {
		return neterr.Configf(l.InstanceName, "expected at least 2 inputs, got %d", len(l.InputNames))
	}
	return nil
}

// OutputConfiguration requires all inputs to share one shape.
func (l *Add) OutputConfiguration(inputs []Configuration) (Configuration, error) {
	if len(inputs) < 2 {
		return Configuration{}, neterr.Configf(l.InstanceName, "expected at least 2 inputs, got %d", len(inputs))
	}
	for i := 1; i < len(inputs); i++ {
		if !inputs[i].Equal(inputs[0]) {
			return Configuration{}, neterr.Configf(l.InstanceName, "input %d configuration %s doesn't match input 0 configuration %s", i, inputs[i], inputs[0])
		}
	}
	return inputs[0].Clone(), nil
}

// Flops counts one addition per input neuron.
func (l *Add) Flops(inputs []Configuration, action Action) float64 {
	if len(inputs) == 0 || action.Kind == KindUpdateWeights {
		return 0
	}
	if action.Kind == KindBackwardData {
		return float64(inputs[0].NeuronCount())
	}
	return float64(inputs[0].NeuronCount() * len(inputs))
}

// ParameterStrings describes the scale.
func (l *Add) ParameterStrings() []string {
	if l.Alpha == 1 {
		return nil
	}
	return []string{fmt.Sprintf("alpha %g", l.Alpha)}
}

// MarshalParams encodes the scale.
func (l *Add) MarshalParams() []byte {
	var e paramEncoder
	e.float(1, l.Alpha, 1)
	return e.b
}

// UnmarshalParams decodes the scale; absent means 1.
func (l *Add) UnmarshalParams(b []byte) error {
	f, err := decodeParams(l.InstanceName, b)
	if err != nil {
		return err
	}
	l.Alpha = f.float(1, 1)
	return nil
}
