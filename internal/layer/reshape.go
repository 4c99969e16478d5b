package layer

import (
	"slices"

	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/neterr"
)

// Reshape reinterprets an entry under a new shape without moving data. With
// no target declared it passes the input configuration through unchanged.
type Reshape struct {
	Base        `yaml:",inline"`
	FeatureMaps int   `yaml:"feature_maps,omitempty"`
	Dims        []int `yaml:"dims,omitempty"`
}

// NewReshape creates a reshape to the target configuration. A zero target
// keeps the input shape.
func NewReshape(name string, target Configuration) *Reshape {
	return &Reshape{Base: Base{InstanceName: name}, FeatureMaps: target.FeatureMaps, Dims: slices.Clone(target.Dims)}
}

// TypeName returns "Reshape".
func (l *Reshape) TypeName() string { return ReshapeType }

// TypeID returns the persisted type identifier.
func (l *Reshape) TypeID() uuid.UUID { return reshapeID }

// Clone returns a deep copy.
func (l *Reshape) Clone() Layer {
	return &Reshape{Base: l.cloneBase(), FeatureMaps: l.FeatureMaps, Dims: slices.Clone(l.Dims)}
}

// Identity reports whether no target shape is declared.
func (l *Reshape) Identity() bool { return l.FeatureMaps == 0 }

// Target returns the declared output shape.
func (l *Reshape) Target() Configuration {
	return Configuration{FeatureMaps: l.FeatureMaps, Dims: slices.Clone(l.Dims)}
}

// Check validates the target shape.
func (l *Reshape) Check() error {
	if l.Identity() {
		if len(l.Dims) != 0 {
			return neterr.Configf(l.InstanceName, "dimensions declared without a feature map count")
		}
		return nil
	}
	return l.Target().Validate(l.InstanceName)
}

// OutputConfiguration returns the target, which must hold as many neurons
// as the input.
func (l *Reshape) OutputConfiguration(inputs []Configuration) (Configuration, error) {
	in, err := l.single(inputs)
	if err != nil {
		return Configuration{}, err
	}
	if l.Identity() {
		return in.Clone(), nil
	}
	out := l.Target()
	if out.NeuronCount() != in.NeuronCount() {
		return Configuration{}, neterr.Configf(l.InstanceName, "target %s holds %d neurons, input %s holds %d", out, out.NeuronCount(), in, in.NeuronCount())
	}
	return out, nil
}

// InputConfiguration returns the output for an identity reshape and a
// single flat dimension of equal neuron count otherwise.
func (l *Reshape) InputConfiguration(_ int, output Configuration) (Configuration, error) {
	if l.Identity() {
		return output.Clone(), nil
	}
	return NewConfiguration(1, output.NeuronCount()), nil
}

// Flops is zero: reshape moves no data.
func (l *Reshape) Flops(_ []Configuration, _ Action) float64 { return 0 }

// ParameterStrings describes the target.
func (l *Reshape) ParameterStrings() []string {
	if l.Identity() {
		return nil
	}
	return []string{l.Target().String()}
}

// MarshalParams encodes the target.
func (l *Reshape) MarshalParams() []byte {
	var e paramEncoder
	e.int(1, l.FeatureMaps, 0)
	e.ints(2, l.Dims)
	return e.b
}

// UnmarshalParams decodes the target.
func (l *Reshape) UnmarshalParams(b []byte) error {
	f, err := decodeParams(l.InstanceName, b)
	if err != nil {
		return err
	}
	l.FeatureMaps = f.int(1, 0)
	l.Dims = f.ints(2)
	return nil
}
