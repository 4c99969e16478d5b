package layer

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/neterr"
)

// AffineParameterCount is the number of affine transform values per entry.
const AffineParameterCount = 6

// AffineGridGenerator turns 6 affine parameters per entry into a 2D sampling
// grid. Output feature map 0 holds x coordinates, feature map 1 holds y
// coordinates, both in normalized [-1, 1] space.
//
// With AdjustForZeroInit the identity transform is added to the parameters,
// so an all-zero input yields the identity grid.
type AffineGridGenerator struct {
	Base              `yaml:",inline"`
	OutputSizes       []int   `yaml:"output_sizes"`
	AdjustForZeroInit bool    `yaml:"adjust_for_zero_init"`
	WeightScale       float32 `yaml:"weight_scale"`
}

// NewAffineGridGenerator creates a generator for a width x height grid.
func NewAffineGridGenerator(name string, width, height int) *AffineGridGenerator {
	return &AffineGridGenerator{
		Base:              Base{InstanceName: name},
		OutputSizes:       []int{width, height},
		AdjustForZeroInit: true,
		WeightScale:       1,
	}
}

// TypeName returns "AffineGridGenerator".
func (l *AffineGridGenerator) TypeName() string { return AffineGridGeneratorType }

// TypeID returns the persisted type identifier.
func (l *AffineGridGenerator) TypeID() uuid.UUID { return affineGridGeneratorID }

// Clone returns a deep copy.
func (l *AffineGridGenerator) Clone() Layer {
	c := *l
	c.Base = l.cloneBase()
	c.OutputSizes = slices.Clone(l.OutputSizes)
	return &c
}

// Check validates the parameters.
func (l *AffineGridGenerator) Check() error {
	if len(l.OutputSizes) != 2 {
		return neterr.Configf(l.InstanceName, "output sizes must have 2 dimensions, got %d", len(l.OutputSizes))
	}
	for d, s := range l.OutputSizes {
		if s <= 0 {
			return neterr.Configf(l.InstanceName, "output size %d for dimension %d must be positive", s, d)
		}
	}
	if l.WeightScale == 0 {
		return neterr.Configf(l.InstanceName, "weight scale must not be zero")
	}
	return nil
}

// OutputConfiguration returns 2 feature maps of OutputSizes.
func (l *AffineGridGenerator) OutputConfiguration(inputs []Configuration) (Configuration, error) {
	in, err := l.single(inputs)
	if err != nil {
		return Configuration{}, err
	}
	if in.NeuronCount() != AffineParameterCount {
		return Configuration{}, neterr.Configf(l.InstanceName, "input neuron count %d doesn't match expected %d", in.NeuronCount(), AffineParameterCount)
	}
	return NewConfiguration(2, l.OutputSizes...), nil
}

// InputConfiguration returns the 6 affine parameters.
func (l *AffineGridGenerator) InputConfiguration(_ int, _ Configuration) (Configuration, error) {
	return NewConfiguration(AffineParameterCount), nil
}

// Flops counts 2 multiply-adds per coordinate and output feature map.
func (l *AffineGridGenerator) Flops(inputs []Configuration, action Action) float64 {
	out, err := l.OutputConfiguration(inputs)
	if err != nil || action.Kind == KindUpdateWeights {
		return 0
	}
	return float64(out.NeuronCount()) * 4
}

// ParameterStrings describes the grid.
func (l *AffineGridGenerator) ParameterStrings() []string {
	s := []string{joinInts(l.OutputSizes, "x")}
	if l.WeightScale != 1 {
		s = append(s, fmt.Sprintf("scale %g", l.WeightScale))
	}
	if !l.AdjustForZeroInit {
		s = append(s, "no zero-init adjustment")
	}
	return s
}

// MarshalParams encodes the parameters.
func (l *AffineGridGenerator) MarshalParams() []byte {
	var e paramEncoder
	e.ints(1, l.OutputSizes)
	e.bool(2, l.AdjustForZeroInit, true)
	e.float(3, l.WeightScale, 1)
	return e.b
}

// UnmarshalParams decodes the parameters. Absent fields default to zero-init
// adjustment and a weight scale of 1.
func (l *AffineGridGenerator) UnmarshalParams(b []byte) error {
	f, err := decodeParams(l.InstanceName, b)
	if err != nil {
		return err
	}
	l.OutputSizes = f.ints(1)
	l.AdjustForZeroInit = f.bool(2, true)
	l.WeightScale = f.float(3, 1)
	return nil
}
