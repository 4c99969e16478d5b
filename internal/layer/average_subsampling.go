package layer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/neterr"
)

// AverageSubsampling averages non-overlapping windows. Besides spatial
// windows it can average groups of adjacent feature maps and groups of
// consecutive entries; the latter gives it a tiling factor of
// 1/EntrySubsampling.
type AverageSubsampling struct {
	Base                  `yaml:",inline"`
	SubsamplingSizes      []int `yaml:"subsampling_sizes"`
	FeatureMapSubsampling int   `yaml:"feature_map_subsampling_size,omitempty"`
	EntrySubsampling      int   `yaml:"entry_subsampling_size,omitempty"`
}

// NewAverageSubsampling creates a spatial average subsampling layer.
func NewAverageSubsampling(name string, sizes ...int) *AverageSubsampling {
	return &AverageSubsampling{
		Base:                  Base{InstanceName: name},
		SubsamplingSizes:      slices.Clone(sizes),
		FeatureMapSubsampling: 1,
		EntrySubsampling:      1,
	}
}

// TypeName returns "AverageSubsampling".
func (l *AverageSubsampling) TypeName() string { return AverageSubsamplingType }

// TypeID returns the persisted type identifier.
func (l *AverageSubsampling) TypeID() uuid.UUID { return averageSubsamplingID }

// Clone returns a deep copy.
func (l *AverageSubsampling) Clone() Layer {
	return &AverageSubsampling{
		Base:                  l.cloneBase(),
		SubsamplingSizes:      slices.Clone(l.SubsamplingSizes),
		FeatureMapSubsampling: l.FeatureMapSubsampling,
		EntrySubsampling:      l.EntrySubsampling,
	}
}

// FeatureMapFactor returns the feature map group size, at least 1.
func (l *AverageSubsampling) FeatureMapFactor() int { return max(l.FeatureMapSubsampling, 1) }

// EntryFactor returns the entry group size, at least 1.
func (l *AverageSubsampling) EntryFactor() int { return max(l.EntrySubsampling, 1) }

// WindowNeurons returns the number of input values averaged into one output.
func (l *AverageSubsampling) WindowNeurons() int {
	return product(l.SubsamplingSizes) * l.FeatureMapFactor() * l.EntryFactor()
}

// Check validates the parameters.
func (l *AverageSubsampling) Check() error {
	if len(l.SubsamplingSizes) == 0 {
		return neterr.Configf(l.InstanceName, "subsampling sizes are empty")
	}
	for d, s := range l.SubsamplingSizes {
		if s <= 0 {
			return neterr.Configf(l.InstanceName, "subsampling size %d for dimension %d must be positive", s, d)
		}
	}
	if l.FeatureMapSubsampling <= 0 {
		return neterr.Configf(l.InstanceName, "feature map subsampling size %d must be positive", l.FeatureMapSubsampling)
	}
	if l.EntrySubsampling <= 0 {
		return neterr.Configf(l.InstanceName, "entry subsampling size %d must be positive", l.EntrySubsampling)
	}
	return nil
}

// OutputConfiguration divides every dimension by its subsampling size.
func (l *AverageSubsampling) OutputConfiguration(inputs []Configuration) (Configuration, error) {
	in, err := l.single(inputs)
	if err != nil {
		return Configuration{}, err
	}
	if len(in.Dims) != len(l.SubsamplingSizes) {
		return Configuration{}, neterr.Configf(l.InstanceName, "input has %d dimensions, expected %d", len(in.Dims), len(l.SubsamplingSizes))
	}
	fm := l.FeatureMapFactor()
	if in.FeatureMaps%fm != 0 {
		return Configuration{}, neterr.Configf(l.InstanceName, "feature map count %d is not divisible by feature map subsampling size %d", in.FeatureMaps, fm)
	}
	out := Configuration{FeatureMaps: in.FeatureMaps / fm, Dims: make([]int, len(in.Dims))}
	for d, size := range in.Dims {
		s := l.SubsamplingSizes[d]
		if size < s {
			return Configuration{}, neterr.Configf(l.InstanceName, "input size %d of dimension %d is smaller than subsampling size %d", size, d, s)
		}
		if size%s != 0 {
			return Configuration{}, neterr.Configf(l.InstanceName, "input size %d of dimension %d is not divisible by subsampling size %d", size, d, s)
		}
		out.Dims[d] = size / s
	}
	return out, nil
}

// InputConfiguration multiplies every dimension by its subsampling size.
func (l *AverageSubsampling) InputConfiguration(_ int, output Configuration) (Configuration, error) {
	if len(output.Dims) != len(l.SubsamplingSizes) {
		return Configuration{}, neterr.Configf(l.InstanceName, "output has %d dimensions, expected %d", len(output.Dims), len(l.SubsamplingSizes))
	}
	in := Configuration{FeatureMaps: output.FeatureMaps * l.FeatureMapFactor(), Dims: make([]int, len(output.Dims))}
	for d, size := range output.Dims {
		in.Dims[d] = size * l.SubsamplingSizes[d]
	}
	return in, nil
}

// Flops counts one addition per averaged input on the forward pass and one
// multiplication per input neuron on the backward-data pass.
func (l *AverageSubsampling) Flops(inputs []Configuration, action Action) float64 {
	out, err := l.OutputConfiguration(inputs)
	if err != nil {
		return 0
	}
	switch action.Kind {
	case KindForward:
		return float64(out.NeuronCount()) * float64(l.WindowNeurons())
	case KindBackwardData:
		return float64(inputs[0].NeuronCount())
	default:
		return 0
	}
}

// TilingFactor is the inverse of the entry subsampling size.
func (l *AverageSubsampling) TilingFactor() TilingFactor {
	return Tiling(l.EntryFactor()).Inverse()
}

// ParameterStrings describes the window and group sizes.
func (l *AverageSubsampling) ParameterStrings() []string {
	var sb strings.Builder
	sb.WriteString(joinInts(l.SubsamplingSizes, "x"))
	if l.FeatureMapFactor() != 1 {
		fmt.Fprintf(&sb, ", fm %d", l.FeatureMapFactor())
	}
	if l.EntryFactor() != 1 {
		fmt.Fprintf(&sb, ", samples %d", l.EntryFactor())
	}
	return []string{sb.String()}
}

// MarshalParams encodes the parameters; group sizes of 1 are omitted.
func (l *AverageSubsampling) MarshalParams() []byte {
	var e paramEncoder
	e.ints(1, l.SubsamplingSizes)
	e.int(2, l.FeatureMapFactor(), 1)
	e.int(3, l.EntryFactor(), 1)
	return e.b
}

// UnmarshalParams decodes the parameters; absent group sizes default to 1.
func (l *AverageSubsampling) UnmarshalParams(b []byte) error {
	f, err := decodeParams(l.InstanceName, b)
	if err != nil {
		return err
	}
	l.SubsamplingSizes = f.ints(1)
	l.FeatureMapSubsampling = f.int(2, 1)
	l.EntrySubsampling = f.int(3, 1)
	return nil
}
