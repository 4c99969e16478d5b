package layer

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/neterr"
)

// Convolution is an N-dimensional convolution with zero padding and a bias
// per output feature map.
//
// Weights are laid out as [output][input][window...] followed by a separate
// bias vector of length OutputFeatureMaps.
type Convolution struct {
	Base              `yaml:",inline"`
	WindowSizes       []int `yaml:"window_sizes"`
	InputFeatureMaps  int   `yaml:"input_feature_maps"`
	OutputFeatureMaps int   `yaml:"output_feature_maps"`
	LeftPadding       []int `yaml:"left_padding,omitempty"`
	RightPadding      []int `yaml:"right_padding,omitempty"`
}

// NewConvolution creates a convolution without padding.
func NewConvolution(name string, windowSizes []int, inputFeatureMaps, outputFeatureMaps int) *Convolution {
	return &Convolution{
		Base:              Base{InstanceName: name},
		WindowSizes:       slices.Clone(windowSizes),
		InputFeatureMaps:  inputFeatureMaps,
		OutputFeatureMaps: outputFeatureMaps,
	}
}

// TypeName returns "Convolution".
func (l *Convolution) TypeName() string { return ConvolutionType }

// TypeID returns the persisted type identifier.
func (l *Convolution) TypeID() uuid.UUID { return convolutionID }

// Clone returns a deep copy.
func (l *Convolution) Clone() Layer {
	return &Convolution{
		Base:              l.cloneBase(),
		WindowSizes:       slices.Clone(l.WindowSizes),
		InputFeatureMaps:  l.InputFeatureMaps,
		OutputFeatureMaps: l.OutputFeatureMaps,
		LeftPadding:       slices.Clone(l.LeftPadding),
		RightPadding:      slices.Clone(l.RightPadding),
	}
}

// Padding returns the left and right padding of dimension d.
func (l *Convolution) Padding(d int) (left, right int) {
	if d < len(l.LeftPadding) {
		left = l.LeftPadding[d]
	}
	if d < len(l.RightPadding) {
		right = l.RightPadding[d]
	}
	return left, right
}

// Check validates the parameters.
func (l *Convolution) Check() error {
	if len(l.WindowSizes) == 0 {
		return neterr.Configf(l.InstanceName, "window sizes are empty")
	}
	for d, w := range l.WindowSizes {
		if w <= 0 {
			return neterr.Configf(l.InstanceName, "window size %d for dimension %d must be positive", w, d)
		}
	}
	if l.InputFeatureMaps <= 0 || l.OutputFeatureMaps <= 0 {
		return neterr.Configf(l.InstanceName, "feature map counts must be positive, got %d -> %d", l.InputFeatureMaps, l.OutputFeatureMaps)
	}
	for _, pad := range [][]int{l.LeftPadding, l.RightPadding} {
		if len(pad) != 0 && len(pad) != len(l.WindowSizes) {
			return neterr.Configf(l.InstanceName, "padding has %d dimensions, window has %d", len(pad), len(l.WindowSizes))
		}
	}
	for d, w := range l.WindowSizes {
		left, right := l.Padding(d)
		if left < 0 || right < 0 || left >= w || right >= w {
			return neterr.Configf(l.InstanceName, "padding %d-%d for dimension %d must be in [0, %d)", left, right, d, w)
		}
	}
	return nil
}

// OutputConfiguration computes input + padding - window + 1 per dimension.
func (l *Convolution) OutputConfiguration(inputs []Configuration) (Configuration, error) {
	in, err := l.single(inputs)
	if err != nil {
		return Configuration{}, err
	}
	if in.FeatureMaps != l.InputFeatureMaps {
		return Configuration{}, neterr.Configf(l.InstanceName, "input feature map count %d doesn't match expected %d", in.FeatureMaps, l.InputFeatureMaps)
	}
	if len(in.Dims) != len(l.WindowSizes) {
		return Configuration{}, neterr.Configf(l.InstanceName, "input has %d dimensions, expected %d", len(in.Dims), len(l.WindowSizes))
	}
	out := Configuration{FeatureMaps: l.OutputFeatureMaps, Dims: make([]int, len(in.Dims))}
	for d, size := range in.Dims {
		left, right := l.Padding(d)
		padded := size + left + right
		if padded < l.WindowSizes[d] {
			return Configuration{}, neterr.Configf(l.InstanceName, "window size %d for dimension %d exceeds padded input size %d", l.WindowSizes[d], d, padded)
		}
		out.Dims[d] = padded - l.WindowSizes[d] + 1
	}
	return out, nil
}

// InputConfiguration computes output + window - 1 - padding per dimension.
func (l *Convolution) InputConfiguration(_ int, output Configuration) (Configuration, error) {
	if len(output.Dims) != len(l.WindowSizes) {
		return Configuration{}, neterr.Configf(l.InstanceName, "output has %d dimensions, expected %d", len(output.Dims), len(l.WindowSizes))
	}
	in := Configuration{FeatureMaps: l.InputFeatureMaps, Dims: make([]int, len(output.Dims))}
	for d, size := range output.Dims {
		left, right := l.Padding(d)
		in.Dims[d] = max(size+l.WindowSizes[d]-1-left-right, 1)
	}
	return in, nil
}

// Flops counts one multiply-add per weight per output neuron.
func (l *Convolution) Flops(inputs []Configuration, _ Action) float64 {
	out, err := l.OutputConfiguration(inputs)
	if err != nil {
		return 0
	}
	perNeuron := l.InputFeatureMaps * product(l.WindowSizes)
	return float64(out.NeuronCount()) * float64(perNeuron) * 2
}

// DataConfig returns the weight and bias vector sizes.
func (l *Convolution) DataConfig() DataConfig {
	return DataConfig{l.OutputFeatureMaps * l.InputFeatureMaps * product(l.WindowSizes), l.OutputFeatureMaps}
}

// WeightDecayParts applies decay to weights only, never to biases.
func (l *Convolution) WeightDecayParts() []int { return []int{0} }

// ParameterStrings describes the window, feature maps and padding.
func (l *Convolution) ParameterStrings() []string {
	s := []string{joinInts(l.WindowSizes, "x"), fmt.Sprintf("fm %d->%d", l.InputFeatureMaps, l.OutputFeatureMaps)}
	if len(l.LeftPadding) > 0 || len(l.RightPadding) > 0 {
		left := make([]int, len(l.WindowSizes))
		right := make([]int, len(l.WindowSizes))
		for d := range l.WindowSizes {
			left[d], right[d] = l.Padding(d)
		}
		s = append(s, fmt.Sprintf("pad %s/%s", joinInts(left, "x"), joinInts(right, "x")))
	}
	return s
}

// MarshalParams encodes the parameters.
func (l *Convolution) MarshalParams() []byte {
	var e paramEncoder
	e.ints(1, l.WindowSizes)
	e.int(2, l.InputFeatureMaps, 0)
	e.int(3, l.OutputFeatureMaps, 0)
	e.ints(4, l.LeftPadding)
	e.ints(5, l.RightPadding)
	return e.b
}

// UnmarshalParams decodes the parameters. Absent padding means none.
func (l *Convolution) UnmarshalParams(b []byte) error {
	f, err := decodeParams(l.InstanceName, b)
	if err != nil {
		return err
	}
	l.WindowSizes = f.ints(1)
	l.InputFeatureMaps = f.int(2, 0)
	l.OutputFeatureMaps = f.int(3, 0)
	l.LeftPadding = f.ints(4)
	l.RightPadding = f.ints(5)
	return nil
}

// Randomize fills the weights with Xavier uniform or orthogonal values and
// zeroes the biases.
func (l *Convolution) Randomize(data, _ [][]float32, rng *rand.Rand, opts RandomizeOptions) error {
	cfg := l.DataConfig()
	if len(data) != len(cfg) || len(data[0]) != cfg[0] || len(data[1]) != cfg[1] {
		return neterr.Dataf(l.InstanceName, "randomize: data doesn't satisfy layer configuration %v", []int(cfg))
	}
	window := product(l.WindowSizes)
	fanIn := l.InputFeatureMaps * window
	fanOut := l.OutputFeatureMaps * window
	if opts.Orthogonal {
		orthogonal(data[0], l.OutputFeatureMaps, fanIn, 1, rng)
	} else {
		xavierUniform(data[0], fanIn, fanOut, rng)
	}
	clear(data[1])
	return nil
}
