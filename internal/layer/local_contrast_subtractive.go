package layer

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"
	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/neterr"
)

// LocalContrastSubtractive subtracts a gaussian-weighted local mean from the
// affected feature maps. The window of dimension d spans offsets
// -(WindowSizes[d]-1) .. WindowSizes[d]-1 around each neuron.
type LocalContrastSubtractive struct {
	Base                `yaml:",inline"`
	WindowSizes         []int `yaml:"window_sizes"`
	FeatureMapsAffected []int `yaml:"feature_maps_affected,omitempty"` // Empty means all
	FeatureMapCount     int   `yaml:"feature_map_count"`
}

// NewLocalContrastSubtractive creates a layer affecting every feature map.
func NewLocalContrastSubtractive(name string, windowSizes []int, featureMapCount int) *LocalContrastSubtractive {
	return &LocalContrastSubtractive{
		Base:            Base{InstanceName: name},
		WindowSizes:     slices.Clone(windowSizes),
		FeatureMapCount: featureMapCount,
	}
}

// TypeName returns "LocalContrastSubtractive".
func (l *LocalContrastSubtractive) TypeName() string { return LocalContrastSubtractiveType }

// TypeID returns the persisted type identifier.
func (l *LocalContrastSubtractive) TypeID() uuid.UUID { return localContrastSubtractiveID }

// Clone returns a deep copy.
func (l *LocalContrastSubtractive) Clone() Layer {
	return &LocalContrastSubtractive{
		Base:                l.cloneBase(),
		WindowSizes:         slices.Clone(l.WindowSizes),
		FeatureMapsAffected: slices.Clone(l.FeatureMapsAffected),
		FeatureMapCount:     l.FeatureMapCount,
	}
}

// Affected returns the affected feature map indices.
func (l *LocalContrastSubtractive) Affected() []int {
	if len(l.FeatureMapsAffected) == 0 {
		all := make([]int, l.FeatureMapCount)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return l.FeatureMapsAffected
}

// WindowWeights returns the one-sided gaussian weights of dimension d,
// normalized so that the symmetric window sums to one.
func (l *LocalContrastSubtractive) WindowWeights(d int) []float32 {
	w := l.WindowSizes[d]
	sigma := float32(w) / 3
	weights := make([]float32, w)
	var sum float32
	for k := range weights {
		x := float32(k)
		weights[k] = math32.Exp(-x * x / (2 * sigma * sigma))
		if k == 0 {
			sum += weights[k]
		} else {
			sum += 2 * weights[k]
		}
	}
	for k := range weights {
		weights[k] /= sum
	}
	return weights
}

// Check validates the parameters.
func (l *LocalContrastSubtractive) Check() error {
	if len(l.WindowSizes) == 0 {
		return neterr.Configf(l.InstanceName, "window sizes are empty")
	}
	for d, w := range l.WindowSizes {
		if w <= 0 {
			return neterr.Configf(l.InstanceName, "window size %d for dimension %d must be positive", w, d)
		}
	}
	if l.FeatureMapCount <= 0 {
		return neterr.Configf(l.InstanceName, "feature map count %d must be positive", l.FeatureMapCount)
	}
	seen := make(map[int]bool)
	for _, fm := range l.FeatureMapsAffected {
		if fm < 0 || fm >= l.FeatureMapCount {
			return neterr.Configf(l.InstanceName, "affected feature map %d out of range [0, %d)", fm, l.FeatureMapCount)
		}
		if seen[fm] {
			return neterr.Configf(l.InstanceName, "affected feature map %d listed twice", fm)
		}
		seen[fm] = true
	}
	return nil
}

// OutputConfiguration preserves the input shape.
func (l *LocalContrastSubtractive) OutputConfiguration(inputs []Configuration) (Configuration, error) {
	in, err := l.single(inputs)
	if err != nil {
		return Configuration{}, err
	}
	if in.FeatureMaps != l.FeatureMapCount {
		return Configuration{}, neterr.Configf(l.InstanceName, "input feature map count %d doesn't match expected %d", in.FeatureMaps, l.FeatureMapCount)
	}
	if len(in.Dims) != len(l.WindowSizes) {
		return Configuration{}, neterr.Configf(l.InstanceName, "input has %d dimensions, expected %d", len(in.Dims), len(l.WindowSizes))
	}
	return in.Clone(), nil
}

// Flops counts a multiply-add per window tap per affected neuron.
func (l *LocalContrastSubtractive) Flops(inputs []Configuration, action Action) float64 {
	out, err := l.OutputConfiguration(inputs)
	if err != nil || action.Kind == KindUpdateWeights {
		return 0
	}
	taps := 1
	for _, w := range l.WindowSizes {
		taps *= 2*w - 1
	}
	return float64(len(l.Affected())) * float64(out.NeuronCountPerFeatureMap()) * float64(taps) * 2
}

// ParameterStrings describes the window and affected feature maps.
func (l *LocalContrastSubtractive) ParameterStrings() []string {
	s := []string{joinInts(l.WindowSizes, "x")}
	if len(l.FeatureMapsAffected) > 0 {
		s = append(s, fmt.Sprintf("fm %s of %d", joinInts(l.FeatureMapsAffected, ","), l.FeatureMapCount))
	} else {
		s = append(s, fmt.Sprintf("fm %d", l.FeatureMapCount))
	}
	return s
}

// MarshalParams encodes the parameters.
func (l *LocalContrastSubtractive) MarshalParams() []byte {
	var e paramEncoder
	e.ints(1, l.WindowSizes)
	e.ints(2, l.FeatureMapsAffected)
	e.int(3, l.FeatureMapCount, 0)
	return e.b
}

// UnmarshalParams decodes the parameters.
func (l *LocalContrastSubtractive) UnmarshalParams(b []byte) error {
	f, err := decodeParams(l.InstanceName, b)
	if err != nil {
		return err
	}
	l.WindowSizes = f.ints(1)
	l.FeatureMapsAffected = f.ints(2)
	l.FeatureMapCount = f.int(3, 0)
	return nil
}
