package layer

import (
	"slices"

	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/neterr"
)

// MultiCrop cuts every entry into several crops, each smaller than the input
// by Borders[d] along dimension d. Crops are taken at every corner and,
// with Center, at the middle. Crop k of input entry i is physical output
// entry i*CropCount()+k.
type MultiCrop struct {
	Base    `yaml:",inline"`
	Borders []int `yaml:"borders"`
	Center  bool  `yaml:"center"`
}

// NewMultiCrop creates corner and center crops.
func NewMultiCrop(name string, borders ...int) *MultiCrop {
	return &MultiCrop{Base: Base{InstanceName: name}, Borders: slices.Clone(borders), Center: true}
}

// TypeName returns "MultiCrop".
func (l *MultiCrop) TypeName() string { return MultiCropType }

// TypeID returns the persisted type identifier.
func (l *MultiCrop) TypeID() uuid.UUID { return multiCropID }

// Clone returns a deep copy.
func (l *MultiCrop) Clone() Layer {
	return &MultiCrop{Base: l.cloneBase(), Borders: slices.Clone(l.Borders), Center: l.Center}
}

// CropCount returns the number of crops per entry.
func (l *MultiCrop) CropCount() int {
	n := 1 << len(l.Borders)
	if l.Center {
		n++
	}
	return n
}

// Offsets returns the start offset of every crop.
func (l *MultiCrop) Offsets() [][]int {
	dims := len(l.Borders)
	out := make([][]int, 0, l.CropCount())
	for corner := 0; corner < 1<<dims; corner++ {
		off := make([]int, dims)
		for d := range off {
			if corner&(1<<d) != 0 {
				off[d] = l.Borders[d]
			}
		}
		out = append(out, off)
	}
	if l.Center {
		off := make([]int, dims)
		for d, b := range l.Borders {
			off[d] = b / 2
		}
		out = append(out, off)
	}
	return out
}

// Check validates the borders.
func (l *MultiCrop) Check() error {
	if len(l.Borders) == 0 {
		return neterr.Configf(l.InstanceName, "borders are empty")
	}
	for d, b := range l.Borders {
		if b < 0 {
			return neterr.Configf(l.InstanceName, "border %d for dimension %d must not be negative", b, d)
		}
	}
	return nil
}

// OutputConfiguration shrinks every dimension by its border.
func (l *MultiCrop) OutputConfiguration(inputs []Configuration) (Configuration, error) {
	in, err := l.single(inputs)
	if err != nil {
		return Configuration{}, err
	}
	if len(in.Dims) != len(l.Borders) {
		return Configuration{}, neterr.Configf(l.InstanceName, "input has %d dimensions, expected %d", len(in.Dims), len(l.Borders))
	}
	out := Configuration{FeatureMaps: in.FeatureMaps, Dims: make([]int, len(in.Dims))}
	for d, size := range in.Dims {
		if size <= l.Borders[d] {
			return Configuration{}, neterr.Configf(l.InstanceName, "input size %d of dimension %d doesn't exceed border %d", size, d, l.Borders[d])
		}
		out.Dims[d] = size - l.Borders[d]
	}
	return out, nil
}

// InputConfiguration grows every dimension by its border.
func (l *MultiCrop) InputConfiguration(_ int, output Configuration) (Configuration, error) {
	if len(output.Dims) != len(l.Borders) {
		return Configuration{}, neterr.Configf(l.InstanceName, "output has %d dimensions, expected %d", len(output.Dims), len(l.Borders))
	}
	in := Configuration{FeatureMaps: output.FeatureMaps, Dims: make([]int, len(output.Dims))}
	for d, size := range output.Dims {
		in.Dims[d] = size + l.Borders[d]
	}
	return in, nil
}

// Flops counts one copy per output neuron.
func (l *MultiCrop) Flops(inputs []Configuration, action Action) float64 {
	out, err := l.OutputConfiguration(inputs)
	if err != nil || action.Kind == KindUpdateWeights {
		return 0
	}
	return float64(out.NeuronCount() * l.CropCount())
}

// TilingFactor is the crop count.
func (l *MultiCrop) TilingFactor() TilingFactor { return Tiling(l.CropCount()) }

// ParameterStrings describes the borders.
func (l *MultiCrop) ParameterStrings() []string {
	s := []string{"border " + joinInts(l.Borders, "x")}
	if l.Center {
		s = append(s, "center")
	}
	return s
}

// MarshalParams encodes the parameters.
func (l *MultiCrop) MarshalParams() []byte {
	var e paramEncoder
	e.ints(1, l.Borders)
	e.bool(2, l.Center, true)
	return e.b
}

// UnmarshalParams decodes the parameters; Center defaults to true.
func (l *MultiCrop) UnmarshalParams(b []byte) error {
	f, err := decodeParams(l.InstanceName, b)
	if err != nil {
		return err
	}
	l.Borders = f.ints(1)
	l.Center = f.bool(2, true)
	return nil
}
