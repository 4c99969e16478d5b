package layer

import (
	"slices"
	"strconv"
	"strings"

	"github.com/born-ml/tessera/internal/neterr"
)

// Configuration is the resolved shape of one layer output: a feature map
// count and the spatial dimension sizes of each feature map.
type Configuration struct {
	FeatureMaps int   `yaml:"feature_maps" json:"feature_maps"`
	Dims        []int `yaml:"dims,omitempty" json:"dims,omitempty"`
}

// NewConfiguration creates a configuration.
func NewConfiguration(featureMaps int, dims ...int) Configuration {
	return Configuration{FeatureMaps: featureMaps, Dims: slices.Clone(dims)}
}

// NeuronCountPerFeatureMap returns the product of the dimension sizes.
func (c Configuration) NeuronCountPerFeatureMap() int {
	n := 1
	for _, d := range c.Dims {
		n *= d
	}
	return n
}

// NeuronCount returns the element count of one entry.
func (c Configuration) NeuronCount() int {
	return c.FeatureMaps * c.NeuronCountPerFeatureMap()
}

// Equal reports whether c and o describe the same shape.
func (c Configuration) Equal(o Configuration) bool {
	return c.FeatureMaps == o.FeatureMaps && slices.Equal(c.Dims, o.Dims)
}

// Covers reports whether c is at least as large as o in every dimension.
func (c Configuration) Covers(o Configuration) bool {
	if c.FeatureMaps < o.FeatureMaps || len(c.Dims) != len(o.Dims) {
		return false
	}
	for i := range c.Dims {
		if c.Dims[i] < o.Dims[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (c Configuration) Clone() Configuration {
	return Configuration{FeatureMaps: c.FeatureMaps, Dims: slices.Clone(c.Dims)}
}

// Validate rejects negative or zero sizes.
func (c Configuration) Validate(layer string) error {
	if c.FeatureMaps <= 0 {
		return neterr.Configf(layer, "feature map count %d must be positive", c.FeatureMaps)
	}
	for i, d := range c.Dims {
		if d <= 0 {
			return neterr.Configf(layer, "dimension %d size %d must be positive", i, d)
		}
	}
	return nil
}

// String formats the shape as "fm:d0xd1".
func (c Configuration) String() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(c.FeatureMaps))
	if len(c.Dims) > 0 {
		sb.WriteByte(':')
		sb.WriteString(joinInts(c.Dims, "x"))
	}
	return sb.String()
}

// ParseConfiguration parses the "fm:d0xd1" form written by String.
func ParseConfiguration(s string) (Configuration, error) {
	fm, dims, spatial := strings.Cut(strings.TrimSpace(s), ":")
	var c Configuration
	var err error
	if c.FeatureMaps, err = strconv.Atoi(fm); err != nil {
		return Configuration{}, neterr.Configf("", "invalid configuration %q", s)
	}
	if spatial {
		for _, d := range strings.Split(dims, "x") {
			v, err := strconv.Atoi(d)
			if err != nil {
				return Configuration{}, neterr.Configf("", "invalid configuration %q", s)
			}
			c.Dims = append(c.Dims, v)
		}
	}
	return c, c.Validate("")
}

// DataConfig lists the element count of each data vector of a layer.
type DataConfig []int

// Total returns the element count across all vectors.
func (d DataConfig) Total() int {
	n := 0
	for _, v := range d {
		n += v
	}
	return n
}

// Bytes returns the float32 storage size of all vectors.
func (d DataConfig) Bytes() int64 {
	return int64(d.Total()) * 4
}

// Allocate returns zeroed vectors sized per d.
func (d DataConfig) Allocate() [][]float32 {
	out := make([][]float32, len(d))
	for i, n := range d {
		out[i] = make([]float32, n)
	}
	return out
}

func joinInts(v []int, sep string) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, sep)
}

func product(v []int) int {
	n := 1
	for _, x := range v {
		n *= x
	}
	return n
}
