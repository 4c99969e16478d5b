// Package netdata holds the weight and custom tensors bound to a schema.
package netdata

import (
	"math/rand"
	"slices"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/schema"
)

// LayerData is the list of vectors of one layer.
type LayerData [][]float32

// Clone returns a deep copy.
func (d LayerData) Clone() LayerData {
	if d == nil {
		return nil
	}
	c := make(LayerData, len(d))
	for i, v := range d {
		c[i] = slices.Clone(v)
	}
	return c
}

// Elements returns the element count across all vectors.
func (d LayerData) Elements() int {
	n := 0
	for _, v := range d {
		n += len(v)
	}
	return n
}

// NetworkData holds per-layer weights and custom data, index-aligned with
// the topological layer order of a schema.
type NetworkData struct {
	Weights []LayerData
	Custom  []LayerData
}

// New allocates zero weights and default custom data for s.
func New(s *schema.Schema) *NetworkData {
	d := &NetworkData{
		Weights: make([]LayerData, s.Len()),
		Custom:  make([]LayerData, s.Len()),
	}
	for i, l := range s.Layers() {
		d.Weights[i] = l.DataConfig().Allocate()
		d.Custom[i] = l.CreateCustomData()
		if d.Custom[i] == nil {
			d.Custom[i] = l.CustomDataConfig().Allocate()
		}
	}
	return d
}

// Randomized allocates data for s and randomizes every layer from rng.
func Randomized(s *schema.Schema, rng *rand.Rand, opts layer.RandomizeOptions) (*NetworkData, error) {
	d := New(s)
	if err := d.Randomize(s, rng, opts); err != nil {
		return nil, err
	}
	return d, nil
}

// Randomize refills every layer in schema order from rng.
func (d *NetworkData) Randomize(s *schema.Schema, rng *rand.Rand, opts layer.RandomizeOptions) error {
	if err := d.CheckConsistency(s); err != nil {
		return err
	}
	for i, l := range s.Layers() {
		if err := l.Randomize(d.Weights[i], d.Custom[i], rng, opts); err != nil {
			return neterr.WithLayer(err, l.Name())
		}
	}
	return nil
}

// CheckConsistency verifies that every tensor matches its layer's declared
// data configuration.
func (d *NetworkData) CheckConsistency(s *schema.Schema) error {
	if len(d.Weights) != s.Len() || len(d.Custom) != s.Len() {
		return neterr.Dataf("", "data holds %d weight and %d custom layers, schema %q has %d layers", len(d.Weights), len(d.Custom), s.Name(), s.Len())
	}
	for i, l := range s.Layers() {
		if err := check(l.Name(), "data", d.Weights[i], l.DataConfig()); err != nil {
			return err
		}
		if err := check(l.Name(), "custom data", d.Custom[i], l.CustomDataConfig()); err != nil {
			return err
		}
	}
	return nil
}

func check(name, kind string, data LayerData, cfg layer.DataConfig) error {
	if len(data) != len(cfg) {
		return neterr.Dataf(name, "%s vector count %d doesn't satisfy layer configuration (expected %d)", kind, len(data), len(cfg))
	}
	for j, v := range data {
		if len(v) != cfg[j] {
			return neterr.Dataf(name, "%s count %d for vector %d doesn't satisfy layer configuration (expected %d)", kind, len(v), j, cfg[j])
		}
	}
	return nil
}

// Clone returns a deep copy.
func (d *NetworkData) Clone() *NetworkData {
	c := &NetworkData{
		Weights: make([]LayerData, len(d.Weights)),
		Custom:  make([]LayerData, len(d.Custom)),
	}
	for i := range d.Weights {
		c.Weights[i] = d.Weights[i].Clone()
	}
	for i := range d.Custom {
		c.Custom[i] = d.Custom[i].Clone()
	}
	return c
}

// Equal reports bit-identical contents.
func (d *NetworkData) Equal(o *NetworkData) bool {
	return equalLists(d.Weights, o.Weights) && equalLists(d.Custom, o.Custom)
}

func equalLists(a, b []LayerData) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if !slices.Equal(a[i][j], b[i][j]) {
				return false
			}
		}
	}
	return true
}

// Bytes returns the float32 storage size of all tensors.
func (d *NetworkData) Bytes() int64 {
	var n int64
	for _, l := range d.Weights {
		n += int64(l.Elements()) * 4
	}
	for _, l := range d.Custom {
		n += int64(l.Elements()) * 4
	}
	return n
}
