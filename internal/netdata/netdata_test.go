package netdata

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/schema"
)

// statsLayer is a rectifier with running statistics kept as custom data.
type statsLayer struct {
	*layer.Rectifier
}

func (l statsLayer) CustomDataConfig() layer.DataConfig { return layer.DataConfig{3} }
func (l statsLayer) CreateCustomData() [][]float32     { return layer.CreateCustomData(l.CustomDataConfig()) }
func (l statsLayer) Clone() layer.Layer                { return statsLayer{l.Rectifier.Clone().(*layer.Rectifier)} }

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New("net",
		layer.NewConvolution("conv", []int{3}, 1, 2),
		statsLayer{layer.NewRectifier("stats")},
		layer.NewAverageSubsampling("pool", 2),
	)
	require.NoError(t, err)
	return s
}

func TestNewAllocatesPerLayer(t *testing.T) {
	d := New(testSchema(t))
	require.Len(t, d.Weights, 3)
	assert.Len(t, d.Weights[0], 2)
	assert.Len(t, d.Weights[0][0], 6)
	assert.Len(t, d.Weights[0][1], 2)
	assert.Empty(t, d.Weights[1])
	assert.Equal(t, LayerData{{-1, -1, -1}}, d.Custom[1])
	assert.Equal(t, int64((6+2+3)*4), d.Bytes())
	assert.NoError(t, d.CheckConsistency(testSchema(t)))
}

func TestCheckConsistencyNamesLayer(t *testing.T) {
	s := testSchema(t)
	tests := []struct {
		name   string
		mutate func(d *NetworkData)
		layer  string
		msg    string
	}{
		{"weight count", func(d *NetworkData) { d.Weights[0][0] = d.Weights[0][0][:5] }, "conv", "data count 5 for vector 0"},
		{"vector count", func(d *NetworkData) { d.Weights[0] = d.Weights[0][:1] }, "conv", "data vector count 1"},
		{"custom count", func(d *NetworkData) { d.Custom[1][0] = nil }, "stats", "custom data count 0 for vector 0"},
		{"unexpected weights", func(d *NetworkData) { d.Weights[2] = LayerData{{1}} }, "pool", "expected 0"},
		{"layer count", func(d *NetworkData) { d.Weights = d.Weights[:2] }, "", "schema \"net\" has 3 layers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(s)
			tt.mutate(d)
			err := d.CheckConsistency(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, neterr.ErrDataConsistency))
			assert.Equal(t, tt.layer, neterr.LayerOf(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRandomizedIsDeterministic(t *testing.T) {
	s := testSchema(t)
	a, err := Randomized(s, rand.New(rand.NewSource(42)), layer.RandomizeOptions{})
	require.NoError(t, err)
	b, err := Randomized(s, rand.New(rand.NewSource(42)), layer.RandomizeOptions{})
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	c, err := Randomized(s, rand.New(rand.NewSource(43)), layer.RandomizeOptions{})
	require.NoError(t, err)
	assert.False(t, a.Equal(c))
}

func TestCloneIsDeep(t *testing.T) {
	s := testSchema(t)
	d, err := Randomized(s, rand.New(rand.NewSource(1)), layer.RandomizeOptions{Orthogonal: true})
	require.NoError(t, err)
	c := d.Clone()
	assert.True(t, d.Equal(c))
	c.Weights[0][0][0]++
	assert.False(t, d.Equal(c))
}

func TestRandomizeRejectsInconsistentData(t *testing.T) {
	s := testSchema(t)
	d := New(s)
	d.Weights[0] = nil
	err := d.Randomize(s, rand.New(rand.NewSource(1)), layer.RandomizeOptions{})
	assert.True(t, errors.Is(err, neterr.ErrDataConsistency))
}
