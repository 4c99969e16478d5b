package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/schema"
)

type copyUnit struct{}

func (copyUnit) InPlaceInput() int                    { return 0 }
func (copyUnit) Requirements() Requirements           { return Requirements{} }
func (copyUnit) BackwardData(_ *Pass, _ int) error    { return nil }
func (copyUnit) UpdateWeights(_ *Pass) error          { return nil }
func (copyUnit) FusedBackward() bool                  { return false }
func (copyUnit) BackwardDataAndWeights(_ *Pass) error { return nil }

func (copyUnit) Forward(p *Pass) error {
	copy(p.Output, p.Inputs[0])
	return nil
}

func testerOnly() Factory {
	return Factory{NewTester: func(Spec) (Tester, error) { return copyUnit{}, nil }}
}

func full() Factory {
	f := testerOnly()
	f.NewUpdater = func(Spec) (Updater, error) { return copyUnit{}, nil }
	return f
}

func mustSchema(t *testing.T, l ...layer.Layer) *schema.Schema {
	t.Helper()
	s, err := schema.New("s", l...)
	require.NoError(t, err)
	return s
}

func relu(t *testing.T) *schema.Schema {
	t.Helper()
	return mustSchema(t, layer.NewRectifier("relu"))
}

func TestCheckNamesUnregisteredLayer(t *testing.T) {
	s := mustSchema(t, layer.NewRectifier("relu"), layer.NewFlip("flip", 0))
	table := NewTable("test").Register(layer.RectifierType, full())

	err := table.Check(s, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, neterr.ErrConfiguration)
	assert.Equal(t, "flip", neterr.LayerOf(err))
	assert.Contains(t, err.Error(), layer.FlipType)

	table.Register(layer.FlipType, testerOnly())
	assert.NoError(t, table.Check(s, false))

	err = table.Check(s, true)
	require.Error(t, err)
	assert.Equal(t, "flip", neterr.LayerOf(err))
}

func TestFallback(t *testing.T) {
	cpu := NewTable("cpu").Register(layer.RectifierType, full()).Register(layer.FlipType, full())
	gpu := NewTable("gpu").Register(layer.RectifierType, testerOnly()).WithFallback(cpu)

	_, owner, ok := gpu.Lookup(layer.RectifierType, false)
	require.True(t, ok)
	assert.Equal(t, "gpu", owner.Name())

	_, owner, ok = gpu.Lookup(layer.RectifierType, true)
	require.True(t, ok)
	assert.Equal(t, "cpu", owner.Name())

	_, owner, ok = gpu.Lookup(layer.FlipType, false)
	require.True(t, ok)
	assert.Equal(t, "cpu", owner.Name())

	_, _, ok = gpu.Lookup(layer.AddType, false)
	assert.False(t, ok)
	assert.Equal(t, []string{layer.RectifierType}, gpu.Types())
	assert.Same(t, cpu, gpu.Fallback())
}

func TestTablesAreIndependent(t *testing.T) {
	s := relu(t)
	a := NewTable("a").Register(layer.RectifierType, full())
	b := NewTable("b")
	assert.NoError(t, a.Check(s, true))
	assert.Error(t, b.Check(s, false))
}

func TestCreateUnits(t *testing.T) {
	s := relu(t)
	table := NewTable("t").Register(layer.RectifierType, full())
	spec := Spec{Layer: s.At(0), Inputs: []layer.Configuration{layer.NewConfiguration(1, 4)}, Output: layer.NewConfiguration(1, 4)}

	u, err := table.Tester(spec)
	require.NoError(t, err)
	p := &Pass{Entries: 1, Inputs: [][]float32{{1, 2, 3, 4}}, Output: make([]float32, 4)}
	require.NoError(t, u.Forward(p))
	assert.Equal(t, []float32{1, 2, 3, 4}, p.Output)
	assert.Equal(t, 1, p.OutputEntries(s.At(0)))

	_, err = table.Updater(spec)
	require.NoError(t, err)

	_, err = NewTable("empty").Tester(spec)
	assert.ErrorIs(t, err, neterr.ErrConfiguration)
}

func TestRequirementsFloats(t *testing.T) {
	r := Requirements{Fixed: 10, PerEntry: 3}
	assert.Equal(t, 10, r.Floats(0))
	assert.Equal(t, 22, r.Floats(4))
}
