package webgpu

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/backend/cpu"
	"github.com/born-ml/tessera/internal/layer"
)

func openBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New()
	if err != nil {
		require.True(t, errors.Is(err, ErrNotAvailable), "unexpected error: %v", err)
		t.Skipf("WebGPU not available: %v", err)
	}
	t.Cleanup(b.Release)
	return b
}

func TestTableFallsBackToCPU(t *testing.T) {
	// The stub and the device table share this behavior.
	var b *Backend
	if opened, err := New(); err == nil {
		b = opened
		defer b.Release()
	}
	cpuTable := cpu.New(1).Table()
	table := b.Table(cpuTable)

	assert.Equal(t, Name, table.Name())
	assert.Same(t, cpuTable, table.Fallback())

	_, owner, ok := table.Lookup(layer.ConvolutionType, true)
	require.True(t, ok)
	assert.Equal(t, cpu.Name, owner.Name())
}

func compareWithCPU(t *testing.T, b *Backend, l layer.Layer, entries int, inputs ...layer.Configuration) {
	t.Helper()
	require.NoError(t, l.Check())
	out, err := l.OutputConfiguration(inputs)
	require.NoError(t, err)
	spec := backend.Spec{Layer: l, Inputs: inputs, Output: out}

	gpuUnit, err := b.Table(cpu.New(1).Table()).Updater(spec)
	require.NoError(t, err)
	cpuUnit, err := cpu.New(1).Table().Updater(spec)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	data := make([][]float32, len(inputs))
	for i, c := range inputs {
		data[i] = make([]float32, entries*c.NeuronCount())
		for j := range data[i] {
			data[i][j] = rng.Float32()*2 - 1
		}
	}
	outEntries, _ := l.TilingFactor().Entries(entries)
	run := func(u backend.Updater) backend.Pass {
		p := backend.Pass{
			Entries: entries,
			Inputs:  data,
			Output:  make([]float32, outEntries*out.NeuronCount()),
		}
		require.NoError(t, u.Forward(&p))
		p.OutputErrors = make([]float32, len(p.Output))
		for i := range p.OutputErrors {
			p.OutputErrors[i] = float32(i%5) - 2
		}
		p.InputErrors = make([][]float32, len(data))
		for i := range data {
			p.InputErrors[i] = make([]float32, len(data[i]))
			require.NoError(t, u.BackwardData(&p, i))
		}
		return p
	}
	want, got := run(cpuUnit), run(gpuUnit)
	assert.InDeltaSlice(t, want.Output, got.Output, 1e-5)
	for i := range data {
		assert.InDeltaSlice(t, want.InputErrors[i], got.InputErrors[i], 1e-5)
	}
}

func TestShaderUnitsMatchCPU(t *testing.T) {
	b := openBackend(t)

	rect := layer.NewRectifier("relu")
	rect.NegativeSlope = 0.1
	compareWithCPU(t, b, rect, 3, layer.NewConfiguration(2, 4, 3))

	compareWithCPU(t, b, layer.NewAdd("sum", "a", "b"), 2,
		layer.NewConfiguration(1, 5), layer.NewConfiguration(1, 5))

	compareWithCPU(t, b, layer.NewReshape("flat", layer.NewConfiguration(1, 12)), 2,
		layer.NewConfiguration(3, 2, 2))

	compareWithCPU(t, b, layer.NewAverageSubsampling("pool", 2, 2), 2,
		layer.NewConfiguration(2, 4, 6))
}
