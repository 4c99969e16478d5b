package cpu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/parallel"
)

type harness struct {
	l       layer.Layer
	spec    backend.Spec
	unit    backend.Updater
	entries int
	weights [][]float32
}

func newHarness(t *testing.T, l layer.Layer, entries int, inputs ...layer.Configuration) *harness {
	t.Helper()
	require.NoError(t, l.Check())
	out, err := l.OutputConfiguration(inputs)
	require.NoError(t, err)
	spec := backend.Spec{Layer: l, Inputs: inputs, Output: out}
	u, err := New(2).Table().Updater(spec)
	require.NoError(t, err)
	return &harness{l: l, spec: spec, unit: u, entries: entries, weights: l.DataConfig().Allocate()}
}

func (h *harness) outEntries() int {
	n, _ := h.l.TilingFactor().Entries(h.entries)
	return n
}

func (h *harness) pass(inputs [][]float32) *backend.Pass {
	return &backend.Pass{
		Entries: h.entries,
		Inputs:  inputs,
		Output:  make([]float32, h.outEntries()*h.spec.Output.NeuronCount()),
		Weights: h.weights,
		Scratch: make([]float32, h.unit.Requirements().Floats(h.entries)),
	}
}

func (h *harness) forward(t *testing.T, inputs ...[]float32) []float32 {
	t.Helper()
	p := h.pass(inputs)
	require.NoError(t, h.unit.Forward(p))
	return p.Output
}

// backward returns the input errors and weight gradients for output errors.
func (h *harness) backward(t *testing.T, inputs [][]float32, outErrors []float32) ([][]float32, [][]float32) {
	t.Helper()
	p := h.pass(inputs)
	require.NoError(t, h.unit.Forward(p))
	p.OutputErrors = outErrors
	p.InputErrors = make([][]float32, len(inputs))
	for i, in := range inputs {
		p.InputErrors[i] = make([]float32, len(in))
		require.NoError(t, h.unit.BackwardData(p, i))
	}
	p.Gradients = h.l.DataConfig().Allocate()
	require.NoError(t, h.unit.UpdateWeights(p))
	return p.InputErrors, p.Gradients
}

func randomVector(rng *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// checkGradients compares analytic input and weight gradients of
// L = sum(out * r) with central differences.
func checkGradients(t *testing.T, h *harness, inputs [][]float32, rng *rand.Rand) {
	t.Helper()
	r := randomVector(rng, h.outEntries()*h.spec.Output.NeuronCount())
	inErrs, grads := h.backward(t, inputs, r)

	loss := func() float64 { return dot(h.forward(t, inputs...), r) }
	const eps = 1e-2
	numeric := func(v []float32, i int) float64 {
		orig := v[i]
		v[i] = orig + eps
		plus := loss()
		v[i] = orig - eps
		minus := loss()
		v[i] = orig
		return (plus - minus) / (2 * eps)
	}
	for k, in := range inputs {
		for i := range in {
			assert.InDelta(t, numeric(in, i), inErrs[k][i], 2e-2, "input %d element %d", k, i)
		}
	}
	for k, w := range h.weights {
		for i := range w {
			assert.InDelta(t, numeric(w, i), grads[k][i], 2e-2, "weight vector %d element %d", k, i)
		}
	}
}

func TestAverageSubsamplingScenario(t *testing.T) {
	h := newHarness(t, layer.NewAverageSubsampling("pool", 2), 1, layer.NewConfiguration(1, 4))
	in := []float32{1, 2, 3, 4}
	assert.Equal(t, []float32{1.5, 3.5}, h.forward(t, in))

	errs, _ := h.backward(t, [][]float32{in}, []float32{1, 1})
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, errs[0])
}

func TestAverageSubsamplingEntriesAndFeatureMaps(t *testing.T) {
	l := layer.NewAverageSubsampling("pool", 1)
	l.FeatureMapSubsampling = 2
	l.EntrySubsampling = 2
	h := newHarness(t, l, 2, layer.NewConfiguration(2, 2))
	// Entry 0: fm0 {1,2} fm1 {3,4}; entry 1: fm0 {5,6} fm1 {7,8}.
	out := h.forward(t, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	assert.InDeltaSlice(t, []float32{4, 5}, out, 1e-6)
}

func naiveConv2D(in []float32, w, b []float32, inFm, outFm, width, height, kw, kh, pl, pt, outW, outH int) []float32 {
	out := make([]float32, outFm*outW*outH)
	for o := 0; o < outFm; o++ {
		for y := 0; y < outH; y++ {
			for x := 0; x < outW; x++ {
				sum := b[o]
				for i := 0; i < inFm; i++ {
					for ky := 0; ky < kh; ky++ {
						for kx := 0; kx < kw; kx++ {
							sx, sy := x+kx-pl, y+ky-pt
							if sx < 0 || sy < 0 || sx >= width || sy >= height {
								continue
							}
							sum += w[((o*inFm+i)*kh+ky)*kw+kx] * in[(i*height+sy)*width+sx]
						}
					}
				}
				out[(o*outH+y)*outW+x] = sum
			}
		}
	}
	return out
}

func TestConvolutionMatchesDirect(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := layer.NewConvolution("conv", []int{3, 2}, 2, 3)
	l.LeftPadding = []int{1, 0}
	l.RightPadding = []int{1, 1}
	h := newHarness(t, l, 2, layer.NewConfiguration(2, 5, 4))
	h.weights[0] = randomVector(rng, len(h.weights[0]))
	h.weights[1] = randomVector(rng, len(h.weights[1]))

	in := randomVector(rng, 2*h.spec.Inputs[0].NeuronCount())
	got := h.forward(t, in)

	outW, outH := h.spec.Output.Dims[0], h.spec.Output.Dims[1]
	per := h.spec.Inputs[0].NeuronCount()
	for e := 0; e < 2; e++ {
		want := naiveConv2D(in[e*per:(e+1)*per], h.weights[0], h.weights[1], 2, 3, 5, 4, 3, 2, 1, 0, outW, outH)
		assert.InDeltaSlice(t, want, got[e*len(want):(e+1)*len(want)], 1e-5)
	}
}

func TestGradients(t *testing.T) {
	conv := layer.NewConvolution("conv", []int{3, 3}, 2, 2)
	conv.LeftPadding = []int{1, 1}
	conv.RightPadding = []int{0, 1}
	fmPool := layer.NewAverageSubsampling("pool", 2, 1)
	fmPool.FeatureMapSubsampling = 2
	lcs := layer.NewLocalContrastSubtractive("lcs", []int{3, 2}, 2)
	grid := layer.NewAffineGridGenerator("grid", 3, 2)
	grid.WeightScale = 0.5
	relu := layer.NewRectifier("relu")
	relu.NegativeSlope = 0.25

	tests := []struct {
		name   string
		l      layer.Layer
		inputs []layer.Configuration
	}{
		{"convolution", conv, []layer.Configuration{layer.NewConfiguration(2, 4, 3)}},
		{"convolution 1d", layer.NewConvolution("c1", []int{2}, 1, 3), []layer.Configuration{layer.NewConfiguration(1, 5)}},
		{"average subsampling", fmPool, []layer.Configuration{layer.NewConfiguration(4, 4, 2)}},
		{"local contrast", lcs, []layer.Configuration{layer.NewConfiguration(2, 5, 4)}},
		{"affine grid", grid, []layer.Configuration{layer.NewConfiguration(6)}},
		{"reshape", layer.NewReshape("r", layer.NewConfiguration(2, 3)), []layer.Configuration{layer.NewConfiguration(1, 6)}},
		{"rectifier", relu, []layer.Configuration{layer.NewConfiguration(2, 3)}},
		{"add", layer.NewAdd("sum", "a", "b"), []layer.Configuration{layer.NewConfiguration(1, 4), layer.NewConfiguration(1, 4)}},
		{"flip", layer.NewFlip("flip", 1), []layer.Configuration{layer.NewConfiguration(2, 3, 2)}},
		{"multi crop", layer.NewMultiCrop("crop", 1, 2), []layer.Configuration{layer.NewConfiguration(1, 4, 4)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			h := newHarness(t, tt.l, 2, tt.inputs...)
			for i := range h.weights {
				h.weights[i] = randomVector(rng, len(h.weights[i]))
			}
			inputs := make([][]float32, len(tt.inputs))
			for i, c := range tt.inputs {
				inputs[i] = randomVector(rng, 2*c.NeuronCount())
			}
			if tt.l.TypeName() == layer.RectifierType {
				// Keep inputs away from the kink.
				for i, v := range inputs[0] {
					if v > -0.1 && v < 0.1 {
						inputs[0][i] = 0.5
					}
				}
			}
			checkGradients(t, h, inputs, rng)
		})
	}
}

func TestLocalContrastRemovesConstant(t *testing.T) {
	l := layer.NewLocalContrastSubtractive("lcs", []int{5, 3}, 2)
	l.FeatureMapsAffected = []int{1}
	h := newHarness(t, l, 1, layer.NewConfiguration(2, 6, 4))

	in := make([]float32, 48)
	for i := range in {
		in[i] = 3
	}
	out := h.forward(t, in)
	for i := 0; i < 24; i++ {
		assert.InDelta(t, 3, out[i], 1e-6, "unaffected feature map")
	}
	for i := 24; i < 48; i++ {
		assert.InDelta(t, 0, out[i], 1e-5, "affected feature map")
	}
}

func TestAffineGridIdentity(t *testing.T) {
	h := newHarness(t, layer.NewAffineGridGenerator("grid", 3, 2), 1, layer.NewConfiguration(6))
	out := h.forward(t, make([]float32, 6))
	assert.InDeltaSlice(t, []float32{-1, 0, 1, -1, 0, 1}, out[:6], 1e-6)
	assert.InDeltaSlice(t, []float32{-1, -1, -1, 1, 1, 1}, out[6:], 1e-6)
}

func TestFlipTiles(t *testing.T) {
	h := newHarness(t, layer.NewFlip("flip", 0), 2, layer.NewConfiguration(1, 3))
	out := h.forward(t, []float32{1, 2, 3, 4, 5, 6})
	assert.Equal(t, []float32{1, 2, 3, 3, 2, 1, 4, 5, 6, 6, 5, 4}, out)
}

func TestMultiCropTiles(t *testing.T) {
	h := newHarness(t, layer.NewMultiCrop("crop", 2), 1, layer.NewConfiguration(1, 5))
	out := h.forward(t, []float32{1, 2, 3, 4, 5})
	// Corners at offsets 0 and 2, center at 1.
	assert.Equal(t, []float32{1, 2, 3, 3, 4, 5, 2, 3, 4}, out)
}

func TestRectifierInPlace(t *testing.T) {
	relu := layer.NewRectifier("relu")
	relu.NegativeSlope = 0.5
	h := newHarness(t, relu, 1, layer.NewConfiguration(1, 4))
	assert.Equal(t, 0, h.unit.InPlaceInput())

	buf := []float32{-2, -1, 0, 3}
	p := h.pass([][]float32{buf})
	p.Output = buf
	require.NoError(t, h.unit.Forward(p))
	assert.Equal(t, []float32{-1, -0.5, 0, 3}, buf)
}

func TestTableCoversEveryVariant(t *testing.T) {
	table := New(0).Table()
	assert.Equal(t, layer.TypeNames(), table.Types())
	for _, name := range layer.TypeNames() {
		_, _, ok := table.Lookup(name, true)
		assert.True(t, ok, name)
	}
}

func TestSequentialMatchesParallel(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	l := layer.NewConvolution("conv", []int{2, 2}, 1, 2)
	in := randomVector(rng, 8*9)
	cfg := layer.NewConfiguration(1, 3, 3)
	out, err := l.OutputConfiguration([]layer.Configuration{cfg})
	require.NoError(t, err)
	spec := backend.Spec{Layer: l, Inputs: []layer.Configuration{cfg}, Output: out}
	weights := [][]float32{randomVector(rng, 8), randomVector(rng, 2)}

	run := func(b *CPUBackend) []float32 {
		u, err := b.Table().Tester(spec)
		require.NoError(t, err)
		p := &backend.Pass{
			Entries: 8,
			Inputs:  [][]float32{in},
			Output:  make([]float32, 8*out.NeuronCount()),
			Weights: weights,
			Scratch: make([]float32, u.Requirements().Floats(8)),
		}
		require.NoError(t, u.Forward(p))
		return p.Output
	}
	par := parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}
	assert.InDeltaSlice(t, run(NewWithConfig(parallel.Sequential())), run(NewWithConfig(par)), 1e-6)
}
