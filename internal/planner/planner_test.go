package planner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/netdata"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/schema"
)

type fakeUnit struct {
	inPlace int
	req     backend.Requirements
}

func (u fakeUnit) InPlaceInput() int                  { return u.inPlace }
func (u fakeUnit) Requirements() backend.Requirements { return u.req }
func (u fakeUnit) Forward(_ *backend.Pass) error      { return nil }

func inPlace() backend.Tester  { return fakeUnit{inPlace: 0} }
func separate() backend.Tester { return fakeUnit{inPlace: -1} }

type fixture struct {
	s       *schema.Schema
	configs map[string]layer.Configuration
	tiling  map[string]layer.TilingFactor
}

func newFixture(t *testing.T, in layer.Configuration, layers ...layer.Layer) fixture {
	t.Helper()
	s, err := schema.New("net", layers...)
	require.NoError(t, err)
	configs, err := s.Configurations(map[string]layer.Configuration{schema.DefaultInput: in})
	require.NoError(t, err)
	tiling, err := s.TilingFactors()
	require.NoError(t, err)
	return fixture{s: s, configs: configs, tiling: tiling}
}

func (f fixture) build(t *testing.T, units []backend.Tester, data *netdata.NetworkData, opts Options) *Plan {
	t.Helper()
	p, err := Build(f.s, f.configs, f.tiling, units, data, opts)
	require.NoError(t, err)
	return p
}

func TestBufferConfigMerge(t *testing.T) {
	var a, b BufferConfig
	a.AddConstant(100)
	a.AddPerEntry(10)
	a.AddTemporaryFixed(50)
	a.AddTemporaryPerEntry(4)
	b.AddConstant(20)
	b.AddPerEntry(6)
	b.AddTemporaryFixed(30)
	b.AddTemporaryPerEntry(8)

	a.Merge(b)
	assert.Equal(t, int64(170), a.Fixed())
	assert.Equal(t, int64(24), a.PerEntry())
	assert.Equal(t, int64(170+3*24), a.Total(3))
}

func TestMaxEntryCount(t *testing.T) {
	var c BufferConfig
	c.AddConstant(1000)
	c.AddPerEntry(100)

	n, err := c.MaxEntryCount(1000 + 350)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = c.MaxEntryCount(999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, neterr.ErrResource))

	_, err = c.MaxEntryCount(1050)
	require.Error(t, err, "half an entry must not fit")
	assert.Equal(t, neterr.Resource, neterr.KindOf(err))
}

func TestMaxEntryCountMonotone(t *testing.T) {
	var c BufferConfig
	c.AddConstant(4096)
	c.AddPerEntry(333)
	c.AddTemporaryPerEntry(17)

	prev := 0
	for budget := int64(4096 + 350); budget < 64*1024; budget += 97 {
		n, err := c.MaxEntryCount(budget)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, prev)
		prev = n
	}
}

func TestMaxEntryCountWithoutPerEntryCost(t *testing.T) {
	var c BufferConfig
	c.AddConstant(10)
	n, err := c.MaxEntryCount(10)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestInPlaceAliasing(t *testing.T) {
	f := newFixture(t, layer.NewConfiguration(1, 8),
		layer.NewRectifier("r1"),
		layer.NewRectifier("r2"),
	)
	p := f.build(t, []backend.Tester{inPlace(), inPlace()}, nil, Options{Outputs: []string{"r2"}})

	assert.Len(t, p.Slots, 1)
	assert.Equal(t, p.Inputs[schema.DefaultInput], p.Outputs[0])
	assert.Equal(t, p.Outputs[0], p.Outputs[1])
}

func TestRequestedOutputIsNotOverwritten(t *testing.T) {
	f := newFixture(t, layer.NewConfiguration(1, 8),
		layer.NewRectifier("r1"),
		layer.NewRectifier("r2"),
	)
	p := f.build(t, []backend.Tester{inPlace(), inPlace()}, nil, Options{Outputs: []string{"r1", "r2"}})

	assert.Equal(t, p.Inputs[schema.DefaultInput], p.Outputs[0])
	assert.NotEqual(t, p.Outputs[0], p.Outputs[1])
}

func TestSharedProducerIsNotOverwritten(t *testing.T) {
	r := layer.NewRectifier("r")
	a := layer.NewRectifier("a")
	a.Bind("r")
	b := layer.NewRectifier("b")
	b.Bind("r")
	sum := layer.NewAdd("sum", "a", "b")
	f := newFixture(t, layer.NewConfiguration(1, 4), r, a, b, sum)

	p := f.build(t, []backend.Tester{inPlace(), inPlace(), inPlace(), inPlace()}, nil,
		Options{Outputs: []string{"sum"}})
	ia, ib := f.s.Index("a"), f.s.Index("b")
	assert.NotEqual(t, p.Outputs[f.s.Index("r")], p.Outputs[ia], "r has two consumers")
	assert.NotEqual(t, p.Outputs[ia], p.Outputs[ib])
}

func TestLivenessReusesSlots(t *testing.T) {
	f := newFixture(t, layer.NewConfiguration(1, 6),
		layer.NewRectifier("a"),
		layer.NewRectifier("b"),
		layer.NewRectifier("c"),
	)
	p := f.build(t, []backend.Tester{separate(), separate(), separate()}, nil, Options{Outputs: []string{"c"}})

	assert.Len(t, p.Slots, 2)
	assert.NotEqual(t, p.Outputs[0], p.Outputs[1])
	assert.NotEqual(t, p.Outputs[1], p.Outputs[2])
	assert.Equal(t, p.Inputs[schema.DefaultInput], p.Outputs[1])
}

func TestReusedSlotGrows(t *testing.T) {
	f := newFixture(t, layer.NewConfiguration(1, 4),
		layer.NewReshape("flat", layer.NewConfiguration(1, 4)),
		layer.NewConvolution("wide", []int{1}, 1, 3),
		layer.NewRectifier("out"),
	)
	p := f.build(t, []backend.Tester{separate(), separate(), separate()}, nil, Options{Outputs: []string{"out"}})

	// "wide" takes over the input slot and "out" the reshape slot; both
	// grow from 4 to 12 floats.
	assert.Len(t, p.Slots, 2)
	assert.Equal(t, p.Inputs[schema.DefaultInput], p.Outputs[1])
	assert.Equal(t, p.Outputs[0], p.Outputs[2])
	assert.Equal(t, []int{12, 12}, p.Slots)
}

func TestTrainingPlan(t *testing.T) {
	f := newFixture(t, layer.NewConfiguration(1, 5),
		layer.NewConvolution("conv", []int{2}, 1, 2),
		layer.NewRectifier("relu"),
	)
	data := netdata.New(f.s)
	p := f.build(t, []backend.Tester{separate(), inPlace()}, data, Options{Training: true, Outputs: []string{"relu"}})

	assert.Len(t, p.Slots, 5, "input, two outputs, two error slots")
	assert.NotEqual(t, p.Outputs[0], p.Outputs[1], "no aliasing while training")
	assert.Equal(t, []int{-1}, p.InputErrors[0], "the first trainable layer skips backward data")
	assert.Equal(t, []int{p.Errors[0]}, p.InputErrors[1])
	assert.Equal(t, p.Slots[p.Outputs[0]], p.Slots[p.Errors[0]])

	// Weights, custom data and gradients are constant.
	weights := int64(0)
	for _, w := range data.Weights {
		weights += int64(w.Elements()) * 4
	}
	assert.Equal(t, data.Bytes()+weights, p.Buffers.Fixed())
}

func TestScratchIsSharedMaximum(t *testing.T) {
	f := newFixture(t, layer.NewConfiguration(1, 4),
		layer.NewRectifier("a"),
		layer.NewRectifier("b"),
	)
	units := []backend.Tester{
		fakeUnit{inPlace: -1, req: backend.Requirements{Fixed: 10, PerEntry: 2}},
		fakeUnit{inPlace: -1, req: backend.Requirements{Fixed: 3, PerEntry: 7}},
	}
	p := f.build(t, units, nil, Options{Outputs: []string{"b"}})
	assert.Equal(t, 10+7*5, p.ScratchFloats(5))
}

func TestQuantumFromEntrySubsampling(t *testing.T) {
	pool := layer.NewAverageSubsampling("pool", 1)
	pool.EntrySubsampling = 4
	f := newFixture(t, layer.NewConfiguration(1, 3),
		layer.NewFlip("flip", 0),
		pool,
	)
	p := f.build(t, []backend.Tester{separate(), separate()}, nil,
		Options{Outputs: []string{"pool"}, MaxEntries: 7})

	// flip doubles, pool divides by four: one pool entry per two inputs.
	assert.Equal(t, 2, p.Quantum)
	assert.Equal(t, 6, p.MaxEntries)
	assert.Equal(t, 6, p.Slots[p.Inputs[schema.DefaultInput]])
	assert.Equal(t, 12, p.SlotFloats(p.Outputs[0], 2))
	assert.GreaterOrEqual(t, p.SlotFloats(p.Outputs[1], 2), 3)
}

func TestBudgetLimitsEntries(t *testing.T) {
	f := newFixture(t, layer.NewConfiguration(1, 4),
		layer.NewRectifier("a"),
	)
	sized := f.build(t, []backend.Tester{separate()}, nil, Options{Outputs: []string{"a"}})
	budget := sized.Buffers.Total(3)

	p := f.build(t, []backend.Tester{separate()}, nil, Options{Outputs: []string{"a"}, Budget: budget})
	assert.Equal(t, 3, p.MaxEntries)
	assert.Equal(t, budget, p.Bytes(3))

	_, err := Build(f.s, f.configs, f.tiling, []backend.Tester{separate()}, nil,
		Options{Outputs: []string{"a"}, Budget: sized.Buffers.PerEntry() - 1})
	assert.True(t, errors.Is(err, neterr.ErrResource))
}

func TestBuildRejectsUnknownOutput(t *testing.T) {
	f := newFixture(t, layer.NewConfiguration(1, 4), layer.NewRectifier("a"))
	_, err := Build(f.s, f.configs, f.tiling, []backend.Tester{separate()}, nil, Options{Outputs: []string{"zzz"}})
	require.Error(t, err)
	assert.Equal(t, neterr.Configuration, neterr.KindOf(err))
	assert.Equal(t, "zzz", neterr.LayerOf(err))
}
