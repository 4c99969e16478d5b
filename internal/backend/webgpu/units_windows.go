//go:build windows

package webgpu

import (
	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/layer"
)

// Table returns a dispatch table with shader units for the element-wise
// and subsampling layers. Every other type resolves through cpu.
func (b *Backend) Table(cpu *backend.Table) *backend.Table {
	t := backend.NewTable(Name).WithFallback(cpu)
	t.Register(layer.ReshapeType, b.factory(b.newReshape))
	t.Register(layer.RectifierType, b.factory(b.newRectifier))
	t.Register(layer.AddType, b.factory(b.newAdd))
	t.Register(layer.AverageSubsamplingType, b.factory(b.newAverageSubsampling))
	return t
}

func (b *Backend) factory(ctor func(spec backend.Spec) backend.Updater) backend.Factory {
	return backend.Factory{
		NewTester: func(spec backend.Spec) (backend.Tester, error) {
			return ctor(spec), nil
		},
		NewUpdater: func(spec backend.Spec) (backend.Updater, error) {
			return ctor(spec), nil
		},
	}
}

// unit holds the hooks shared by every shader unit.
type unit struct {
	b *Backend
}

func (unit) Requirements() backend.Requirements           { return backend.Requirements{} }
func (unit) UpdateWeights(_ *backend.Pass) error          { return nil }
func (unit) FusedBackward() bool                          { return false }
func (unit) BackwardDataAndWeights(_ *backend.Pass) error { return nil }

// axpyInto adds alpha*x into host slice y on the device.
func (u unit) axpyInto(y, x []float32, alpha float32) error {
	xb := u.b.upload(floatBytes(x))
	defer xb.Release()
	yb := u.b.upload(floatBytes(y))
	defer yb.Release()
	params := u.b.uniform(len(y), alpha)
	defer params.Release()

	u.b.dispatch("axpy", axpyShader, len(y), xb, yb, params)
	return u.b.readInto(y, yb)
}

type reshape struct{ unit }

func (b *Backend) newReshape(_ backend.Spec) backend.Updater { return &reshape{unit{b}} }

func (*reshape) InPlaceInput() int { return 0 }

func (*reshape) Forward(p *backend.Pass) error {
	in, out := p.Inputs[0], p.Output
	if len(in) > 0 && len(out) > 0 && &in[0] == &out[0] {
		return nil
	}
	copy(out, in)
	return nil
}

func (u *reshape) BackwardData(p *backend.Pass, _ int) error {
	return u.axpyInto(p.InputErrors[0], p.OutputErrors, 1)
}

type rectifier struct {
	unit
	slope float32
}

func (b *Backend) newRectifier(spec backend.Spec) backend.Updater {
	return &rectifier{unit: unit{b}, slope: spec.Layer.(*layer.Rectifier).NegativeSlope}
}

func (*rectifier) InPlaceInput() int { return 0 }

func (u *rectifier) Forward(p *backend.Pass) error {
	n := len(p.Output)
	xb := u.b.upload(floatBytes(p.Inputs[0][:n]))
	defer xb.Release()
	rb, size := u.b.result(n)
	defer u.b.bufferPool.Release(rb, size, resultUsage)
	params := u.b.uniform(n, u.slope)
	defer params.Release()

	u.b.dispatch("rectifier", rectifierShader, n, xb, rb, params)
	return u.b.readInto(p.Output, rb)
}

func (u *rectifier) BackwardData(p *backend.Pass, _ int) error {
	dst := p.InputErrors[0]
	n := len(dst)
	xb := u.b.upload(floatBytes(p.Inputs[0][:n]))
	defer xb.Release()
	eb := u.b.upload(floatBytes(p.OutputErrors[:n]))
	defer eb.Release()
	rb := u.b.upload(floatBytes(dst))
	defer rb.Release()
	params := u.b.uniform(n, u.slope)
	defer params.Release()

	u.b.dispatch("rectifier_backward", rectifierBackwardShader, n, xb, eb, rb, params)
	return u.b.readInto(dst, rb)
}

type add struct {
	unit
	alpha float32
}

func (b *Backend) newAdd(spec backend.Spec) backend.Updater {
	return &add{unit: unit{b}, alpha: spec.Layer.(*layer.Add).Alpha}
}

func (*add) InPlaceInput() int { return 0 }

func (u *add) Forward(p *backend.Pass) error {
	n := len(p.Output)
	yb := u.b.upload(make([]byte, 4*n))
	defer yb.Release()
	params := u.b.uniform(n, u.alpha)
	defer params.Release()

	// Inputs are uploaded before the first dispatch so the output may alias
	// input 0.
	inputs := make([]*wgpu.Buffer, len(p.Inputs))
	for i, in := range p.Inputs {
		inputs[i] = u.b.upload(floatBytes(in[:n]))
	}
	defer func() {
		for _, buf := range inputs {
			buf.Release()
		}
	}()
	for _, xb := range inputs {
		u.b.dispatch("axpy", axpyShader, n, xb, yb, params)
	}
	return u.b.readInto(p.Output, yb)
}

func (u *add) BackwardData(p *backend.Pass, input int) error {
	return u.axpyInto(p.InputErrors[input], p.OutputErrors, u.alpha)
}

type averageSubsampling struct {
	unit
	entryFactor int
	fmFactor    int
	outFm       int
	inSize      int
	outSize     int
	windowSize  int
	mult        float32

	taps  []int // Input offsets of each output position's window
	owner []int // Output position averaging each input position
}

func (b *Backend) newAverageSubsampling(spec backend.Spec) backend.Updater {
	l := spec.Layer.(*layer.AverageSubsampling)
	in, out := spec.Inputs[0], spec.Output

	u := &averageSubsampling{
		unit:        unit{b},
		entryFactor: l.EntryFactor(),
		fmFactor:    l.FeatureMapFactor(),
		outFm:       out.FeatureMaps,
		inSize:      in.NeuronCountPerFeatureMap(),
		outSize:     out.NeuronCountPerFeatureMap(),
		windowSize:  1,
		mult:        1 / float32(l.WindowNeurons()),
	}
	for _, s := range l.SubsamplingSizes {
		u.windowSize *= s
	}
	u.taps = make([]int, 0, u.outSize*u.windowSize)
	u.owner = make([]int, u.inSize)

	inStride := make([]int, len(in.Dims))
	stride := 1
	for d, n := range in.Dims {
		inStride[d] = stride
		stride *= n
	}
	outPos := make([]int, len(out.Dims))
	for o := 0; o < u.outSize; o++ {
		w := make([]int, len(l.SubsamplingSizes))
		for k := 0; k < u.windowSize; k++ {
			offset := 0
			for d := range w {
				offset += (outPos[d]*l.SubsamplingSizes[d] + w[d]) * inStride[d]
			}
			u.taps = append(u.taps, offset)
			u.owner[offset] = o
			increment(w, l.SubsamplingSizes)
		}
		increment(outPos, out.Dims)
	}
	return u
}

// increment advances pos to the next position in dims, dimension 0 first.
func increment(pos, dims []int) {
	for d := range pos {
		pos[d]++
		if pos[d] < dims[d] {
			return
		}
		pos[d] = 0
	}
}

func (*averageSubsampling) InPlaceInput() int { return -1 }

func (u *averageSubsampling) Forward(p *backend.Pass) error {
	outputs := p.Entries / u.entryFactor * u.outFm * u.outSize
	inputs := p.Entries * u.outFm * u.fmFactor * u.inSize

	xb := u.b.upload(floatBytes(p.Inputs[0][:inputs]))
	defer xb.Release()
	tb := u.b.upload(intBytes(u.taps))
	defer tb.Release()
	rb, size := u.b.result(outputs)
	defer u.b.bufferPool.Release(rb, size, resultUsage)
	params := u.b.uniform(outputs, u.outSize, u.windowSize, u.outFm, u.fmFactor, u.entryFactor, u.inSize, u.mult)
	defer params.Release()

	u.b.dispatch("subsampling", subsamplingShader, outputs, xb, tb, rb, params)
	return u.b.readInto(p.Output[:outputs], rb)
}

func (u *averageSubsampling) BackwardData(p *backend.Pass, _ int) error {
	inputs := p.Entries * u.outFm * u.fmFactor * u.inSize
	outputs := p.Entries / u.entryFactor * u.outFm * u.outSize
	dst := p.InputErrors[0][:inputs]

	eb := u.b.upload(floatBytes(p.OutputErrors[:outputs]))
	defer eb.Release()
	ob := u.b.upload(intBytes(u.owner))
	defer ob.Release()
	rb := u.b.upload(floatBytes(dst))
	defer rb.Release()
	params := u.b.uniform(inputs, u.outSize, u.outFm, u.fmFactor, u.entryFactor, u.inSize, u.mult, 0)
	defer params.Release()

	u.b.dispatch("subsampling_backward", subsamplingBackwardShader, inputs, eb, ob, rb, params)
	return u.b.readInto(dst, rb)
}
