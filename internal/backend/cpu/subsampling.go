package cpu

import (
	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/parallel"
)

// averageSubsampling averages a window of neurons, consecutive feature maps
// and consecutive entries into one output neuron.
type averageSubsampling struct {
	notInPlace
	noWeights
	par parallel.Config

	entryFactor int
	fmFactor    int
	outFm       int
	inSize      int     // Input neurons per feature map
	outSize     int     // Output neurons per feature map
	window      [][]int // Input spatial offsets per output position
	mult        float32
}

func (cpu *CPUBackend) newAverageSubsampling(spec backend.Spec, _ bool) (backend.Updater, error) {
	l := spec.Layer.(*layer.AverageSubsampling)
	in := spec.Inputs[0]
	out := spec.Output

	u := &averageSubsampling{
		par:         cpu.par,
		entryFactor: l.EntryFactor(),
		fmFactor:    l.FeatureMapFactor(),
		outFm:       out.FeatureMaps,
		inSize:      in.NeuronCountPerFeatureMap(),
		outSize:     out.NeuronCountPerFeatureMap(),
		mult:        1 / float32(l.WindowNeurons()),
	}

	inStrides := strides(in.Dims)
	u.window = make([][]int, u.outSize)
	positions(out.Dims, func(pos []int, p int) {
		offsets := make([]int, 0, volume(l.SubsamplingSizes))
		positions(l.SubsamplingSizes, func(w []int, _ int) {
			offset := 0
			for d := range w {
				offset += (pos[d]*l.SubsamplingSizes[d] + w[d]) * inStrides[d]
			}
			offsets = append(offsets, offset)
		})
		u.window[p] = offsets
	})
	return u, nil
}

func (u *averageSubsampling) Requirements() backend.Requirements { return backend.Requirements{} }

// source returns the offset of input feature map fm of the first entry
// averaged into output entry e.
func (u *averageSubsampling) source(e, fm int) int {
	inFm := u.outFm * u.fmFactor
	return (e*u.entryFactor*inFm + fm) * u.inSize
}

func (u *averageSubsampling) Forward(p *backend.Pass) error {
	outEntries := p.Entries / u.entryFactor
	inEntry := u.outFm * u.fmFactor * u.inSize
	parallel.ForEntries(outEntries, u.outFm, func(e, fo int) {
		dst := p.Output[(e*u.outFm+fo)*u.outSize : (e*u.outFm+fo+1)*u.outSize]
		for pos, offsets := range u.window {
			var sum float32
			for es := 0; es < u.entryFactor; es++ {
				for fs := 0; fs < u.fmFactor; fs++ {
					src := p.Inputs[0][u.source(e, fo*u.fmFactor+fs)+es*inEntry:]
					for _, off := range offsets {
						sum += src[off]
					}
				}
			}
			dst[pos] = sum * u.mult
		}
	}, u.par)
	return nil
}

func (u *averageSubsampling) BackwardData(p *backend.Pass, _ int) error {
	outEntries := p.Entries / u.entryFactor
	inEntry := u.outFm * u.fmFactor * u.inSize
	parallel.ForEntries(outEntries, u.outFm, func(e, fo int) {
		errs := p.OutputErrors[(e*u.outFm+fo)*u.outSize : (e*u.outFm+fo+1)*u.outSize]
		for pos, offsets := range u.window {
			g := errs[pos] * u.mult
			for es := 0; es < u.entryFactor; es++ {
				for fs := 0; fs < u.fmFactor; fs++ {
					dst := p.InputErrors[0][u.source(e, fo*u.fmFactor+fs)+es*inEntry:]
					for _, off := range offsets {
						dst[off] += g
					}
				}
			}
		}
	}, u.par)
	return nil
}
