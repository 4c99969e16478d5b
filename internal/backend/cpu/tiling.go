package cpu

import (
	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/parallel"
)

// tiler produces several output entries per input entry. Output entry
// i*len(maps)+k holds input entry i gathered through maps[k].
type tiler struct {
	notInPlace
	noWeights
	par parallel.Config

	fm      int
	inSize  int
	outSize int
	maps    [][]int // Input spatial offset per output position, one per tile
}

func (t *tiler) Requirements() backend.Requirements { return backend.Requirements{} }

func (t *tiler) Forward(p *backend.Pass) error {
	tiles := len(t.maps)
	parallel.For(p.Entries*tiles, func(o int) {
		e, k := o/tiles, o%tiles
		for fm := 0; fm < t.fm; fm++ {
			src := p.Inputs[0][(e*t.fm+fm)*t.inSize : (e*t.fm+fm+1)*t.inSize]
			dst := p.Output[(o*t.fm+fm)*t.outSize : (o*t.fm+fm+1)*t.outSize]
			gather(dst, src, t.maps[k])
		}
	}, t.par)
	return nil
}

func (t *tiler) BackwardData(p *backend.Pass, _ int) error {
	tiles := len(t.maps)
	parallel.For(p.Entries, func(e int) {
		for k := 0; k < tiles; k++ {
			o := e*tiles + k
			for fm := 0; fm < t.fm; fm++ {
				dst := p.InputErrors[0][(e*t.fm+fm)*t.inSize : (e*t.fm+fm+1)*t.inSize]
				src := p.OutputErrors[(o*t.fm+fm)*t.outSize : (o*t.fm+fm+1)*t.outSize]
				scatterAdd(dst, src, t.maps[k])
			}
		}
	}, t.par)
	return nil
}

func (cpu *CPUBackend) newFlip(spec backend.Spec, _ bool) (backend.Updater, error) {
	l := spec.Layer.(*layer.Flip)
	in := spec.Inputs[0]
	size := in.NeuronCountPerFeatureMap()
	st := strides(in.Dims)

	identity := make([]int, size)
	mirrored := make([]int, size)
	positions(in.Dims, func(pos []int, i int) {
		identity[i] = i
		d := l.Dimension
		mirrored[i] = i + (in.Dims[d]-1-2*pos[d])*st[d]
	})
	return &tiler{
		par:     cpu.par,
		fm:      in.FeatureMaps,
		inSize:  size,
		outSize: size,
		maps:    [][]int{identity, mirrored},
	}, nil
}

func (cpu *CPUBackend) newMultiCrop(spec backend.Spec, _ bool) (backend.Updater, error) {
	l := spec.Layer.(*layer.MultiCrop)
	in := spec.Inputs[0]
	out := spec.Output
	st := strides(in.Dims)

	offsets := l.Offsets()
	maps := make([][]int, len(offsets))
	for k, corner := range offsets {
		m := make([]int, out.NeuronCountPerFeatureMap())
		positions(out.Dims, func(pos []int, i int) {
			src := 0
			for d := range pos {
				src += (pos[d] + corner[d]) * st[d]
			}
			m[i] = src
		})
		maps[k] = m
	}
	return &tiler{
		par:     cpu.par,
		fm:      in.FeatureMaps,
		inSize:  in.NeuronCountPerFeatureMap(),
		outSize: out.NeuronCountPerFeatureMap(),
		maps:    maps,
	}, nil
}
