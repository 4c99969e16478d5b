package cpu

import (
	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/parallel"
)

// localContrast subtracts a gaussian-weighted local mean from the affected
// feature maps. The blur is separable: one normalized 1D pass per dimension.
// Near the border only the taps inside the feature map count, and the
// normalization uses their weight sum.
type localContrast struct {
	notInPlace
	noWeights
	par parallel.Config

	fm       int
	affected []bool
	dims     []int
	strides  []int
	size     int
	weights  [][]float32 // One-sided tap weights per dimension
	invNorm  [][]float32 // 1 / weight sum of the valid taps per dimension and position
}

func (cpu *CPUBackend) newLocalContrast(spec backend.Spec, _ bool) (backend.Updater, error) {
	l := spec.Layer.(*layer.LocalContrastSubtractive)
	in := spec.Inputs[0]
	u := &localContrast{
		par:      cpu.par,
		fm:       in.FeatureMaps,
		affected: make([]bool, in.FeatureMaps),
		dims:     in.Dims,
		strides:  strides(in.Dims),
		size:     in.NeuronCountPerFeatureMap(),
		weights:  make([][]float32, len(in.Dims)),
		invNorm:  make([][]float32, len(in.Dims)),
	}
	for _, fm := range l.Affected() {
		u.affected[fm] = true
	}
	for d, n := range in.Dims {
		w := l.WindowWeights(d)
		u.weights[d] = w
		u.invNorm[d] = make([]float32, n)
		for p := 0; p < n; p++ {
			var sum float32
			for q := max(p-len(w)+1, 0); q <= min(p+len(w)-1, n-1); q++ {
				sum += w[abs(q-p)]
			}
			u.invNorm[d][p] = 1 / sum
		}
	}
	return u, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Requirements asks for two feature map buffers per entry.
func (u *localContrast) Requirements() backend.Requirements {
	return backend.Requirements{PerEntry: 2 * u.size}
}

// blur1D applies the normalized kernel of dimension d from src to dst. With
// transpose set it applies the transposed operator, which moves the
// normalization to the source position.
func (u *localContrast) blur1D(dst, src []float32, d int, transpose bool) {
	n := u.dims[d]
	stride := u.strides[d]
	w := u.weights[d]
	norm := u.invNorm[d]
	for base := 0; base < u.size; base++ {
		if (base/stride)%n != 0 {
			continue
		}
		for p := 0; p < n; p++ {
			var acc float32
			for q := max(p-len(w)+1, 0); q <= min(p+len(w)-1, n-1); q++ {
				v := w[abs(q-p)] * src[base+q*stride]
				if transpose {
					v *= norm[q]
				}
				acc += v
			}
			if !transpose {
				acc *= norm[p]
			}
			dst[base+p*stride] = acc
		}
	}
}

// blur runs every dimension pass over fm and returns the buffer holding
// the result.
func (u *localContrast) blur(fm, a, b []float32, transpose bool) []float32 {
	src := fm
	dst := a
	inA := true
	for d := range u.dims {
		u.blur1D(dst, src, d, transpose)
		if inA {
			src, dst = a, b
		} else {
			src, dst = b, a
		}
		inA = !inA
	}
	return src
}

func (u *localContrast) scratch(p *backend.Pass, e int) (a, b []float32) {
	s := p.Scratch[2*e*u.size : 2*(e+1)*u.size]
	return s[:u.size], s[u.size:]
}

func (u *localContrast) Forward(p *backend.Pass) error {
	parallel.For(p.Entries, func(e int) {
		a, b := u.scratch(p, e)
		for fm := 0; fm < u.fm; fm++ {
			off := (e*u.fm + fm) * u.size
			src := p.Inputs[0][off : off+u.size]
			dst := p.Output[off : off+u.size]
			if !u.affected[fm] {
				copy(dst, src)
				continue
			}
			mean := u.blur(src, a, b, false)
			for i := range dst {
				dst[i] = src[i] - mean[i]
			}
		}
	}, u.par)
	return nil
}

func (u *localContrast) BackwardData(p *backend.Pass, _ int) error {
	parallel.For(p.Entries, func(e int) {
		a, b := u.scratch(p, e)
		for fm := 0; fm < u.fm; fm++ {
			off := (e*u.fm + fm) * u.size
			errs := p.OutputErrors[off : off+u.size]
			dst := p.InputErrors[0][off : off+u.size]
			if !u.affected[fm] {
				addTo(dst, errs)
				continue
			}
			spread := u.blur(errs, a, b, true)
			for i := range dst {
				dst[i] += errs[i] - spread[i]
			}
		}
	}, u.par)
	return nil
}
