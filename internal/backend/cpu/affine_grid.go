package cpu

import (
	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/parallel"
)

// identityTransform is added to the parameters when the layer adjusts for
// zero initialization.
var identityTransform = [layer.AffineParameterCount]float32{1, 0, 0, 0, 1, 0}

// affineGrid maps 6 parameters per entry to normalized sampling coordinates:
// X = a*u + b*v + c and Y = d*u + e*v + f over the output grid (u, v).
type affineGrid struct {
	notInPlace
	noWeights
	par parallel.Config

	width, height int
	scale         float32
	adjust        bool
	u, v          []float32 // Normalized coordinate per column and row
}

func normalized(n int) []float32 {
	c := make([]float32, n)
	if n == 1 {
		return c
	}
	for i := range c {
		c[i] = -1 + 2*float32(i)/float32(n-1)
	}
	return c
}

func (cpu *CPUBackend) newAffineGrid(spec backend.Spec, _ bool) (backend.Updater, error) {
	l := spec.Layer.(*layer.AffineGridGenerator)
	return &affineGrid{
		par:    cpu.par,
		width:  l.OutputSizes[0],
		height: l.OutputSizes[1],
		scale:  l.WeightScale,
		adjust: l.AdjustForZeroInit,
		u:      normalized(l.OutputSizes[0]),
		v:      normalized(l.OutputSizes[1]),
	}, nil
}

func (g *affineGrid) Requirements() backend.Requirements { return backend.Requirements{} }

func (g *affineGrid) Forward(p *backend.Pass) error {
	size := g.width * g.height
	parallel.For(p.Entries, func(e int) {
		var t [layer.AffineParameterCount]float32
		for i, v := range p.Inputs[0][e*layer.AffineParameterCount : (e+1)*layer.AffineParameterCount] {
			t[i] = v * g.scale
			if g.adjust {
				t[i] += identityTransform[i]
			}
		}
		xs := p.Output[2*e*size : (2*e+1)*size]
		ys := p.Output[(2*e+1)*size : (2*e+2)*size]
		for y, v := range g.v {
			for x, u := range g.u {
				xs[y*g.width+x] = t[0]*u + t[1]*v + t[2]
				ys[y*g.width+x] = t[3]*u + t[4]*v + t[5]
			}
		}
	}, g.par)
	return nil
}

func (g *affineGrid) BackwardData(p *backend.Pass, _ int) error {
	size := g.width * g.height
	parallel.For(p.Entries, func(e int) {
		var sums [layer.AffineParameterCount]float32
		dxs := p.OutputErrors[2*e*size : (2*e+1)*size]
		dys := p.OutputErrors[(2*e+1)*size : (2*e+2)*size]
		for y, v := range g.v {
			for x, u := range g.u {
				dx := dxs[y*g.width+x]
				dy := dys[y*g.width+x]
				sums[0] += dx * u
				sums[1] += dx * v
				sums[2] += dx
				sums[3] += dy * u
				sums[4] += dy * v
				sums[5] += dy
			}
		}
		dst := p.InputErrors[0][e*layer.AffineParameterCount : (e+1)*layer.AffineParameterCount]
		for i, s := range sums {
			dst[i] += s * g.scale
		}
	}, g.par)
	return nil
}
