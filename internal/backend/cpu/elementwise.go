package cpu

import (
	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/parallel"
)

// elementwise units see a batch as one flat vector. They may write their
// output into input 0.
type elementwise struct {
	noWeights
	par parallel.Config
}

func (elementwise) InPlaceInput() int { return 0 }

func (elementwise) Requirements() backend.Requirements { return backend.Requirements{} }

func sameBuffer(a, b []float32) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

type reshape struct {
	elementwise
}

func (cpu *CPUBackend) newReshape(_ backend.Spec, _ bool) (backend.Updater, error) {
	return &reshape{elementwise{par: cpu.par}}, nil
}

func (u *reshape) Forward(p *backend.Pass) error {
	if !sameBuffer(p.Output, p.Inputs[0]) {
		copy(p.Output, p.Inputs[0])
	}
	return nil
}

func (u *reshape) BackwardData(p *backend.Pass, _ int) error {
	addTo(p.InputErrors[0], p.OutputErrors)
	return nil
}

type rectifier struct {
	elementwise
	slope float32
}

func (cpu *CPUBackend) newRectifier(spec backend.Spec, _ bool) (backend.Updater, error) {
	l := spec.Layer.(*layer.Rectifier)
	return &rectifier{elementwise: elementwise{par: cpu.par}, slope: l.NegativeSlope}, nil
}

func (u *rectifier) Forward(p *backend.Pass) error {
	in := p.Inputs[0]
	parallel.ForRange(len(p.Output), func(start, end int) {
		for i := start; i < end; i++ {
			if x := in[i]; x < 0 {
				p.Output[i] = x * u.slope
			} else {
				p.Output[i] = x
			}
		}
	}, u.par)
	return nil
}

func (u *rectifier) BackwardData(p *backend.Pass, _ int) error {
	in := p.Inputs[0]
	dst := p.InputErrors[0]
	parallel.ForRange(len(dst), func(start, end int) {
		for i := start; i < end; i++ {
			if in[i] < 0 {
				dst[i] += p.OutputErrors[i] * u.slope
			} else {
				dst[i] += p.OutputErrors[i]
			}
		}
	}, u.par)
	return nil
}

type add struct {
	elementwise
	alpha float32
}

func (cpu *CPUBackend) newAdd(spec backend.Spec, _ bool) (backend.Updater, error) {
	l := spec.Layer.(*layer.Add)
	return &add{elementwise: elementwise{par: cpu.par}, alpha: l.Alpha}, nil
}

func (u *add) Forward(p *backend.Pass) error {
	parallel.ForRange(len(p.Output), func(start, end int) {
		for i := start; i < end; i++ {
			var sum float32
			for _, in := range p.Inputs {
				sum += in[i]
			}
			p.Output[i] = u.alpha * sum
		}
	}, u.par)
	return nil
}

func (u *add) BackwardData(p *backend.Pass, input int) error {
	dst := p.InputErrors[input]
	parallel.ForRange(len(dst), func(start, end int) {
		for i := start; i < end; i++ {
			dst[i] += u.alpha * p.OutputErrors[i]
		}
	}, u.par)
	return nil
}
