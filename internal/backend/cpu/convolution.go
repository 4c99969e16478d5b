package cpu

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/parallel"
)

// convolution lowers every entry to a column matrix (im2col) and multiplies
// it with the weight matrix.
//
// Weights are [out][in][window] with window dimension 0 fastest, which is
// row-major [out, in*window]. The column matrix is [in*window, positions].
type convolution struct {
	notInPlace
	par parallel.Config

	outFm     int
	inNeurons int
	positions int   // Output neurons per feature map
	rows      int   // in * window
	index     []int // rows*positions input offsets, -1 for padding
}

func (cpu *CPUBackend) newConvolution(spec backend.Spec, _ bool) (backend.Updater, error) {
	l := spec.Layer.(*layer.Convolution)
	in := spec.Inputs[0]
	out := spec.Output

	window := volume(l.WindowSizes)
	u := &convolution{
		par:       cpu.par,
		outFm:     l.OutputFeatureMaps,
		inNeurons: in.NeuronCount(),
		positions: out.NeuronCountPerFeatureMap(),
		rows:      l.InputFeatureMaps * window,
	}
	u.index = make([]int, u.rows*u.positions)

	inStrides := strides(in.Dims)
	inSize := in.NeuronCountPerFeatureMap()
	x := make([]int, len(in.Dims))
	positions(l.WindowSizes, func(w []int, wl int) {
		positions(out.Dims, func(pos []int, p int) {
			offset := 0
			inside := true
			for d := range pos {
				left, _ := l.Padding(d)
				x[d] = pos[d] + w[d] - left
				if x[d] < 0 || x[d] >= in.Dims[d] {
					inside = false
					break
				}
				offset += x[d] * inStrides[d]
			}
			for fm := 0; fm < l.InputFeatureMaps; fm++ {
				row := fm*window + wl
				if inside {
					u.index[row*u.positions+p] = fm*inSize + offset
				} else {
					u.index[row*u.positions+p] = -1
				}
			}
		})
	})
	return u, nil
}

func (u *convolution) Requirements() backend.Requirements {
	return backend.Requirements{PerEntry: u.rows * u.positions}
}

func (u *convolution) column(p *backend.Pass, entry int) blas32.General {
	size := u.rows * u.positions
	return blas32.General{Rows: u.rows, Cols: u.positions, Stride: u.positions, Data: p.Scratch[entry*size : (entry+1)*size]}
}

func (u *convolution) perOutput(buf []float32, entry int) blas32.General {
	size := u.outFm * u.positions
	return blas32.General{Rows: u.outFm, Cols: u.positions, Stride: u.positions, Data: buf[entry*size : (entry+1)*size]}
}

func (u *convolution) weights(p *backend.Pass) blas32.General {
	return blas32.General{Rows: u.outFm, Cols: u.rows, Stride: u.rows, Data: p.Weights[0]}
}

func (u *convolution) input(buf []float32, entry int) []float32 {
	return buf[entry*u.inNeurons : (entry+1)*u.inNeurons]
}

func (u *convolution) Forward(p *backend.Pass) error {
	w := u.weights(p)
	bias := p.Weights[1]
	parallel.For(p.Entries, func(e int) {
		col := u.column(p, e)
		gather(col.Data, u.input(p.Inputs[0], e), u.index)
		out := u.perOutput(p.Output, e)
		for o := 0; o < u.outFm; o++ {
			row := out.Data[o*u.positions : (o+1)*u.positions]
			for i := range row {
				row[i] = bias[o]
			}
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, w, col, 1, out)
	}, u.par)
	return nil
}

func (u *convolution) BackwardData(p *backend.Pass, _ int) error {
	w := u.weights(p)
	parallel.For(p.Entries, func(e int) {
		col := u.column(p, e)
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, w, u.perOutput(p.OutputErrors, e), 0, col)
		scatterAdd(u.input(p.InputErrors[0], e), col.Data, u.index)
	}, u.par)
	return nil
}

func (u *convolution) UpdateWeights(p *backend.Pass) error {
	grad := blas32.General{Rows: u.outFm, Cols: u.rows, Stride: u.rows, Data: p.Gradients[0]}
	biasGrad := p.Gradients[1]
	for e := 0; e < p.Entries; e++ {
		col := u.column(p, e)
		dOut := u.perOutput(p.OutputErrors, e)
		gather(col.Data, u.input(p.Inputs[0], e), u.index)
		blas32.Gemm(blas.NoTrans, blas.Trans, 1, dOut, col, 1, grad)
		for o := 0; o < u.outFm; o++ {
			var sum float32
			for _, v := range dOut.Data[o*u.positions : (o+1)*u.positions] {
				sum += v
			}
			biasGrad[o] += sum
		}
	}
	return nil
}

func (u *convolution) FusedBackward() bool { return false }

func (u *convolution) BackwardDataAndWeights(p *backend.Pass) error {
	if err := u.UpdateWeights(p); err != nil {
		return err
	}
	if p.InputErrors[0] != nil {
		return u.BackwardData(p, 0)
	}
	return nil
}
