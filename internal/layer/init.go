package layer

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// xavierUniform fills w from U(-sqrt(6/(fanIn+fanOut)), sqrt(6/(fanIn+fanOut))).
func xavierUniform(w []float32, fanIn, fanOut int, rng *rand.Rand) {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
}

// orthogonal fills w, viewed as rows x cols row-major, with a matrix whose
// rows (or columns, when rows > cols) are orthonormal, scaled by gain.
func orthogonal(w []float32, rows, cols int, gain float64, rng *rand.Rand) {
	// Factorize a tall gaussian matrix; Q has orthonormal columns.
	tall, short := rows, cols
	if rows < cols {
		tall, short = cols, rows
	}
	a := mat.NewDense(tall, short, nil)
	for i := 0; i < tall; i++ {
		for j := 0; j < short; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	var qr mat.QR
	qr.Factorize(a)
	var q mat.Dense
	qr.QTo(&q)

	// Sign correction with the diagonal of R gives a uniform distribution.
	var r mat.Dense
	qr.RTo(&r)
	sign := make([]float64, short)
	for j := range sign {
		sign[j] = 1
		if r.At(j, j) < 0 {
			sign[j] = -1
		}
	}

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var v float64
			if rows >= cols {
				v = q.At(i, j) * sign[j]
			} else {
				v = q.At(j, i) * sign[i]
			}
			w[i*cols+j] = float32(v * gain)
		}
	}
}
