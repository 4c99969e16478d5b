package optim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tessera/internal/neterr"
)

func param(w, g []float32, lr float32) Param {
	return Param{Weights: w, Gradient: g, LearningRate: lr}
}

func TestSGDUpdate(t *testing.T) {
	w := []float32{2, -1}
	NewSGD().Apply(param(w, []float32{1, -2}, 0.1))
	assert.InDeltaSlice(t, []float32{1.9, -0.8}, w, 1e-6)
}

func TestSGDWeightDecay(t *testing.T) {
	w := []float32{2}
	p := param(w, []float32{0}, 0.5)
	p.WeightDecay = 0.1
	NewSGD().Apply(p)
	// 2 - 0.5 * (0 + 0.1 * 2)
	assert.InDelta(t, 1.9, w[0], 1e-6)
}

func TestMomentumAccumulates(t *testing.T) {
	m := NewMomentum()
	w := []float32{0}
	for i := 0; i < 2; i++ {
		p := param(w, []float32{1}, 0.1)
		p.Momentum = 0.9
		m.Apply(p)
	}
	// v1 = -0.1, v2 = 0.9 * -0.1 - 0.1 = -0.19, w = -0.29
	assert.InDelta(t, -0.29, w[0], 1e-6)
	assert.InDeltaSlice(t, []float32{-0.19}, m.Velocity(0, 0), 1e-6)
}

func TestMomentumStateIsPerVector(t *testing.T) {
	m := NewMomentum()
	a, b := []float32{0}, []float32{0}
	pa := param(a, []float32{1}, 1)
	pa.Momentum = 0.5
	m.Apply(pa)
	m.Apply(pa)

	pb := param(b, []float32{1}, 1)
	pb.Momentum = 0.5
	pb.Vector = 1
	m.Apply(pb)
	assert.InDelta(t, -1, b[0], 1e-6, "a fresh vector starts with zero velocity")
	assert.InDelta(t, -2.5, a[0], 1e-6)

	m.Reset()
	assert.Nil(t, m.Velocity(0, 0))
}

func TestNesterovFirstSteps(t *testing.T) {
	n := NewNesterov()
	w := []float32{0}
	p := param(w, []float32{1}, 0.1)
	p.Momentum = 0.9

	n.Apply(p)
	// v = -0.1, w = (1 + 0.9) * -0.1
	assert.InDelta(t, -0.19, w[0], 1e-6)

	n.Apply(p)
	// prev = -0.1, v = -0.19, w += 0.09 - 0.361
	assert.InDelta(t, -0.19+0.09-0.361, w[0], 1e-6)
}

func TestNesterovWithoutMomentumIsSGD(t *testing.T) {
	a, b := []float32{1, 2, 3}, []float32{1, 2, 3}
	g := []float32{0.5, -0.5, 1}
	NewNesterov().Apply(param(a, g, 0.2))
	NewSGD().Apply(param(b, g, 0.2))
	assert.InDeltaSlice(t, b, a, 1e-6)
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	a := NewAdam(AdamConfig{})
	w := []float32{1, 1}
	a.Apply(param(w, []float32{3, -0.01}, 0.001))

	// m_hat / sqrt(v_hat) is the gradient sign on the first step.
	assert.InDelta(t, 0.999, w[0], 1e-5)
	assert.InDelta(t, 1.001, w[1], 1e-5)
	assert.Equal(t, 1, a.Steps(0, 0))
}

func TestAdamConverges(t *testing.T) {
	// Minimize (w - 3)^2.
	a := NewAdam(AdamConfig{})
	w := []float32{0}
	for i := 0; i < 2000; i++ {
		g := []float32{2 * (w[0] - 3)}
		a.Apply(param(w, g, 0.05))
	}
	assert.InDelta(t, 3, w[0], 1e-2)

	a.Reset()
	assert.Equal(t, 0, a.Steps(0, 0))
}

func TestNew(t *testing.T) {
	for _, name := range Names() {
		r, err := New(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, r.Name())
	}
	r, err := New("")
	require.NoError(t, err)
	assert.Equal(t, SGDName, r.Name())

	_, err = New("rmsprop")
	require.Error(t, err)
	assert.True(t, errors.Is(err, neterr.ErrConfiguration))
	assert.Contains(t, err.Error(), "rmsprop")
}
