package optim

import (
	"github.com/chewxy/math32"
)

// Adam implements the Adam (Adaptive Moment Estimation) rule.
//
// Adam combines ideas from RMSprop and momentum:
//   - Maintains exponential moving averages of gradients (first moment)
//   - Maintains exponential moving averages of squared gradients (second moment)
//   - Applies bias correction to compensate for initialization at zero
//
// Update rule, with g = gradient + decay * param:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * g
//	v_t = beta2 * v_{t-1} + (1-beta2) * g²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// The step count t is kept per weight vector. Momentum in Param is ignored.
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	beta1 float32
	beta2 float32
	eps   float32
	m     state
	v     state
	t     map[key]int
}

// AdamConfig holds the Adam coefficients.
type AdamConfig struct {
	Betas [2]float32 // Running average coefficients (default: [0.9, 0.999])
	Eps   float32    // Term for numerical stability (default: 1e-8)
}

// NewAdam creates an Adam rule. Zero fields take their defaults.
func NewAdam(config AdamConfig) *Adam {
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	a := &Adam{beta1: config.Betas[0], beta2: config.Betas[1], eps: config.Eps}
	a.Reset()
	return a
}

// Name returns "adam".
func (*Adam) Name() string { return AdamName }

// Apply updates p.Weights and the moments of the vector.
func (a *Adam) Apply(p Param) {
	k := key{p.Layer, p.Vector}
	a.t[k]++
	t := float32(a.t[k])
	biasCorrection1 := 1 - math32.Pow(a.beta1, t)
	biasCorrection2 := 1 - math32.Pow(a.beta2, t)

	m, v := a.m.get(p), a.v.get(p)
	for i := range p.Weights {
		g := decayed(p, i)
		m[i] = a.beta1*m[i] + (1-a.beta1)*g
		v[i] = a.beta2*v[i] + (1-a.beta2)*g*g
		mHat := m[i] / biasCorrection1
		vHat := v[i] / biasCorrection2
		p.Weights[i] -= p.LearningRate * mHat / (math32.Sqrt(vHat) + a.eps)
	}
}

// Reset drops every moment and step count.
func (a *Adam) Reset() {
	a.m = make(state)
	a.v = make(state)
	a.t = make(map[key]int)
}

// Steps returns how many updates the vector (layer, vector) received.
func (a *Adam) Steps(layer, vector int) int {
	return a.t[key{layer, vector}]
}
