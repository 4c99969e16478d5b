package optim

// SGD implements plain stochastic gradient descent.
//
// Update rule:
//
//	param = param - lr * (gradient + decay * param)
//
// Momentum in Param is ignored.
type SGD struct{}

// NewSGD creates an SGD rule.
func NewSGD() *SGD { return &SGD{} }

// Name returns "sgd".
func (*SGD) Name() string { return SGDName }

// Apply updates p.Weights.
func (*SGD) Apply(p Param) {
	for i := range p.Weights {
		p.Weights[i] -= p.LearningRate * decayed(p, i)
	}
}

// Reset does nothing; SGD has no state.
func (*SGD) Reset() {}

// Momentum implements SGD with classical momentum.
//
// Update rule:
//
//	velocity = momentum * velocity - lr * (gradient + decay * param)
//	param = param + velocity
//
// Momentum dampens oscillations across batches and accelerates progress
// along directions of consistent gradient.
type Momentum struct {
	velocity state
}

// NewMomentum creates a momentum rule.
func NewMomentum() *Momentum { return &Momentum{velocity: make(state)} }

// Name returns "momentum".
func (*Momentum) Name() string { return MomentumName }

// Apply updates p.Weights and the velocity of the vector.
func (m *Momentum) Apply(p Param) {
	v := m.velocity.get(p)
	for i := range p.Weights {
		v[i] = p.Momentum*v[i] - p.LearningRate*decayed(p, i)
		p.Weights[i] += v[i]
	}
}

// Reset drops every velocity.
func (m *Momentum) Reset() { m.velocity = make(state) }

// Velocity returns a copy of the velocity of (layer, vector).
func (m *Momentum) Velocity(layer, vector int) []float32 {
	return snapshot(m.velocity, layer, vector)
}

// Nesterov implements SGD with Nesterov accelerated momentum in the form
// that keeps weights at the look-ahead point.
//
// Update rule:
//
//	previous = velocity
//	velocity = momentum * velocity - lr * (gradient + decay * param)
//	param = param - momentum * previous + (1 + momentum) * velocity
type Nesterov struct {
	velocity state
}

// NewNesterov creates a Nesterov rule.
func NewNesterov() *Nesterov { return &Nesterov{velocity: make(state)} }

// Name returns "nesterov".
func (*Nesterov) Name() string { return NesterovName }

// Apply updates p.Weights and the velocity of the vector.
func (n *Nesterov) Apply(p Param) {
	v := n.velocity.get(p)
	mu := p.Momentum
	for i := range p.Weights {
		prev := v[i]
		v[i] = mu*v[i] - p.LearningRate*decayed(p, i)
		p.Weights[i] += -mu*prev + (1+mu)*v[i]
	}
}

// Reset drops every velocity.
func (n *Nesterov) Reset() { n.velocity = make(state) }
