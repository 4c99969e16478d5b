package engine

import (
	"context"
	"slices"
	"time"

	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/data"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/optim"
	"github.com/born-ml/tessera/internal/schema"
)

// Step holds the training policy of one Run.
type Step struct {
	LearningRate float32
	// LearningRates overrides LearningRate per layer name and weight
	// vector index.
	LearningRates map[string][]float32
	WeightDecay   float32
	Momentum      float32
	BatchSize     int // Caps the logical entries per batch when positive

	Loss ErrorSource
	Rule optim.Rule // SGD when nil
}

// learningRate returns the rate of vector j of the named layer.
func (s Step) learningRate(name string, j int) float32 {
	if rates, ok := s.LearningRates[name]; ok && j < len(rates) {
		return rates[j]
	}
	return s.LearningRate
}

// Backward trains the bound network data on a stream of entries.
type Backward struct {
	*core
}

// NewBackward creates a training engine seeding errors at outputs, or at
// the schema's sinks when outputs is empty. Every layer type must have an
// updater in table.
func NewBackward(s *schema.Schema, table *backend.Table, outputs []string, opts ...Option) (*Backward, error) {
	c, err := newCore(s, table, outputs, true, opts)
	if err != nil {
		return nil, err
	}
	return &Backward{core: c}, nil
}

// Run trains on r until it is exhausted, updating the bound weights after
// every batch. Reader inputs the schema does not consume are passed to the
// error source as extras. w receives the outputs computed before each
// update and may be nil.
func (b *Backward) Run(ctx context.Context, r data.Reader, w data.Writer, step Step) (TrainStats, error) {
	var stats TrainStats
	if step.Loss == nil {
		return stats, neterr.Configf("", "training step has no error source")
	}
	rule := step.Rule
	if rule == nil {
		rule = optim.NewSGD()
	}

	watch := startWatch()
	if err := b.prepare(r); err != nil {
		return stats, err
	}
	b.running = true
	defer func() { b.running = false }()

	cost := b.s.Flops(b.configs, b.tiling)
	stats.FlopsPerEntry = cost.Forward + cost.Backward
	if w != nil {
		if err := w.SetOutputs(b.outputConfigs()); err != nil {
			return stats, neterr.WrapIO(err, "set outputs")
		}
	}

	if r.EntryCount() == 0 {
		watch.fill(&stats.Stats)
		b.log.Info("training run done", "entries", 0, "batches", 0, "loss", 0.0)
		return stats, nil
	}

	batch := b.batchSize(r, step.BatchSize)
	b.ensure(batch)

	inputs := r.Inputs()
	var extras []string
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if !b.s.IsExternal(name) {
			extras = append(extras, name)
		}
	}
	dst := b.inputBuffers(batch)
	for _, name := range extras {
		dst[name] = make([]float32, batch*inputs[name].Config.NeuronCount())
	}
	feed := newFeeder(r, append(b.s.ExternalInputs(), extras...))

	var totalLoss float64
	seeded, written := 0, 0
	for {
		if ctx.Err() != nil {
			stats.Interrupted = true
			break
		}

		t := time.Now()
		n, err := feed.read(batch, dst)
		watch.idleSince(t)
		if err != nil {
			return stats, err
		}
		if n == 0 {
			break
		}
		if err := b.checkQuantum(n); err != nil {
			return stats, err
		}

		if err := b.forward(n); err != nil {
			return stats, err
		}
		m := b.average(n)
		loss, err := b.seed(n, m, step.Loss, extras, dst, inputs)
		if err != nil {
			return stats, err
		}
		if err := b.backward(n); err != nil {
			return stats, err
		}
		b.update(m, step, rule)

		if w != nil {
			t = time.Now()
			err = b.write(w, m, &written)
			watch.idleSince(t)
			if err != nil {
				return stats, err
			}
		}
		totalLoss += loss
		seeded += m
		stats.EntriesProcessed += n
		stats.Batches++
		b.log.Debug("batch trained", "entries", n, "loss", loss/float64(max(m, 1)))
	}
	if seeded > 0 {
		stats.Loss = totalLoss / float64(seeded)
	}
	watch.fill(&stats.Stats)
	b.log.Info("training run done", "entries", stats.EntriesProcessed, "batches", stats.Batches, "loss", stats.Loss)
	return stats, nil
}

// errorTensor returns the error tensor of layer i's output.
func (b *Backward) errorTensor(i, n int) []float32 {
	name := b.s.At(i).Name()
	return b.arena[b.plan.Errors[i]][:b.physical(name, n)*b.configs[name].NeuronCount()]
}

// seed clears every error tensor and writes the loss gradient of each
// logical output entry into its tiles, divided by the tile count. It
// returns the summed loss.
func (b *Backward) seed(n, m int, src ErrorSource, extras []string, dst map[string][]float32, inputs map[string]data.Input) (float64, error) {
	for i := 0; i < b.s.Len(); i++ {
		clear(b.errorTensor(i, n))
	}

	var total float64
	ex := make(map[string][]float32, len(extras))
	for _, name := range b.outputs {
		i := b.s.Index(name)
		size := b.configs[name].NeuronCount()
		errs := b.errorTensor(i, n)
		k := 1
		if f := b.tiling[name]; f.ExceedsOne() {
			k = f.Int()
		}
		grad := make([]float32, size)
		scale := 1 / float32(k)

		for e := 0; e < m; e++ {
			// Extras belong to the first input entry of the output entry.
			first := e * n / m
			for _, x := range extras {
				xs := inputs[x].Config.NeuronCount()
				ex[x] = dst[x][first*xs : (first+1)*xs]
			}
			clear(grad)
			loss, err := src.Gradient(name, b.averaged[name][e*size:(e+1)*size], ex, grad)
			if err != nil {
				return 0, neterr.WithLayer(err, name)
			}
			total += loss
			for j := 0; j < k; j++ {
				tile := errs[(e*k+j)*size : (e*k+j+1)*size]
				for x, g := range grad {
					tile[x] += g * scale
				}
			}
		}
	}
	return total, nil
}

// backward runs the units in reverse schema order. Layers needing neither
// input errors nor weight gradients are skipped.
func (b *Backward) backward(n int) error {
	for i := b.s.Len() - 1; i >= 0; i-- {
		l := b.s.At(i)
		hasWeights := layer.HasWeights(l)

		inErrors := make([][]float32, len(l.Inputs()))
		needed := false
		for j, name := range l.Inputs() {
			if slot := b.plan.InputErrors[i][j]; slot >= 0 {
				inErrors[j] = b.arena[slot][:b.physical(name, n)*b.configs[name].NeuronCount()]
				needed = true
			}
		}
		if !needed && !hasWeights {
			continue
		}

		p := b.pass(i, n)
		p.OutputErrors = b.errorTensor(i, n)
		p.InputErrors = inErrors
		if hasWeights {
			p.Gradients = b.grads[i]
		}
		if err := runBackward(b.units[i].(backend.Updater), p, hasWeights); err != nil {
			return neterr.WithLayer(err, l.Name())
		}
	}
	return nil
}

func runBackward(u backend.Updater, p *backend.Pass, hasWeights bool) error {
	if u.FusedBackward() {
		return u.BackwardDataAndWeights(p)
	}
	for j, e := range p.InputErrors {
		if e == nil {
			continue
		}
		if err := u.BackwardData(p, j); err != nil {
			return err
		}
	}
	if hasWeights {
		return u.UpdateWeights(p)
	}
	return nil
}

// update averages the gradients over m logical entries, applies the rule
// to every weight vector and clears the gradients.
func (b *Backward) update(m int, step Step, rule optim.Rule) {
	scale := 1 / float32(max(m, 1))
	for i, l := range b.s.Layers() {
		if !layer.HasWeights(l) {
			continue
		}
		decayed := l.WeightDecayParts()
		for j, g := range b.grads[i] {
			for x := range g {
				g[x] *= scale
			}
			p := optim.Param{
				Layer:        i,
				Vector:       j,
				Weights:      b.data.Weights[i][j],
				Gradient:     g,
				LearningRate: step.learningRate(l.Name(), j),
				Momentum:     step.Momentum,
			}
			if slices.Contains(decayed, j) {
				p.WeightDecay = step.WeightDecay
			}
			rule.Apply(p)
			clear(g)
		}
	}
}
