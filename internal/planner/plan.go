package planner

import (
	"log/slog"
	"slices"

	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/netdata"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/schema"
)

const floatBytes = 4

// Options controls Build.
type Options struct {
	Budget     int64    // Memory budget in bytes, <= 0 for unlimited
	MaxEntries int      // Caps the batch size, 0 for no cap
	Training   bool     // Plan error buffers and disable slot sharing
	Outputs    []string // Layer outputs read after the batch
}

// Plan assigns every tensor of a batch to a slot of a shared arena. Slot
// sizes are given per quantum of logical entries.
type Plan struct {
	Quantum    int // Logical entries per batch unit
	MaxEntries int // Logical entries per batch, a multiple of Quantum
	Buffers    BufferConfig

	Slots   []int          // Floats per quantum of each slot
	Inputs  map[string]int // External input name to slot
	Outputs []int          // Output slot per layer, schema order

	// Training plans only.
	Errors      []int   // Error slot per layer output
	InputErrors [][]int // Error slot per layer input, -1 when not needed

	scratchFixed      int
	scratchPerQuantum int
}

// Build sizes the arena for s. configs and tiling hold the configuration
// and cumulative tiling factor of every layer output and external input.
// units are index-aligned with the schema and queried once each. data
// supplies the constant footprint and may be nil.
func Build(s *schema.Schema, configs map[string]layer.Configuration, tiling map[string]layer.TilingFactor,
	units []backend.Tester, data *netdata.NetworkData, opts Options) (*Plan, error) {
	if len(units) != s.Len() {
		return nil, neterr.Configf("", "%d units for %d layers", len(units), s.Len())
	}
	for _, name := range opts.Outputs {
		if _, ok := s.Layer(name); !ok {
			return nil, neterr.Configf(name, "requested output is not a layer of schema %q", s.Name())
		}
	}

	p := &Plan{Quantum: 1, Inputs: make(map[string]int)}
	for _, t := range tiling {
		p.Quantum = layer.LCM(p.Quantum, t.Quantum())
	}

	// perQuantum returns the floats of a tensor for one quantum.
	perQuantum := func(name string) int {
		n, _ := tiling[name].Entries(p.Quantum)
		return n * configs[name].NeuronCount()
	}

	a := newArena(opts.Training)
	remaining := edgeCounts(s)
	for _, name := range opts.Outputs {
		remaining[name]++ // Pinned until the batch is written
	}

	for _, name := range s.ExternalInputs() {
		p.Inputs[name] = a.allocate(perQuantum(name))
	}

	p.Outputs = make([]int, s.Len())
	for i := 0; i < s.Len(); i++ {
		l, u := s.At(i), units[i]
		size := perQuantum(l.Name())

		slot := -1
		if k := u.InPlaceInput(); !opts.Training && k >= 0 && k < len(l.Inputs()) {
			src := l.Inputs()[k]
			if remaining[src] == 1 && perQuantum(src) == size {
				slot = p.slotOf(s, src)
				remaining[src] = 0
			}
		}
		if slot < 0 {
			slot = a.allocate(size)
		}
		p.Outputs[i] = slot

		for _, in := range l.Inputs() {
			if remaining[in] == 0 {
				continue
			}
			remaining[in]--
			if remaining[in] == 0 {
				a.release(p.slotOf(s, in))
			}
		}
		if remaining[l.Name()] == 0 {
			a.release(slot)
		}

		req := u.Requirements()
		inEntries, _ := tiling[l.Inputs()[0]].Entries(p.Quantum)
		p.scratchFixed = max(p.scratchFixed, req.Fixed)
		p.scratchPerQuantum = max(p.scratchPerQuantum, req.PerEntry*inEntries)
	}

	if opts.Training {
		p.Errors = make([]int, s.Len())
		p.InputErrors = make([][]int, s.Len())
		for i := 0; i < s.Len(); i++ {
			p.Errors[i] = a.allocate(a.sizes[p.Outputs[i]])
		}
		for i := 0; i < s.Len(); i++ {
			l := s.At(i)
			p.InputErrors[i] = make([]int, len(l.Inputs()))
			for j, in := range l.Inputs() {
				p.InputErrors[i][j] = -1
				if s.NeedsBackwardData(l.Name(), j) {
					p.InputErrors[i][j] = p.Errors[s.Index(in)]
				}
			}
		}
	}
	p.Slots = a.sizes

	for _, n := range p.Slots {
		p.Buffers.AddPerEntry(int64(n) * floatBytes)
	}
	for _, name := range opts.Outputs {
		// Host buffer for the averaged logical output.
		p.Buffers.AddPerEntry(int64(p.Quantum*configs[name].NeuronCount()) * floatBytes)
	}
	p.Buffers.AddTemporaryFixed(int64(p.scratchFixed) * floatBytes)
	p.Buffers.AddTemporaryPerEntry(int64(p.scratchPerQuantum) * floatBytes)
	if data != nil {
		p.Buffers.AddConstant(data.Bytes())
		if opts.Training {
			for _, w := range data.Weights {
				p.Buffers.AddConstant(int64(w.Elements()) * floatBytes)
			}
		}
	}

	batchUnits := maxUnits
	if opts.Budget > 0 {
		n, err := p.Buffers.MaxEntryCount(opts.Budget)
		if err != nil {
			return nil, err
		}
		batchUnits = n
	}
	if opts.MaxEntries > 0 {
		batchUnits = min(batchUnits, max(1, opts.MaxEntries/p.Quantum))
	}
	p.MaxEntries = min(batchUnits, maxUnits/p.Quantum) * p.Quantum
	return p, nil
}

// slotOf returns the slot holding a layer output or external input.
func (p *Plan) slotOf(s *schema.Schema, name string) int {
	if slot, ok := p.Inputs[name]; ok {
		return slot
	}
	return p.Outputs[s.Index(name)]
}

// SlotFloats returns the floats slot needs for entries logical entries.
func (p *Plan) SlotFloats(slot, entries int) int {
	return p.Slots[slot] * entries / p.Quantum
}

// ScratchFloats returns the shared scratch size for entries logical entries.
func (p *Plan) ScratchFloats(entries int) int {
	return p.scratchFixed + p.scratchPerQuantum*entries/p.Quantum
}

// Bytes returns the footprint of a batch of entries logical entries.
func (p *Plan) Bytes(entries int) int64 {
	return p.Buffers.Total(entries / p.Quantum)
}

// LogValue reports the plan as structured log attributes.
func (p *Plan) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("max_entries", p.MaxEntries),
		slog.Int("quantum", p.Quantum),
		slog.Int("slots", len(p.Slots)),
		slog.String("constant", FormatBytes(p.Buffers.Fixed())),
		slog.String("per_entry", FormatBytes(p.Buffers.PerEntry()/int64(p.Quantum))),
	)
}

// edgeCounts counts how many layer inputs read each name.
func edgeCounts(s *schema.Schema) map[string]int {
	counts := make(map[string]int)
	for _, l := range s.Layers() {
		for _, in := range l.Inputs() {
			counts[in]++
		}
	}
	return counts
}

// arena hands out slots. Outside training, released slots are reused
// best-fit and a reused slot grows to the largest size it serves.
type arena struct {
	reuse bool
	sizes []int
	free  []int
}

func newArena(training bool) *arena {
	return &arena{reuse: !training}
}

func (a *arena) allocate(size int) int {
	if len(a.free) == 0 {
		a.sizes = append(a.sizes, size)
		return len(a.sizes) - 1
	}
	best := 0
	for i := 1; i < len(a.free); i++ {
		if fitsBetter(a.sizes[a.free[i]], a.sizes[a.free[best]], size) {
			best = i
		}
	}
	slot := a.free[best]
	a.free = slices.Delete(a.free, best, best+1)
	a.sizes[slot] = max(a.sizes[slot], size)
	return slot
}

// fitsBetter prefers the smallest slot holding need, else the largest.
func fitsBetter(candidate, current, need int) bool {
	switch {
	case candidate >= need && current >= need:
		return candidate < current
	case candidate >= need:
		return true
	case current >= need:
		return false
	default:
		return candidate > current
	}
}

func (a *arena) release(slot int) {
	if a.reuse {
		a.free = append(a.free, slot)
	}
}
