// Package engine runs batches of entries through a schema using the units
// of a backend dispatch table.
//
// An engine moves through the states Unconfigured, DataBound,
// InputConfigured and Planned. Binding data or changing the input
// configuration invalidates the buffer plan; the next plan is computed
// before the following batch, never reused stale. One engine processes one
// batch at a time and is not safe for concurrent use.
package engine

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/data"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/netdata"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/planner"
	"github.com/born-ml/tessera/internal/schema"
)

// State is the lifecycle state of an engine.
type State int

// Engine states.
const (
	Unconfigured State = iota
	DataBound
	InputConfigured
	Planned
	Running
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case DataBound:
		return "data-bound"
	case InputConfigured:
		return "input-configured"
	case Planned:
		return "planned"
	case Running:
		return "running"
	}
	return "unknown"
}

// core holds what the forward and backward engines share.
type core struct {
	s        *schema.Schema
	table    *backend.Table
	outputs  []string
	training bool
	opts     options
	log      *slog.Logger

	tiling  map[string]layer.TilingFactor
	logical layer.TilingFactor // Tiling of every output after averaging

	data    *netdata.NetworkData
	inputs  map[string]layer.Configuration // External inputs
	configs map[string]layer.Configuration // External inputs and layer outputs
	units   []backend.Tester
	plan    *planner.Plan
	running bool

	capacity int // Logical entries the arena holds
	arena    [][]float32
	scratch  []float32
	averaged map[string][]float32 // Logical outputs of the current batch
	grads    [][][]float32        // Per layer, training only
}

func newCore(s *schema.Schema, table *backend.Table, outputs []string, training bool, opts []Option) (*core, error) {
	if s == nil || table == nil {
		return nil, neterr.Configf("", "engine needs a schema and a dispatch table")
	}
	if err := table.Check(s, training); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		outputs = s.Sinks()
	}
	var unique []string
	for _, name := range outputs {
		if !slices.Contains(unique, name) {
			unique = append(unique, name)
		}
	}
	outputs = unique

	tiling, err := s.TilingFactors()
	if err != nil {
		return nil, err
	}

	c := &core{
		s:        s,
		table:    table,
		outputs:  outputs,
		training: training,
		opts:     defaultOptions(),
		tiling:   tiling,
	}
	for _, o := range opts {
		o(&c.opts)
	}
	c.log = c.opts.logger.With("schema", s.Name(), "backend", table.Name())

	for i, name := range outputs {
		if _, ok := s.Layer(name); !ok {
			return nil, neterr.Configf(name, "requested output is not a layer of schema %q", s.Name())
		}
		f := tiling[name]
		if f.ExceedsOne() {
			if f.Int() == 0 {
				return nil, neterr.Configf(name, "output tiling factor %s exceeds one and is not an integer", f)
			}
			f = layer.One
		}
		if i == 0 {
			c.logical = f
		} else if !f.Equal(c.logical) {
			return nil, neterr.Configf(name, "output entry factor %s differs from %s of output %q", f, c.logical, outputs[0])
		}
	}
	return c, nil
}

// State returns the lifecycle state.
func (c *core) State() State {
	switch {
	case c.running:
		return Running
	case c.data == nil:
		return Unconfigured
	case c.configs == nil:
		return DataBound
	case c.plan == nil:
		return InputConfigured
	}
	return Planned
}

// Schema returns the schema the engine runs.
func (c *core) Schema() *schema.Schema { return c.s }

// Outputs returns the requested outputs.
func (c *core) Outputs() []string { return slices.Clone(c.outputs) }

// Data returns the bound network data.
func (c *core) Data() *netdata.NetworkData { return c.data }

// Plan returns the current buffer plan, or nil.
func (c *core) Plan() *planner.Plan { return c.plan }

// Configurations returns the configuration of every external input and
// layer output, or nil before the input configuration is known.
func (c *core) Configurations() map[string]layer.Configuration { return maps.Clone(c.configs) }

// SetData binds d after checking it against the schema. The engine uses d
// in place; training updates its weights. A plan is recomputed when the
// input configuration is already known.
func (c *core) SetData(d *netdata.NetworkData) error {
	if d == nil {
		c.ClearData()
		return nil
	}
	if err := d.CheckConsistency(c.s); err != nil {
		return err
	}
	c.data = d
	c.invalidate()
	c.log.Info("data bound", "layers", c.s.Len(), "bytes", d.Bytes())
	if c.configs != nil {
		return c.replan()
	}
	return nil
}

// ClearData unbinds the network data and drops the plan.
func (c *core) ClearData() {
	c.data = nil
	c.invalidate()
}

// SetInputConfiguration declares the configuration of every external
// input. Units are recreated and the plan recomputed when it changed.
func (c *core) SetInputConfiguration(inputs map[string]layer.Configuration) error {
	if c.configs != nil && c.sameInputs(inputs) {
		if c.plan == nil && c.data != nil {
			return c.replan()
		}
		return nil
	}
	configs, err := c.s.Configurations(inputs)
	if err != nil {
		return err
	}

	units := make([]backend.Tester, c.s.Len())
	for i, l := range c.s.Layers() {
		spec := backend.Spec{Layer: l, Inputs: c.s.InputConfigs(l, configs), Output: configs[l.Name()]}
		if c.training {
			u, err := c.table.Updater(spec)
			if err != nil {
				return neterr.WithLayer(err, l.Name())
			}
			units[i] = u
		} else {
			u, err := c.table.Tester(spec)
			if err != nil {
				return neterr.WithLayer(err, l.Name())
			}
			units[i] = u
		}
	}

	c.inputs = make(map[string]layer.Configuration)
	for _, name := range c.s.ExternalInputs() {
		c.inputs[name] = configs[name]
	}
	c.configs = configs
	c.units = units
	c.invalidate()
	if c.data != nil {
		return c.replan()
	}
	return nil
}

func (c *core) sameInputs(inputs map[string]layer.Configuration) bool {
	for _, name := range c.s.ExternalInputs() {
		in, ok := inputs[name]
		if !ok || !in.Equal(c.inputs[name]) {
			return false
		}
	}
	return true
}

func (c *core) invalidate() {
	c.plan = nil
	c.capacity = 0
	c.arena = nil
	c.scratch = nil
	c.averaged = nil
	c.grads = nil
}

func (c *core) replan() error {
	plan, err := planner.Build(c.s, c.configs, c.tiling, c.units, c.data, planner.Options{
		Budget:     c.opts.budget,
		MaxEntries: c.opts.maxEntries,
		Training:   c.training,
		Outputs:    c.outputs,
	})
	if err != nil {
		return err
	}
	c.plan = plan
	c.log.Info("plan computed", "plan", plan)
	return nil
}

// prepare binds the reader's input configuration and makes sure a plan
// exists.
func (c *core) prepare(r data.Reader) error {
	if c.data == nil {
		return neterr.Configf("", "no network data bound")
	}
	available := r.Inputs()
	inputs := make(map[string]layer.Configuration)
	for _, name := range c.s.ExternalInputs() {
		in, ok := available[name]
		if !ok {
			return neterr.Configf("", "reader has no input %q", name)
		}
		inputs[name] = in.Config
	}
	if err := c.SetInputConfiguration(inputs); err != nil {
		return err
	}
	if c.plan == nil {
		return c.replan()
	}
	return nil
}

// StreamBatchEntries caps the logical entries per batch for readers that
// don't know their entry count.
const StreamBatchEntries = 256

// batchSize returns the logical entries per batch for r, a multiple of the
// tiling quantum. limit caps it when positive.
func (c *core) batchSize(r data.Reader, limit int) int {
	q := c.plan.Quantum
	n := c.plan.MaxEntries
	if limit > 0 {
		n = min(n, max(q, limit/q*q))
	}
	switch count := r.EntryCount(); {
	case count > 0:
		n = min(n, (count+q-1)/q*q)
	case count == 0:
		n = q
	default:
		n = min(n, max(q, StreamBatchEntries/q*q))
	}
	return n
}

// ensure sizes the arena for entries logical entries.
func (c *core) ensure(entries int) {
	if entries <= c.capacity {
		return
	}
	c.arena = make([][]float32, len(c.plan.Slots))
	for i := range c.arena {
		c.arena[i] = make([]float32, c.plan.SlotFloats(i, entries))
	}
	c.scratch = make([]float32, c.plan.ScratchFloats(entries))
	c.averaged = make(map[string][]float32, len(c.outputs))
	for _, name := range c.outputs {
		c.averaged[name] = make([]float32, entries*c.configs[name].NeuronCount())
	}
	if c.training && c.grads == nil {
		c.grads = make([][][]float32, c.s.Len())
		for i, l := range c.s.Layers() {
			c.grads[i] = l.DataConfig().Allocate()
		}
	}
	c.capacity = entries
}

// physical returns the physical entries of name for n logical entries.
func (c *core) physical(name string, n int) int {
	k, _ := c.tiling[name].Entries(n)
	return k
}

// value returns the tensor of a layer output or external input.
func (c *core) value(name string, n int) []float32 {
	slot, ok := c.plan.Inputs[name]
	if !ok {
		slot = c.plan.Outputs[c.s.Index(name)]
	}
	return c.arena[slot][:c.physical(name, n)*c.configs[name].NeuronCount()]
}

// pass assembles the forward buffers of layer i.
func (c *core) pass(i, n int) *backend.Pass {
	l := c.s.At(i)
	entries := c.physical(l.Inputs()[0], n)
	inputs := make([][]float32, len(l.Inputs()))
	for j, name := range l.Inputs() {
		inputs[j] = c.value(name, n)
	}
	return &backend.Pass{
		Entries: entries,
		Inputs:  inputs,
		Output:  c.value(l.Name(), n),
		Weights: c.data.Weights[i],
		Custom:  c.data.Custom[i],
		Scratch: c.scratch[:c.units[i].Requirements().Floats(entries)],
	}
}

// forward runs every unit in schema order over n logical entries.
func (c *core) forward(n int) error {
	for i, u := range c.units {
		if err := u.Forward(c.pass(i, n)); err != nil {
			return neterr.WithLayer(err, c.s.At(i).Name())
		}
	}
	return nil
}

// average reduces the requested outputs to logical entries, averaging the
// tiles of outputs with an integral tiling factor above one. It returns the
// logical output entry count.
func (c *core) average(n int) int {
	m, _ := c.logical.Entries(n)
	for _, name := range c.outputs {
		raw := c.value(name, n)
		dst := c.averaged[name][:m*c.configs[name].NeuronCount()]
		f := c.tiling[name]
		if !f.ExceedsOne() {
			copy(dst, raw)
			continue
		}
		k, size := f.Int(), c.configs[name].NeuronCount()
		scale := 1 / float32(k)
		for e := 0; e < m; e++ {
			out := dst[e*size : (e+1)*size]
			clear(out)
			for j := 0; j < k; j++ {
				tile := raw[(e*k+j)*size : (e*k+j+1)*size]
				for x, v := range tile {
					out[x] += v
				}
			}
			for x := range out {
				out[x] *= scale
			}
		}
	}
	return m
}

func (c *core) outputConfigs() map[string]layer.Configuration {
	out := make(map[string]layer.Configuration, len(c.outputs))
	for _, name := range c.outputs {
		out[name] = c.configs[name].Clone()
	}
	return out
}

// write hands m logical output entries to w, numbering them from *next.
func (c *core) write(w data.Writer, m int, next *int) error {
	src := make(map[string][]float32, len(c.outputs))
	for e := 0; e < m; e++ {
		for _, name := range c.outputs {
			size := c.configs[name].NeuronCount()
			src[name] = c.averaged[name][e*size : (e+1)*size]
		}
		if err := w.Write(*next, src); err != nil {
			return neterr.WrapIO(err, fmt.Sprintf("write entry %d", *next))
		}
		*next++
	}
	return nil
}

// feeder pulls entries from a reader in increasing id order.
type feeder struct {
	r      data.Reader
	inputs map[string]data.Input
	raw    map[string][]byte
	next   int
	done   bool
}

func newFeeder(r data.Reader, names []string) *feeder {
	f := &feeder{r: r, inputs: r.Inputs(), raw: make(map[string][]byte, len(names))}
	for _, name := range names {
		f.raw[name] = make([]byte, f.inputs[name].Bytes())
	}
	return f
}

// read decodes up to limit entries into dst, one float slice per input
// holding limit entries back to back. It returns the entries read.
func (f *feeder) read(limit int, dst map[string][]float32) (int, error) {
	n := 0
	for n < limit && !f.done {
		ok, err := f.r.Read(f.next, f.raw)
		if err != nil {
			return n, neterr.WrapIO(err, fmt.Sprintf("read entry %d", f.next))
		}
		if !ok {
			f.done = true
			break
		}
		for name, buf := range f.raw {
			in := f.inputs[name]
			size := in.Config.NeuronCount()
			if err := data.Decode(dst[name][n*size:(n+1)*size], buf, in.Type); err != nil {
				return n, neterr.Dataf("", "input %q entry %d: %v", name, f.next, err)
			}
		}
		f.next++
		n++
	}
	return n, nil
}

// inputBuffers maps each external input to its slot for limit entries.
func (c *core) inputBuffers(limit int) map[string][]float32 {
	dst := make(map[string][]float32)
	for _, name := range c.s.ExternalInputs() {
		dst[name] = c.value(name, limit)
	}
	return dst
}

// checkQuantum rejects a batch that cannot be split into whole entries at
// every layer.
func (c *core) checkQuantum(n int) error {
	if q := c.plan.Quantum; n%q != 0 {
		return neterr.Dataf("", "batch of %d entries is not a multiple of the tiling quantum %d", n, q)
	}
	return nil
}
