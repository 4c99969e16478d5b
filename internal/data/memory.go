package data

import (
	"maps"
	"slices"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
)

// MemoryReader serves entries held in memory.
type MemoryReader struct {
	inputs  map[string]Input
	entries map[string][][]byte
	count   int
}

// NewMemoryReader creates an empty reader; add inputs with AddFloat32 and
// AddUint8.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{
		inputs:  make(map[string]Input),
		entries: make(map[string][][]byte),
		count:   -1,
	}
}

// AddFloat32 adds an input of float entries.
func (r *MemoryReader) AddFloat32(name string, cfg layer.Configuration, entries [][]float32) error {
	raw := make([][]byte, len(entries))
	for i, e := range entries {
		if len(e) != cfg.NeuronCount() {
			return neterr.Dataf("", "input %q entry %d has %d values, expected %d", name, i, len(e), cfg.NeuronCount())
		}
		raw[i] = EncodeFloats(e)
	}
	return r.add(name, Input{Config: cfg.Clone(), Type: Float32}, raw)
}

// AddUint8 adds an input of byte samples.
func (r *MemoryReader) AddUint8(name string, cfg layer.Configuration, entries [][]byte) error {
	raw := make([][]byte, len(entries))
	for i, e := range entries {
		if len(e) != cfg.NeuronCount() {
			return neterr.Dataf("", "input %q entry %d has %d values, expected %d", name, i, len(e), cfg.NeuronCount())
		}
		raw[i] = slices.Clone(e)
	}
	return r.add(name, Input{Config: cfg.Clone(), Type: Uint8}, raw)
}

func (r *MemoryReader) add(name string, in Input, raw [][]byte) error {
	if _, dup := r.inputs[name]; dup {
		return neterr.Configf("", "duplicate input %q", name)
	}
	if r.count >= 0 && len(raw) != r.count {
		return neterr.Dataf("", "input %q has %d entries, other inputs have %d", name, len(raw), r.count)
	}
	if err := in.Config.Validate(name); err != nil {
		return err
	}
	r.count = len(raw)
	r.inputs[name] = in
	r.entries[name] = raw
	return nil
}

// EntryCount returns the number of entries.
func (r *MemoryReader) EntryCount() int { return max(r.count, 0) }

// Inputs describes every input.
func (r *MemoryReader) Inputs() map[string]Input { return maps.Clone(r.inputs) }

// Read copies entry id into dst.
func (r *MemoryReader) Read(id int, dst map[string][]byte) (bool, error) {
	if id < 0 || id >= r.EntryCount() {
		return false, nil
	}
	for name, buf := range dst {
		raw, ok := r.entries[name]
		if !ok {
			return false, neterr.Configf("", "reader has no input %q", name)
		}
		if len(buf) != len(raw[id]) {
			return false, neterr.Dataf("", "input %q buffer has %d bytes, entry has %d", name, len(buf), len(raw[id]))
		}
		copy(buf, raw[id])
	}
	return true, nil
}

// Reset does nothing; entries are addressed by id.
func (r *MemoryReader) Reset() error { return nil }

// MemoryWriter collects output entries.
type MemoryWriter struct {
	outputs map[string]layer.Configuration
	entries map[string][][]float32
}

// NewMemoryWriter creates an empty writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{entries: make(map[string][][]float32)}
}

// SetOutputs records the output configurations and drops earlier entries.
func (w *MemoryWriter) SetOutputs(outputs map[string]layer.Configuration) error {
	w.outputs = maps.Clone(outputs)
	w.entries = make(map[string][][]float32, len(outputs))
	return nil
}

// Write stores a copy of entry id. Ids must arrive in order.
func (w *MemoryWriter) Write(id int, src map[string][]float32) error {
	for name, v := range src {
		cfg, ok := w.outputs[name]
		if !ok {
			return neterr.Configf(name, "output was not announced")
		}
		if len(v) != cfg.NeuronCount() {
			return neterr.Dataf(name, "output entry has %d values, expected %d", len(v), cfg.NeuronCount())
		}
		if id != len(w.entries[name]) {
			return neterr.Dataf(name, "output entry %d written out of order, expected %d", id, len(w.entries[name]))
		}
		w.entries[name] = append(w.entries[name], slices.Clone(v))
	}
	return nil
}

// Outputs returns the configurations announced by SetOutputs.
func (w *MemoryWriter) Outputs() map[string]layer.Configuration { return maps.Clone(w.outputs) }

// Entries returns the entries written for output name.
func (w *MemoryWriter) Entries(name string) [][]float32 { return w.entries[name] }

// Len returns the number of entries written for name.
func (w *MemoryWriter) Len(name string) int { return len(w.entries[name]) }
