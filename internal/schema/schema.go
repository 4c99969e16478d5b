// Package schema implements the network schema: an ordered, acyclic graph
// of layers connected by named ports.
//
// A Schema is built once and then shared read-only by any number of
// engines. Layers passed to New are cloned, so later changes by the caller
// never reach a built schema.
package schema

import (
	"slices"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
)

// DefaultInput is the external input a leading layer without declared
// inputs is bound to.
const DefaultInput = "input"

// Schema is a validated layer graph.
type Schema struct {
	name      string
	layers    []layer.Layer // Topological order
	index     map[string]int
	consumers map[string][]string
	externals []string
	trainable map[string]bool // Layer has weights or reads from one that does
}

// New validates layers and returns a schema. A layer without declared
// inputs reads the previous layer, or DefaultInput when it is first.
func New(name string, layers ...layer.Layer) (*Schema, error) {
	cloned := make([]layer.Layer, len(layers))
	prev := DefaultInput
	for i, l := range layers {
		if l == nil {
			return nil, neterr.Configf("", "layer %d is nil", i)
		}
		c := l.Clone()
		if len(c.Inputs()) == 0 {
			s, ok := c.(layer.Setter)
			if !ok {
				return nil, neterr.Configf(c.Name(), "layer has no inputs and cannot be bound")
			}
			s.Bind(prev)
		}
		cloned[i] = c
		prev = c.Name()
	}
	return build(name, cloned)
}

func build(name string, layers []layer.Layer) (*Schema, error) {
	pos := make(map[string]int, len(layers))
	for i, l := range layers {
		if l.Name() == "" {
			return nil, neterr.Configf("", "layer %d (%s) has no name", i, l.TypeName())
		}
		if _, dup := pos[l.Name()]; dup {
			return nil, neterr.Configf(l.Name(), "duplicate layer name")
		}
		pos[l.Name()] = i
		if len(l.Inputs()) == 0 {
			return nil, neterr.Configf(l.Name(), "layer has no inputs")
		}
		if err := l.Check(); err != nil {
			return nil, neterr.WithLayer(err, l.Name())
		}
	}

	s := &Schema{
		name:      name,
		index:     make(map[string]int, len(layers)),
		consumers: make(map[string][]string),
		trainable: make(map[string]bool, len(layers)),
	}
	seenExternal := make(map[string]bool)
	for _, l := range layers {
		for _, in := range l.Inputs() {
			if in == l.Name() {
				return nil, neterr.Configf(l.Name(), "layer reads its own output")
			}
			s.consumers[in] = append(s.consumers[in], l.Name())
			if _, isLayer := pos[in]; !isLayer && !seenExternal[in] {
				seenExternal[in] = true
				s.externals = append(s.externals, in)
			}
		}
	}

	order, err := topologicalSort(layers, pos)
	if err != nil {
		return nil, err
	}
	s.layers = order
	for i, l := range order {
		s.index[l.Name()] = i
		t := layer.HasWeights(l)
		for _, in := range l.Inputs() {
			t = t || s.trainable[in]
		}
		s.trainable[l.Name()] = t
	}
	return s, nil
}

// topologicalSort orders layers so that every layer follows its inputs,
// keeping the declared order wherever the graph allows it.
func topologicalSort(layers []layer.Layer, pos map[string]int) ([]layer.Layer, error) {
	inDegree := make([]int, len(layers))
	dependents := make([][]int, len(layers))
	for i, l := range layers {
		for _, in := range l.Inputs() {
			if j, ok := pos[in]; ok {
				inDegree[i]++
				dependents[j] = append(dependents[j], i)
			}
		}
	}

	var ready []int
	for i, d := range inDegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]layer.Layer, 0, len(layers))
	for len(ready) > 0 {
		slices.Sort(ready)
		i := ready[0]
		ready = ready[1:]
		order = append(order, layers[i])
		for _, j := range dependents[i] {
			inDegree[j]--
			if inDegree[j] == 0 {
				ready = append(ready, j)
			}
		}
	}

	if len(order) != len(layers) {
		for i, d := range inDegree {
			if d > 0 {
				return nil, neterr.Configf(layers[i].Name(), "layer is part of a cycle")
			}
		}
	}
	return order, nil
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Len returns the layer count.
func (s *Schema) Len() int { return len(s.layers) }

// Layers returns the layers in topological order. Callers must not modify
// the returned layers.
func (s *Schema) Layers() []layer.Layer { return slices.Clone(s.layers) }

// At returns the layer at topological index i.
func (s *Schema) At(i int) layer.Layer { return s.layers[i] }

// Layer returns the named layer.
func (s *Schema) Layer(name string) (layer.Layer, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.layers[i], true
}

// Index returns the topological index of the named layer, or -1.
func (s *Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// ExternalInputs lists the input names not produced by any layer, in order
// of first use.
func (s *Schema) ExternalInputs() []string { return slices.Clone(s.externals) }

// IsExternal reports whether name is an external input.
func (s *Schema) IsExternal(name string) bool {
	return slices.Contains(s.externals, name)
}

// Consumers lists the layers reading name.
func (s *Schema) Consumers(name string) []string { return slices.Clone(s.consumers[name]) }

// Sinks lists the layers whose output nobody reads.
func (s *Schema) Sinks() []string {
	var out []string
	for _, l := range s.layers {
		if len(s.consumers[l.Name()]) == 0 {
			out = append(out, l.Name())
		}
	}
	return out
}

// HasWeights reports whether any layer declares trainable weights.
func (s *Schema) HasWeights() bool {
	for _, l := range s.layers {
		if layer.HasWeights(l) {
			return true
		}
	}
	return false
}

// NeedsBackwardData reports whether the gradient for input i of the named
// layer is consumed by anything. It is false when no layer behind that
// input has weights, which makes the first trainable layer skip its
// backward-data pass.
func (s *Schema) NeedsBackwardData(name string, i int) bool {
	l, ok := s.Layer(name)
	if !ok || i < 0 || i >= len(l.Inputs()) {
		return false
	}
	return s.trainable[l.Inputs()[i]]
}

// Clone returns a deep copy.
func (s *Schema) Clone() *Schema {
	layers := make([]layer.Layer, len(s.layers))
	for i, l := range s.layers {
		layers[i] = l.Clone()
	}
	c, err := build(s.name, layers)
	if err != nil {
		// A validated schema always rebuilds.
		panic(err)
	}
	return c
}
