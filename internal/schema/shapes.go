package schema

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
)

// Configurations infers the output configuration of every layer from the
// configurations of the external inputs. The result also holds the
// external input configurations.
func (s *Schema) Configurations(inputs map[string]layer.Configuration) (map[string]layer.Configuration, error) {
	configs := make(map[string]layer.Configuration, len(s.layers)+len(s.externals))
	for _, name := range s.externals {
		c, ok := inputs[name]
		if !ok {
			return nil, neterr.Configf("", "missing configuration for input %q", name)
		}
		if err := c.Validate(name); err != nil {
			return nil, err
		}
		configs[name] = c.Clone()
	}
	for _, l := range s.layers {
		out, err := l.OutputConfiguration(s.inputConfigs(l, configs))
		if err != nil {
			return nil, neterr.WithLayer(err, l.Name())
		}
		configs[l.Name()] = out
	}
	return configs, nil
}

// InputConfigs returns the configurations of l's inputs from a map built
// by Configurations.
func (s *Schema) InputConfigs(l layer.Layer, configs map[string]layer.Configuration) []layer.Configuration {
	return s.inputConfigs(l, configs)
}

func (s *Schema) inputConfigs(l layer.Layer, configs map[string]layer.Configuration) []layer.Configuration {
	in := make([]layer.Configuration, len(l.Inputs()))
	for i, name := range l.Inputs() {
		in[i] = configs[name]
	}
	return in
}

// InputConfigurations maps configurations requested at some layer outputs
// back to the external inputs, walking the graph in reverse. Where several
// consumers constrain one output, the covering maximum is kept.
func (s *Schema) InputConfigurations(outputs map[string]layer.Configuration) (map[string]layer.Configuration, error) {
	required := make(map[string]layer.Configuration, len(outputs))
	for name, c := range outputs {
		if _, ok := s.index[name]; !ok {
			return nil, neterr.Configf(name, "unknown layer")
		}
		required[name] = c.Clone()
	}
	for i := len(s.layers) - 1; i >= 0; i-- {
		l := s.layers[i]
		out, ok := required[l.Name()]
		if !ok {
			continue
		}
		for j, in := range l.Inputs() {
			c, err := l.InputConfiguration(j, out)
			if err != nil {
				return nil, neterr.WithLayer(err, l.Name())
			}
			prev, seen := required[in]
			if !seen {
				required[in] = c
				continue
			}
			merged, err := cover(prev, c)
			if err != nil {
				return nil, neterr.WithLayer(err, l.Name())
			}
			required[in] = merged
		}
	}
	result := make(map[string]layer.Configuration, len(s.externals))
	for _, name := range s.externals {
		if c, ok := required[name]; ok {
			result[name] = c
		}
	}
	return result, nil
}

func cover(a, b layer.Configuration) (layer.Configuration, error) {
	if len(a.Dims) != len(b.Dims) {
		return layer.Configuration{}, neterr.Configf("", "required configurations %s and %s have different dimension counts", a, b)
	}
	c := layer.Configuration{FeatureMaps: max(a.FeatureMaps, b.FeatureMaps), Dims: make([]int, len(a.Dims))}
	for i := range a.Dims {
		c.Dims[i] = max(a.Dims[i], b.Dims[i])
	}
	return c, nil
}

// TilingFactors returns the cumulative tiling factor of every layer output
// and external input. The factors of all inputs of a layer must agree.
func (s *Schema) TilingFactors() (map[string]layer.TilingFactor, error) {
	factors := make(map[string]layer.TilingFactor, len(s.layers)+len(s.externals))
	for _, name := range s.externals {
		factors[name] = layer.One
	}
	for _, l := range s.layers {
		in := factors[l.Inputs()[0]]
		for j, name := range l.Inputs()[1:] {
			if !factors[name].Equal(in) {
				return nil, neterr.Configf(l.Name(), "input %d tiling factor %s doesn't match input 0 tiling factor %s", j+1, factors[name], in)
			}
		}
		factors[l.Name()] = in.Mul(l.TilingFactor())
	}
	return factors, nil
}

// Cost holds per-entry floating point operation estimates.
type Cost struct {
	Forward  float64
	Backward float64 // Backward data plus weight gradients
}

// Flops estimates the per-entry cost of the whole network. Each layer's
// estimate is scaled by the physical entries it processes per logical entry.
func (s *Schema) Flops(configs map[string]layer.Configuration, tiling map[string]layer.TilingFactor) Cost {
	var c Cost
	for _, l := range s.layers {
		in := s.inputConfigs(l, configs)
		t := tiling[l.Inputs()[0]]
		if t.Num == 0 {
			t = layer.One
		}
		scale := float64(t.Num) / float64(t.Den)

		c.Forward += l.Flops(in, layer.Forward) * scale
		for j := range l.Inputs() {
			if s.NeedsBackwardData(l.Name(), j) {
				c.Backward += l.Flops(in, layer.BackwardData(j)) * scale
			}
		}
		if layer.HasWeights(l) {
			c.Backward += l.Flops(in, layer.UpdateWeights) * scale
		}
	}
	return c
}

// Summary formats one line per layer. Configurations may be nil.
func (s *Schema) Summary(configs map[string]layer.Configuration) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Schema %q: %d layers\n", s.name, len(s.layers))
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tName\tType\tInputs\tOutput\tWeights\tParameters")
	for i, l := range s.layers {
		out := "-"
		if c, ok := configs[l.Name()]; ok {
			out = c.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			i, l.Name(), l.TypeName(), strings.Join(l.Inputs(), ","), out,
			l.DataConfig().Total(), strings.Join(l.ParameterStrings(), ", "))
	}
	_ = tw.Flush()
	return sb.String()
}
