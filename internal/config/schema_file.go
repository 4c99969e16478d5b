package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/schema"
)

// SchemaFile is a YAML network description:
//
//	name: lenet
//	layers:
//	  - type: Convolution
//	    name: conv1
//	    window_sizes: [5, 5]
//	    input_feature_maps: 1
//	    output_feature_maps: 6
//	  - type: Rectifier
//	    name: relu1
//
// Keys other than type, name and inputs set the variant's parameters.
// Layers without inputs read the previous layer.
type SchemaFile struct {
	Name   string      `yaml:"name"`
	Layers []yaml.Node `yaml:"layers"`
}

type layerHeader struct {
	Type   string   `yaml:"type"`
	Name   string   `yaml:"name"`
	Inputs []string `yaml:"inputs"`
}

// LoadSchema reads the schema description at path.
func LoadSchema(path string) (*schema.Schema, error) {
	//nolint:gosec // G304: schema path is user input
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, neterr.WrapIO(err, "read "+path)
	}
	return ParseSchema(b)
}

// ParseSchema decodes and builds a schema description.
func ParseSchema(b []byte) (*schema.Schema, error) {
	var f SchemaFile
	if err := yaml.NewDecoder(bytes.NewReader(b)).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, neterr.Configf("", "schema description is empty")
		}
		return nil, neterr.WrapFormat(err, "parse schema description")
	}
	return f.BuildSchema()
}

// BuildSchema creates every layer and validates the graph.
func (f *SchemaFile) BuildSchema() (*schema.Schema, error) {
	if f.Name == "" {
		return nil, neterr.Configf("", "schema has no name")
	}
	if len(f.Layers) == 0 {
		return nil, neterr.Configf("", "schema %q has no layers", f.Name)
	}
	layers := make([]layer.Layer, len(f.Layers))
	for i := range f.Layers {
		l, err := decodeLayer(&f.Layers[i])
		if err != nil {
			return nil, err
		}
		layers[i] = l
	}
	return schema.New(f.Name, layers...)
}

func decodeLayer(node *yaml.Node) (layer.Layer, error) {
	var h layerHeader
	if err := node.Decode(&h); err != nil {
		return nil, neterr.WrapFormat(err, "decode layer header")
	}
	if h.Type == "" {
		return nil, neterr.Configf(h.Name, "line %d: layer has no type, expected one of %v", node.Line, layer.TypeNames())
	}
	l, err := layer.New(h.Type, h.Name, h.Inputs...)
	if err != nil {
		return nil, err
	}
	if err := node.Decode(l); err != nil {
		return nil, neterr.WithLayer(neterr.WrapFormat(err, "decode parameters"), h.Name)
	}
	return l, nil
}
