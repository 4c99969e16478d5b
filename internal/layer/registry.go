package layer

import (
	"sort"

	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/neterr"
)

// Variant type names.
const (
	ConvolutionType              = "Convolution"
	AverageSubsamplingType       = "AverageSubsampling"
	LocalContrastSubtractiveType = "LocalContrastSubtractive"
	AffineGridGeneratorType      = "AffineGridGenerator"
	ReshapeType                  = "Reshape"
	RectifierType                = "Rectifier"
	AddType                      = "Add"
	FlipType                     = "Flip"
	MultiCropType                = "MultiCrop"
)

// Variant type identifiers. These values are persisted and must never change.
var (
	convolutionID              = uuid.MustParse("8f9a0f3c-5b2e-4d61-9c47-1d0b6e2a7c11")
	averageSubsamplingID       = uuid.MustParse("2c6d9b84-0e3f-4a15-b7d2-6f1e8a3c5d22")
	localContrastSubtractiveID = uuid.MustParse("b4e1c7a2-93d8-4f06-8a5b-2e7d1c9f0a33")
	affineGridGeneratorID      = uuid.MustParse("5a3f8e61-c2d4-4b97-a01e-7c6b9d2e4f44")
	reshapeID                  = uuid.MustParse("e7d2a5c9-1b84-4e3f-96a0-3d8c5f1b2a55")
	rectifierID                = uuid.MustParse("1f6c3e8a-7d29-4b50-8e14-9a2d6c0b3f66")
	addID                      = uuid.MustParse("9d0b4a7e-2f61-4c83-b5d9-0e3a7f6c1b77")
	flipID                     = uuid.MustParse("3b8e1d5f-a6c0-4972-8d3b-5f0c2e9a4d88")
	multiCropID                = uuid.MustParse("c0a7f2b6-4e9d-4185-9c62-8b1e3d7a5f99")
)

type variant struct {
	id  uuid.UUID
	new func() Layer
}

var variants = map[string]variant{
	ConvolutionType:              {convolutionID, func() Layer { return &Convolution{} }},
	AverageSubsamplingType:       {averageSubsamplingID, func() Layer { return &AverageSubsampling{FeatureMapSubsampling: 1, EntrySubsampling: 1} }},
	LocalContrastSubtractiveType: {localContrastSubtractiveID, func() Layer { return &LocalContrastSubtractive{} }},
	AffineGridGeneratorType:      {affineGridGeneratorID, func() Layer { return &AffineGridGenerator{AdjustForZeroInit: true, WeightScale: 1} }},
	ReshapeType:                  {reshapeID, func() Layer { return &Reshape{} }},
	RectifierType:                {rectifierID, func() Layer { return &Rectifier{} }},
	AddType:                      {addID, func() Layer { return &Add{Alpha: 1} }},
	FlipType:                     {flipID, func() Layer { return &Flip{} }},
	MultiCropType:                {multiCropID, func() Layer { return &MultiCrop{Center: true} }},
}

var variantNames = func() map[uuid.UUID]string {
	m := make(map[uuid.UUID]string, len(variants))
	for name, v := range variants {
		m[v.id] = name
	}
	return m
}()

// New returns a variant with default parameters, the given instance name and
// input bindings. Parameters must be set and validated with Check before use.
func New(typeName, name string, inputs ...string) (Layer, error) {
	v, ok := variants[typeName]
	if !ok {
		return nil, neterr.Configf(name, "unknown layer type %q", typeName)
	}
	l := v.new()
	s := l.(interface {
		Setter
		setName(string)
	})
	s.setName(name)
	s.Bind(inputs...)
	return l, nil
}

func (b *Base) setName(name string) { b.InstanceName = name }

// Decode builds a variant from a persisted parameter record.
func Decode(id uuid.UUID, name string, inputs []string, params []byte) (Layer, error) {
	typeName, ok := variantNames[id]
	if !ok {
		return nil, neterr.WithLayer(neterr.Formatf("unknown layer type id %s", id), name)
	}
	l, err := New(typeName, name, inputs...)
	if err != nil {
		return nil, err
	}
	if err := l.UnmarshalParams(params); err != nil {
		return nil, err
	}
	if err := l.Check(); err != nil {
		return nil, err
	}
	return l, nil
}

// TypeID returns the identifier of a variant name.
func TypeID(typeName string) (uuid.UUID, bool) {
	v, ok := variants[typeName]
	return v.id, ok
}

// TypeName returns the variant name of an identifier.
func TypeName(id uuid.UUID) (string, bool) {
	name, ok := variantNames[id]
	return name, ok
}

// TypeNames lists every variant name in sorted order.
func TypeNames() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
