// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/netdata"
	"github.com/born-ml/tessera/internal/schema"
)

// Layer is one node of a network graph.
type Layer = layer.Layer

// Configuration is the shape of a layer output: a feature map count and
// the spatial dimensions of each feature map.
type Configuration = layer.Configuration

// NewConfiguration creates a configuration.
func NewConfiguration(featureMaps int, dims ...int) Configuration {
	return layer.NewConfiguration(featureMaps, dims...)
}

// TilingFactor is the rational ratio of output entries to input entries.
type TilingFactor = layer.TilingFactor

// RandomizeOptions controls weight initialization.
type RandomizeOptions = layer.RandomizeOptions

// Schema is a validated, topologically ordered network graph.
type Schema = schema.Schema

// DefaultInput is the external input read by a first layer without inputs.
const DefaultInput = schema.DefaultInput

// NewSchema validates layers and returns a schema. A layer without declared
// inputs reads the previous layer, or DefaultInput when it is first.
//
// Example:
//
//	s, err := nn.NewSchema("lenet",
//	    nn.NewConvolution("conv1", []int{5, 5}, 1, 6),
//	    nn.NewRectifier("relu1"),
//	    nn.NewAverageSubsampling("pool1", 2, 2),
//	)
func NewSchema(name string, layers ...Layer) (*Schema, error) {
	return schema.New(name, layers...)
}

// NetworkData holds the weights and custom data of every layer of a schema.
type NetworkData = netdata.NetworkData

// NewNetworkData allocates zeroed data for s.
func NewNetworkData(s *Schema) *NetworkData {
	return netdata.New(s)
}

// Randomized allocates data for s and initializes it from rng.
func Randomized(s *Schema, rng *rand.Rand, opts RandomizeOptions) (*NetworkData, error) {
	return netdata.Randomized(s, rng, opts)
}

// Layers

// Convolution represents an N-dimensional convolution with bias.
type Convolution = layer.Convolution

// NewConvolution creates a convolution layer without padding.
func NewConvolution(name string, windowSizes []int, inputFeatureMaps, outputFeatureMaps int) *Convolution {
	return layer.NewConvolution(name, windowSizes, inputFeatureMaps, outputFeatureMaps)
}

// AverageSubsampling represents non-overlapping window averaging.
type AverageSubsampling = layer.AverageSubsampling

// NewAverageSubsampling creates a subsampling layer with one window size
// per dimension.
func NewAverageSubsampling(name string, sizes ...int) *AverageSubsampling {
	return layer.NewAverageSubsampling(name, sizes...)
}

// LocalContrastSubtractive represents gaussian-weighted local mean removal.
type LocalContrastSubtractive = layer.LocalContrastSubtractive

// NewLocalContrastSubtractive creates a local contrast layer.
func NewLocalContrastSubtractive(name string, windowSizes []int, featureMapCount int) *LocalContrastSubtractive {
	return layer.NewLocalContrastSubtractive(name, windowSizes, featureMapCount)
}

// AffineGridGenerator represents a learned 2D affine sampling grid.
type AffineGridGenerator = layer.AffineGridGenerator

// NewAffineGridGenerator creates a grid generator of the given output size.
func NewAffineGridGenerator(name string, width, height int) *AffineGridGenerator {
	return layer.NewAffineGridGenerator(name, width, height)
}

// Reshape represents a reinterpretation of the output shape.
type Reshape = layer.Reshape

// NewReshape creates a reshape layer.
func NewReshape(name string, target Configuration) *Reshape {
	return layer.NewReshape(name, target)
}

// Rectifier represents a (leaky) ReLU activation.
type Rectifier = layer.Rectifier

// NewRectifier creates a ReLU layer.
func NewRectifier(name string) *Rectifier {
	return layer.NewRectifier(name)
}

// Add represents an elementwise sum of its inputs.
type Add = layer.Add

// NewAdd creates an add layer over at least two inputs.
func NewAdd(name string, inputs ...string) *Add {
	return layer.NewAdd(name, inputs...)
}

// Flip represents mirroring along one dimension; it doubles the entries.
type Flip = layer.Flip

// NewFlip creates a flip layer.
func NewFlip(name string, dimension int) *Flip {
	return layer.NewFlip(name, dimension)
}

// MultiCrop represents corner and center crops; it multiplies the entries.
type MultiCrop = layer.MultiCrop

// NewMultiCrop creates a crop layer removing borders[d] along dimension d.
func NewMultiCrop(name string, borders ...int) *MultiCrop {
	return layer.NewMultiCrop(name, borders...)
}

// NewLayer creates a layer by variant name with default parameters.
func NewLayer(typeName, name string, inputs ...string) (Layer, error) {
	return layer.New(typeName, name, inputs...)
}

// LayerTypes lists every variant name.
func LayerTypes() []string {
	return layer.TypeNames()
}
