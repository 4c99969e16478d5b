// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides network layers, schemas and network data.
//
// # Overview
//
// This package contains:
//   - Layers: Convolution, AverageSubsampling, LocalContrastSubtractive,
//     AffineGridGenerator, Reshape, Rectifier, Add
//   - Tiling layers: Flip, MultiCrop
//   - Schema: a validated graph of named layers
//   - NetworkData: weights and custom data per layer
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/tessera/nn"
//	)
//
//	func main() {
//	    s, err := nn.NewSchema("mlp",
//	        nn.NewConvolution("conv", []int{3, 3}, 1, 8),
//	        nn.NewRectifier("relu"),
//	        nn.NewAverageSubsampling("pool", 2, 2),
//	    )
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    d, err := nn.Randomized(s, rand.New(rand.NewSource(1)), nn.RandomizeOptions{})
//	}
//
// # Graphs
//
// Layers name their inputs. A layer without inputs reads the previous
// layer, and names that are not layers become external inputs fed by a
// data reader:
//
//	nn.NewSchema("residual",
//	    nn.NewConvolution("a", []int{3}, 1, 1),
//	    nn.NewAdd("sum", "a", "input"),
//	)
//
// # Shapes
//
// Output shapes follow from the shapes of the external inputs:
//
//	configs, err := s.Configurations(map[string]nn.Configuration{
//	    nn.DefaultInput: nn.NewConfiguration(1, 28, 28),
//	})
package nn
