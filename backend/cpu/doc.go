// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend.
//
// # Overview
//
// The backend registers a unit for every layer type:
//   - Pure Go implementation (no CGO)
//   - Im2col plus gonum blas32 GEMM for convolutions
//   - Entry batches fanned out over a bounded worker pool
//   - In-place units where a layer allows it
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/tessera/backend/cpu"
//	    "github.com/born-ml/tessera/engine"
//	)
//
//	func main() {
//	    table := cpu.New(0).Table()
//	    fwd, err := engine.NewForward(schema, table, nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// A table may be restricted or extended with Register before an engine is
// created; engines never share tables across backends.
package cpu
