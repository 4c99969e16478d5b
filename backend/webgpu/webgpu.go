// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU accelerator backend.
//
// Rectifier, Add, Reshape and AverageSubsampling run as WGSL compute
// shaders; every other layer type falls back to the CPU table the GPU
// table is built from. The native library is bound on Windows only;
// elsewhere New reports ErrNotAvailable.
//
// Example:
//
//	import (
//	    "github.com/born-ml/tessera/backend/cpu"
//	    "github.com/born-ml/tessera/backend/webgpu"
//	)
//
//	func main() {
//	    table := cpu.New(0).Table()
//	    if gpu, err := webgpu.New(); err == nil {
//	        defer gpu.Release()
//	        table = gpu.Table(table)
//	    }
//	    fwd, err := engine.NewForward(schema, table, nil)
//	}
package webgpu

import (
	internalwebgpu "github.com/born-ml/tessera/internal/backend/webgpu"
)

// Name is the backend name used by configuration files.
const Name = internalwebgpu.Name

// ErrNotAvailable is returned by New when no WebGPU device can be opened.
var ErrNotAvailable = internalwebgpu.ErrNotAvailable

// Backend owns a WebGPU device and its compiled pipelines.
type Backend = internalwebgpu.Backend

// New opens the high-performance adapter. Call Release when done to free
// GPU resources.
func New() (*Backend, error) {
	return internalwebgpu.New()
}

// IsAvailable checks if WebGPU is available on the current system.
//
// It is useful for a graceful fallback to the CPU backend:
//
//	table := cpu.New(0).Table()
//	if webgpu.IsAvailable() {
//	    gpu, _ := webgpu.New()
//	    table = gpu.Table(table)
//	}
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
