// Package webgpu implements the accelerator backend on WebGPU compute
// shaders through go-webgpu (github.com/go-webgpu/webgpu), which needs no
// CGO. The native library is only bound on Windows; elsewhere New reports
// ErrNotAvailable.
//
// Inputs are uploaded per pass and results are read back into the host
// buffers the engine owns, so submission runs ahead of the host until a
// unit returns. Layer types without shaders are served by the CPU table
// passed to Table.
package webgpu

import "errors"

// Name is the backend name used by configuration files.
const Name = "webgpu"

// ErrNotAvailable is returned by New when no WebGPU device can be opened.
var ErrNotAvailable = errors.New("webgpu: not available")

// IsAvailable reports whether a device can be opened on this system.
func IsAvailable() bool {
	b, err := New()
	if err != nil {
		return false
	}
	b.Release()
	return true
}
