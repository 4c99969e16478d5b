//go:build !windows

package webgpu

import "github.com/born-ml/tessera/internal/backend"

// Backend is unavailable on this platform.
type Backend struct{}

// New always fails with ErrNotAvailable.
func New() (*Backend, error) {
	return nil, ErrNotAvailable
}

// Name returns the backend name.
func (b *Backend) Name() string { return Name }

// AdapterName returns "unavailable".
func (b *Backend) AdapterName() string { return "unavailable" }

// Release does nothing.
func (b *Backend) Release() {}

// Table returns an empty table resolving every type through cpu.
func (b *Backend) Table(cpu *backend.Table) *backend.Table {
	return backend.NewTable(Name).WithFallback(cpu)
}
