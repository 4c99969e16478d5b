// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	"github.com/born-ml/tessera/internal/backend"
	internalcpu "github.com/born-ml/tessera/internal/backend/cpu"
)

// Name is the backend name used by configuration files.
const Name = internalcpu.Name

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Table is a per-engine dispatch table from layer types to units.
type Table = backend.Table

// New creates a CPU backend running units on threads workers. Zero or a
// negative count uses every CPU.
//
// Example:
//
//	table := cpu.New(0).Table()
//	fwd, err := engine.NewForward(schema, table, nil)
func New(threads int) *Backend {
	return internalcpu.New(threads)
}
