// Package cpu implements the reference backend: one pure Go unit per layer
// variant, with batches fanned out across entries and BLAS for convolution.
package cpu

import (
	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/parallel"
)

// Name is the backend name used by configuration files.
const Name = "cpu"

// CPUBackend holds the worker configuration shared by its units.
type CPUBackend struct {
	par parallel.Config
}

// New creates a CPU backend. threads <= 0 uses one worker per CPU.
func New(threads int) *CPUBackend {
	cfg := parallel.DefaultConfig()
	if threads > 0 {
		cfg.NumWorkers = threads
		cfg.Enabled = threads > 1
	}
	return &CPUBackend{par: cfg}
}

// NewWithConfig creates a CPU backend with an explicit worker configuration.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{par: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return Name
}

// Parallel returns the worker configuration.
func (cpu *CPUBackend) Parallel() parallel.Config {
	return cpu.par
}

// Table returns a new dispatch table holding a tester and an updater for
// every layer variant.
func (cpu *CPUBackend) Table() *backend.Table {
	t := backend.NewTable(Name)
	t.Register(layer.ConvolutionType, factory(cpu.newConvolution))
	t.Register(layer.AverageSubsamplingType, factory(cpu.newAverageSubsampling))
	t.Register(layer.LocalContrastSubtractiveType, factory(cpu.newLocalContrast))
	t.Register(layer.AffineGridGeneratorType, factory(cpu.newAffineGrid))
	t.Register(layer.ReshapeType, factory(cpu.newReshape))
	t.Register(layer.RectifierType, factory(cpu.newRectifier))
	t.Register(layer.AddType, factory(cpu.newAdd))
	t.Register(layer.FlipType, factory(cpu.newFlip))
	t.Register(layer.MultiCropType, factory(cpu.newMultiCrop))
	return t
}

// factory adapts a unit constructor to both factory slots. The flag tells
// the constructor whether the unit will train.
func factory(ctor func(spec backend.Spec, training bool) (backend.Updater, error)) backend.Factory {
	return backend.Factory{
		NewTester: func(spec backend.Spec) (backend.Tester, error) {
			u, err := ctor(spec, false)
			if err != nil {
				return nil, err
			}
			return u, nil
		},
		NewUpdater: func(spec backend.Spec) (backend.Updater, error) {
			return ctor(spec, true)
		},
	}
}

// noWeights supplies the weight hooks of layers without weights.
type noWeights struct{}

func (noWeights) UpdateWeights(_ *backend.Pass) error { return nil }

func (noWeights) FusedBackward() bool { return false }

func (noWeights) BackwardDataAndWeights(_ *backend.Pass) error { return nil }

// notInPlace is embedded by units that never alias their output.
type notInPlace struct{}

func (notInPlace) InPlaceInput() int { return -1 }
