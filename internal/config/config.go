// Package config loads the YAML run and training configuration of the
// command line tool and the layer lists describing network schemas.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"runtime"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/tessera/internal/backend/cpu"
	"github.com/born-ml/tessera/internal/backend/webgpu"
	"github.com/born-ml/tessera/internal/engine"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/optim"
	"github.com/born-ml/tessera/internal/train"
)

// Loss names.
const (
	SquaredError        = "squared_error"
	SoftmaxCrossEntropy = "softmax_cross_entropy"
)

// Config holds engine and training settings.
type Config struct {
	Backend        string   `yaml:"backend"`
	MemoryBudget   ByteSize `yaml:"memory_budget"` // 0 means unlimited
	MaxEntries     int      `yaml:"max_entries"`   // 0 lets the planner decide
	Threads        int      `yaml:"threads"`       // 0 means runtime.NumCPU
	Seed           int64    `yaml:"seed"`
	OrthogonalInit bool     `yaml:"orthogonal_init"`
	Training       Training `yaml:"training"`
}

// Training holds the settings of the train command.
type Training struct {
	Epochs            int      `yaml:"epochs"`
	BatchSize         int      `yaml:"batch_size"` // 0 lets the planner decide
	LearningRate      float32  `yaml:"learning_rate"`
	LearningRateDecay float32  `yaml:"learning_rate_decay"` // 0 or 1 keeps the rate constant
	DecayEvery        int      `yaml:"decay_every"`         // 0 decays every epoch
	Momentum          float32  `yaml:"momentum"`
	WeightDecay       float32  `yaml:"weight_decay"`
	Rule              string   `yaml:"rule"`
	Loss              string   `yaml:"loss"`
	Target            string   `yaml:"target"` // Reader input holding targets
	Outputs           []string `yaml:"outputs,omitempty"`
	CheckpointDir     string   `yaml:"checkpoint_dir,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Backend: cpu.Name,
		Seed:    1,
		Training: Training{
			Epochs:       10,
			LearningRate: 0.01,
			Momentum:     0.9,
			Rule:         optim.MomentumName,
			Loss:         SquaredError,
			Target:       "target",
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	//nolint:gosec // G304: configuration path is user input
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, neterr.WrapIO(err, "read "+path)
	}
	return Parse(b)
}

// Parse decodes b over Default and validates the result. Unknown keys are
// rejected.
func Parse(b []byte) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		var e *neterr.Error
		if errors.As(err, &e) {
			return Config{}, err
		}
		return Config{}, neterr.WrapFormat(err, "parse configuration")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Marshal encodes c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks every setting.
func (c Config) Validate() error {
	switch {
	case c.Backend != cpu.Name && c.Backend != webgpu.Name:
		return neterr.Configf("", "unknown backend %q, expected %s or %s", c.Backend, cpu.Name, webgpu.Name)
	case c.MemoryBudget < 0:
		return neterr.Configf("", "memory budget %d must not be negative", c.MemoryBudget)
	case c.MaxEntries < 0:
		return neterr.Configf("", "max entries %d must not be negative", c.MaxEntries)
	case c.Threads < 0:
		return neterr.Configf("", "thread count %d must not be negative", c.Threads)
	}
	return c.Training.Validate()
}

// Validate checks the training settings.
func (t Training) Validate() error {
	switch {
	case t.Epochs < 1:
		return neterr.Configf("", "training epochs %d must be positive", t.Epochs)
	case t.BatchSize < 0:
		return neterr.Configf("", "training batch size %d must not be negative", t.BatchSize)
	case t.LearningRate < 0:
		return neterr.Configf("", "learning rate %g must not be negative", t.LearningRate)
	case t.LearningRateDecay < 0 || t.LearningRateDecay > 1:
		return neterr.Configf("", "learning rate decay %g outside [0, 1]", t.LearningRateDecay)
	case t.DecayEvery < 0:
		return neterr.Configf("", "decay interval %d must not be negative", t.DecayEvery)
	case t.Momentum < 0 || t.Momentum >= 1:
		return neterr.Configf("", "momentum %g outside [0, 1)", t.Momentum)
	case t.WeightDecay < 0:
		return neterr.Configf("", "weight decay %g must not be negative", t.WeightDecay)
	case !slices.Contains(optim.Names(), t.Rule):
		return neterr.Configf("", "unknown update rule %q, expected one of %v", t.Rule, optim.Names())
	case t.Loss != SquaredError && t.Loss != SoftmaxCrossEntropy:
		return neterr.Configf("", "unknown loss %q, expected %s or %s", t.Loss, SquaredError, SoftmaxCrossEntropy)
	case t.Target == "":
		return neterr.Configf("", "training target input is empty")
	}
	return nil
}

// ThreadCount resolves Threads.
func (c Config) ThreadCount() int {
	if c.Threads == 0 {
		return runtime.NumCPU()
	}
	return c.Threads
}

// EngineOptions returns the engine options the configuration implies.
func (c Config) EngineOptions() []engine.Option {
	opts := []engine.Option{engine.WithMemoryBudget(int64(c.MemoryBudget))}
	if c.MaxEntries > 0 {
		opts = append(opts, engine.WithMaxEntries(c.MaxEntries))
	}
	return opts
}

// ErrorSource returns the configured loss.
func (t Training) ErrorSource() engine.ErrorSource {
	if t.Loss == SoftmaxCrossEntropy {
		return train.SoftmaxCrossEntropy{Target: t.Target}
	}
	return train.SquaredError{Target: t.Target}
}

// TrainConfig assembles a trainer configuration starting at startEpoch.
func (t Training) TrainConfig(startEpoch int) (train.Config, error) {
	rule, err := optim.New(t.Rule)
	if err != nil {
		return train.Config{}, err
	}
	return train.Config{
		Epochs:       t.Epochs,
		LearningRate: t.LearningRate,
		Schedule:     train.NewSchedule(t.LearningRateDecay, t.DecayEvery),
		Step: engine.Step{
			WeightDecay: t.WeightDecay,
			Momentum:    t.Momentum,
			BatchSize:   t.BatchSize,
			Loss:        t.ErrorSource(),
			Rule:        rule,
		},
		CheckpointDir: t.CheckpointDir,
		StartEpoch:    startEpoch,
	}, nil
}
