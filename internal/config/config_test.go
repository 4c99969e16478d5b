package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/optim"
	"github.com/born-ml/tessera/internal/train"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"512MiB", 512 << 20},
		{"2GB", 2e9},
		{"64k", 64 << 10},
		{"1.5 GiB", 3 << 29},
		{"100b", 100},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "MiB", "-1", "ten"} {
		_, err := ParseByteSize(bad)
		assert.True(t, errors.Is(err, neterr.ErrConfiguration), bad)
	}
}

func TestByteSizeString(t *testing.T) {
	assert.Equal(t, "512MiB", ByteSize(512<<20).String())
	assert.Equal(t, "3GiB", ByteSize(3<<30).String())
	assert.Equal(t, "1000", ByteSize(1000).String())
	assert.Equal(t, "0", ByteSize(0).String())
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
backend: cpu
memory_budget: 256MiB
max_entries: 64
threads: 2
seed: 7
orthogonal_init: true
training:
  epochs: 3
  batch_size: 16
  learning_rate: 0.05
  learning_rate_decay: 0.5
  decay_every: 2
  rule: adam
  loss: softmax_cross_entropy
  target: label
`))
	require.NoError(t, err)
	assert.Equal(t, ByteSize(256<<20), c.MemoryBudget)
	assert.Equal(t, 64, c.MaxEntries)
	assert.Equal(t, 2, c.ThreadCount())
	assert.Equal(t, int64(7), c.Seed)
	assert.True(t, c.OrthogonalInit)
	assert.Equal(t, 3, c.Training.Epochs)
	assert.InDelta(t, 0.05, c.Training.LearningRate, 1e-7)
	assert.Equal(t, optim.AdamName, c.Training.Rule)
	// Unset keys keep their defaults.
	assert.InDelta(t, 0.9, c.Training.Momentum, 1e-7)
	assert.Len(t, c.EngineOptions(), 2)
}

func TestParseEmptyUsesDefault(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "backnd: cpu\n",
		"bad backend":     "backend: tpu\n",
		"bad size":        "memory_budget: lots\n",
		"negative thread": "threads: -1\n",
		"zero epochs":     "training:\n  epochs: 0\n",
		"bad rule":        "training:\n  rule: rmsprop\n",
		"bad loss":        "training:\n  loss: hinge\n",
		"bad momentum":    "training:\n  momentum: 1\n",
		"bad decay":       "training:\n  learning_rate_decay: 2\n",
		"not yaml":        "backend: [\n",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(text))
			require.Error(t, err)
			kind := neterr.KindOf(err)
			assert.True(t, kind == neterr.Configuration || kind == neterr.Format, "kind %v", kind)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	c := Default()
	c.MemoryBudget = 1 << 30
	c.Training.CheckpointDir = "ckpt"
	b, err := c.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(b), "memory_budget: 1GiB")
	require.NoError(t, os.WriteFile(path, b, 0o600))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, neterr.ErrIO))
}

func TestTrainConfig(t *testing.T) {
	tr := Default().Training
	tr.LearningRateDecay = 0.5
	tr.DecayEvery = 3
	tr.Loss = SoftmaxCrossEntropy
	tr.Target = "label"

	cfg, err := tr.TrainConfig(2)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.StartEpoch)
	assert.Equal(t, train.StepDecay{Every: 3, Gamma: 0.5}, cfg.Schedule)
	assert.Equal(t, train.SoftmaxCrossEntropy{Target: "label"}, cfg.Step.Loss)
	assert.Equal(t, optim.MomentumName, cfg.Step.Rule.Name())
	assert.InDelta(t, 0.9, cfg.Step.Momentum, 1e-7)
}

const lenet = `
name: small
layers:
  - type: Convolution
    name: conv
    window_sizes: [3, 3]
    input_feature_maps: 1
    output_feature_maps: 4
  - type: Rectifier
    name: relu
    negative_slope: 0.01
  - type: AverageSubsampling
    name: pool
    subsampling_sizes: [2, 2]
  - type: Add
    name: skip
    inputs: [pool, pool]
    alpha: 0.5
`

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema([]byte(lenet))
	require.NoError(t, err)
	assert.Equal(t, "small", s.Name())
	require.Equal(t, 4, s.Len())
	assert.Equal(t, []string{"input"}, s.ExternalInputs())

	l, ok := s.Layer("conv")
	require.True(t, ok)
	conv := l.(*layer.Convolution)
	assert.Equal(t, []int{3, 3}, conv.WindowSizes)
	assert.Equal(t, 4, conv.OutputFeatureMaps)

	l, _ = s.Layer("relu")
	assert.InDelta(t, 0.01, l.(*layer.Rectifier).NegativeSlope, 1e-7)
	assert.Equal(t, []string{"conv"}, l.Inputs())

	l, _ = s.Layer("pool")
	pool := l.(*layer.AverageSubsampling)
	assert.Equal(t, 1, pool.FeatureMapSubsampling)

	configs, err := s.Configurations(map[string]layer.Configuration{"input": layer.NewConfiguration(1, 10, 10)})
	require.NoError(t, err)
	assert.Equal(t, layer.NewConfiguration(4, 4, 4), configs["skip"])
}

func TestParseSchemaErrors(t *testing.T) {
	tests := map[string]string{
		"empty":        "",
		"no name":      "layers:\n  - type: Rectifier\n    name: r\n",
		"no layers":    "name: x\n",
		"no type":      "name: x\nlayers:\n  - name: r\n",
		"unknown type": "name: x\nlayers:\n  - type: Dropout\n    name: d\n",
		"bad param":    "name: x\nlayers:\n  - type: Flip\n    name: f\n    dimension: [1]\n",
		"invalid":      "name: x\nlayers:\n  - type: MultiCrop\n    name: c\n",
		"duplicate":    "name: x\nlayers:\n  - type: Rectifier\n    name: r\n  - type: Rectifier\n    name: r\n",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSchema([]byte(text))
			require.Error(t, err)
		})
	}

	_, err := ParseSchema([]byte("name: x\nlayers:\n  - type: Dropout\n    name: d\n"))
	assert.Equal(t, "d", neterr.LayerOf(err))
}

func TestLoadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.yaml")
	require.NoError(t, os.WriteFile(path, []byte(lenet), 0o600))
	s, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Len())
}
