package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tessera/internal/data"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/serialization"
)

func tessera(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

const tinySchema = `
name: tiny
layers:
  - type: Convolution
    name: conv
    window_sizes: [1]
    input_feature_maps: 1
    output_feature_maps: 1
  - type: AverageSubsampling
    name: pool
    subsampling_sizes: [2]
`

const trainConfig = `
training:
  epochs: 2
  learning_rate: 0.01
  rule: sgd
  momentum: 0
  loss: squared_error
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeBunch(t *testing.T, path string) {
	t.Helper()
	w, err := data.CreateFile(path)
	require.NoError(t, err)
	require.NoError(t, w.Declare(map[string]data.Input{
		"input":  {Config: layer.NewConfiguration(1, 4), Type: data.Float32},
		"target": {Config: layer.NewConfiguration(1, 2), Type: data.Float32},
	}))
	for _, e := range [][2][]float32{
		{{1, 2, 3, 4}, {1, 2}},
		{{4, 3, 2, 1}, {2, 1}},
	} {
		require.NoError(t, w.WriteRaw(map[string][]byte{
			"input":  data.EncodeFloats(e[0]),
			"target": data.EncodeFloats(e[1]),
		}))
	}
	require.NoError(t, w.Close())
}

func TestUsage(t *testing.T) {
	code, _, stderr := tessera(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Commands:")

	code, _, stderr = tessera(t, "frobnicate")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)

	code, stdout, _ := tessera(t, "help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "convert")

	code, stdout, _ = tessera(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "tessera "+version+"\n", stdout)
}

func TestUsageErrors(t *testing.T) {
	tests := map[string][]string{
		"missing flags":  {"init", "-schema", "s.yaml"},
		"unknown flag":   {"run", "-modle", "m.tsra"},
		"extra argument": {"version", "now"},
		"train config":   {"train", "-model", "m.tsra", "-data", "d.tsdb"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			code, _, _ := tessera(t, args...)
			assert.Equal(t, exitUsage, code)
		})
	}

	code, _, _ := tessera(t, "info", "-h")
	assert.Equal(t, exitOK, code)
}

func TestErrorsExitOne(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := tessera(t, "info", "-model", filepath.Join(dir, "missing.tsra"))
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "tessera info:")

	schemaPath := writeFile(t, dir, "bad.yaml", "name: bad\nlayers:\n  - type: Dropout\n    name: d\n")
	code, _, stderr = tessera(t, "init", "-schema", schemaPath, "-out", filepath.Join(dir, "m.tsra"))
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "Dropout")

	code, _, _ = tessera(t, "run", "-model", "m.tsra", "-data", "d.tsdb", "-out", "o.tsdb", "-backend", "tpu")
	assert.Equal(t, exitError, code)
}

func TestWorkflow(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "tiny.yaml", tinySchema)
	configPath := writeFile(t, dir, "train.yaml", trainConfig)
	model := filepath.Join(dir, "tiny.tsra")
	bunch := filepath.Join(dir, "train.tsdb")
	writeBunch(t, bunch)

	code, stdout, stderr := tessera(t, "init", "-schema", schemaPath, "-out", model, "-seed", "3")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "2 layers")

	code, stdout, stderr = tessera(t, "info", "-model", model, "-input", "1:4")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "conv")
	assert.Contains(t, stdout, "AverageSubsampling")
	assert.Contains(t, stdout, "1:2")
	assert.Contains(t, stdout, "seed")

	out := filepath.Join(dir, "out.tsdb")
	code, _, stderr = tessera(t, "run", "-model", model, "-data", bunch, "-out", out, "-batch", "1")
	require.Equal(t, exitOK, code, stderr)
	r, err := data.OpenFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, r.EntryCount())
	assert.Equal(t, []string{"pool"}, r.Names())
	require.NoError(t, r.Close())

	trained := filepath.Join(dir, "trained.tsra")
	code, stdout, stderr = tessera(t, "train", "-model", model, "-data", bunch, "-config", configPath, "-out", trained)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "epoch 2:")

	m, err := serialization.LoadFile(trained, serialization.ReadOptions{})
	require.NoError(t, err)
	require.NotNil(t, m.Header.Checkpoint)
	assert.Equal(t, 2, m.Header.Checkpoint.Epoch)
	assert.Equal(t, "sgd", m.Header.Checkpoint.Rule)
	assert.Equal(t, "3", m.Header.Metadata["seed"])

	// Resuming a finished task trains nothing and keeps the file.
	code, stdout, stderr = tessera(t, "train", "-model", trained, "-data", bunch, "-config", configPath)
	require.Equal(t, exitOK, code, stderr)
	assert.NotContains(t, stdout, "epoch")

	code, stdout, stderr = tessera(t, "train", "-model", trained, "-data", bunch, "-config", configPath, "-epochs", "3")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "epoch 3:")
	assert.NotContains(t, stdout, "epoch 1:")
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	images := []byte{0, 0, 8, 3, 0, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0, 2, 1, 2, 3, 4}
	labels := []byte{0, 0, 8, 1, 0, 0, 0, 2, 1, 0}
	imagesPath := filepath.Join(dir, "images.idx")
	labelsPath := filepath.Join(dir, "labels.idx")
	require.NoError(t, os.WriteFile(imagesPath, images, 0o600))
	require.NoError(t, os.WriteFile(labelsPath, labels, 0o600))

	out := filepath.Join(dir, "idx.tsdb")
	code, stdout, stderr := tessera(t, "convert", "-images", imagesPath, "-labels", labelsPath, "-out", out, "-classes", "2")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "2 entries")

	r, err := data.OpenFile(out)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, []string{"input", "target"}, r.Names())
	assert.True(t, r.Inputs()["target"].Config.Equal(layer.NewConfiguration(2)))
}
