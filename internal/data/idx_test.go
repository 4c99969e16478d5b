package data

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
)

func idxBytes(dims []uint32, values []byte) []byte {
	b := []byte{0, 0, idxUnsignedByte, byte(len(dims))}
	for _, d := range dims {
		b = append(b, byte(d>>24), byte(d>>16), byte(d>>8), byte(d))
	}
	return append(b, values...)
}

func TestReadIDX(t *testing.T) {
	x, err := ReadIDX(bytes.NewReader(idxBytes([]uint32{2, 1, 3}, []byte{1, 2, 3, 4, 5, 6})))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 3}, x.Dims)
	assert.Equal(t, 2, x.Count())
	assert.Equal(t, []byte{4, 5, 6}, x.entry(1))

	for name, raw := range map[string][]byte{
		"short magic":  {0, 0},
		"bad magic":    {1, 0, 8, 1, 0, 0, 0, 1, 0},
		"float type":   {0, 0, 0x0d, 1, 0, 0, 0, 1, 0, 0, 0, 0},
		"no dims":      {0, 0, 8, 0},
		"missing data": idxBytes([]uint32{4}, []byte{1, 2}),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadIDX(bytes.NewReader(raw))
			require.Error(t, err)
			kind := neterr.KindOf(err)
			assert.True(t, kind == neterr.Format || kind == neterr.IO, "kind %v", kind)
		})
	}
}

func TestConvertIDX(t *testing.T) {
	dir := t.TempDir()
	imagesPath := filepath.Join(dir, "images.idx")
	require.NoError(t, os.WriteFile(imagesPath,
		idxBytes([]uint32{3, 2, 2}, []byte{0, 1, 2, 3, 10, 11, 12, 13, 20, 21, 22, 23}), 0o600))
	images, err := ReadIDXFile(imagesPath)
	require.NoError(t, err)
	labels, err := ReadIDX(bytes.NewReader(idxBytes([]uint32{3}, []byte{1, 0, 2})))
	require.NoError(t, err)

	path := filepath.Join(dir, "mnist.tsdb")
	w, err := CreateFile(path)
	require.NoError(t, err)
	n, err := ConvertIDX(w, images, labels, IDXOptions{Classes: 3, Limit: 2})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 2, n)

	r, err := OpenFile(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 2, r.EntryCount())
	in := r.Inputs()
	assert.True(t, in["input"].Config.Equal(layer.NewConfiguration(1, 2, 2)))
	assert.Equal(t, Uint8, in["input"].Type)
	assert.True(t, in["target"].Config.Equal(layer.NewConfiguration(3)))

	dst := map[string][]byte{"input": make([]byte, 4), "target": make([]byte, 12)}
	ok, err := r.Read(1, dst)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{10, 11, 12, 13}, dst["input"])
	target := make([]float32, 3)
	require.NoError(t, Decode(target, dst["target"], Float32))
	assert.Equal(t, []float32{1, 0, 0}, target)
}

func TestConvertIDXClassIndex(t *testing.T) {
	images := &IDX{Dims: []int{2, 2}, Values: []byte{1, 2, 3, 4}}
	labels := &IDX{Dims: []int{2}, Values: []byte{7, 9}}

	path := filepath.Join(t.TempDir(), "idx.tsdb")
	w, err := CreateFile(path)
	require.NoError(t, err)
	n, err := ConvertIDX(w, images, labels, IDXOptions{Target: "label"})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 2, n)

	r, err := OpenFile(path)
	require.NoError(t, err)
	defer r.Close()
	dst := map[string][]byte{"label": make([]byte, 4)}
	_, err = r.Read(1, dst)
	require.NoError(t, err)
	label := make([]float32, 1)
	require.NoError(t, Decode(label, dst["label"], Float32))
	assert.Equal(t, []float32{9}, label)
}

func TestConvertIDXErrors(t *testing.T) {
	images := &IDX{Dims: []int{2, 2}, Values: []byte{1, 2, 3, 4}}
	f, err := os.Create(filepath.Join(t.TempDir(), "bad.tsdb"))
	require.NoError(t, err)
	defer f.Close()
	w := NewFileWriter(f)

	_, err = ConvertIDX(w, &IDX{Dims: []int{4}, Values: make([]byte, 4)}, nil, IDXOptions{})
	assert.True(t, errors.Is(err, neterr.ErrDataConsistency))
	_, err = ConvertIDX(w, images, &IDX{Dims: []int{3}, Values: make([]byte, 3)}, IDXOptions{})
	assert.True(t, errors.Is(err, neterr.ErrDataConsistency))
	_, err = ConvertIDX(w, images, &IDX{Dims: []int{2}, Values: []byte{0, 5}}, IDXOptions{Classes: 3})
	assert.True(t, errors.Is(err, neterr.ErrDataConsistency))
}
