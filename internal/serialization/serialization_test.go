package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/netdata"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	conv := layer.NewConvolution("conv", []int{3, 3}, 1, 2)
	conv.LeftPadding = []int{1, 1}
	conv.RightPadding = []int{1, 1}
	relu := layer.NewRectifier("relu")
	relu.NegativeSlope = 0.1
	pool := layer.NewAverageSubsampling("pool", 2, 2)
	s, err := schema.New("small", conv, relu, pool, layer.NewConvolution("head", []int{2, 2}, 2, 3))
	require.NoError(t, err)
	return s
}

func testData(t *testing.T, s *schema.Schema) *netdata.NetworkData {
	t.Helper()
	d, err := netdata.Randomized(s, rand.New(rand.NewSource(7)), layer.RandomizeOptions{})
	require.NoError(t, err)
	return d
}

func TestRoundTripIsBitIdentical(t *testing.T) {
	s := testSchema(t)
	d := testData(t, s)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, d, WriteOptions{Metadata: map[string]string{"origin": "test"}}))

	m, err := Read(bytes.NewReader(buf.Bytes()), ReadOptions{})
	require.NoError(t, err)
	require.NoError(t, SameStructure(m.Schema, s))
	require.NotNil(t, m.Data)
	assert.True(t, m.Data.Equal(d))
	assert.Equal(t, FormatV2, m.Header.FormatID)
	assert.Equal(t, "test", m.Header.Metadata["origin"])
	assert.NotZero(t, m.Flags&FlagHasData)
	assert.NotZero(t, m.Flags&FlagHasMetadata)
	assert.Zero(t, m.Flags&FlagHasCheckpoint)

	// Writing the decoded model again yields the same data section.
	var again bytes.Buffer
	require.NoError(t, Write(&again, m.Schema, m.Data, WriteOptions{Metadata: m.Header.Metadata}))
	assert.Equal(t, binary.LittleEndian.Uint64(buf.Bytes()[24:32]), binary.LittleEndian.Uint64(again.Bytes()[24:32]))
	assert.Equal(t, buf.Bytes()[ChecksumOffset:ChecksumOffset+ChecksumSize], again.Bytes()[ChecksumOffset:ChecksumOffset+ChecksumSize])
}

func TestSchemaOnly(t *testing.T) {
	s := testSchema(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, nil, WriteOptions{}))

	m, err := Read(&buf, ReadOptions{})
	require.NoError(t, err)
	assert.Nil(t, m.Data)
	assert.Equal(t, "small", m.Schema.Name())
	relu, ok := m.Schema.Layer("relu")
	require.True(t, ok)
	assert.InDelta(t, 0.1, relu.(*layer.Rectifier).NegativeSlope, 1e-7)
}

func TestFormatV1DefaultsCustomData(t *testing.T) {
	s := testSchema(t)
	d := testData(t, s)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, d, WriteOptions{Format: FormatV1}))
	m, err := Read(&buf, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, FormatV1, m.Header.FormatID)
	assert.True(t, m.Data.Equal(d))
}

func TestCheckpointMeta(t *testing.T) {
	s := testSchema(t)
	d := testData(t, s)
	dir := t.TempDir()
	path := filepath.Join(dir, "net.tsra")

	cp := &CheckpointMeta{Epoch: 3, Loss: 0.25, Rule: "adam"}
	require.NoError(t, SaveFile(path, s, d, WriteOptions{Checkpoint: cp}))
	m, err := LoadFile(path, ReadOptions{})
	require.NoError(t, err)
	require.NotNil(t, m.Header.Checkpoint)
	assert.Equal(t, *cp, *m.Header.Checkpoint)
	assert.NotZero(t, m.Flags&FlagHasCheckpoint)
}

func TestReadErrors(t *testing.T) {
	s := testSchema(t)
	d := testData(t, s)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, d, WriteOptions{}))
	valid := buf.Bytes()

	corrupt := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), valid...))
	}

	tests := []struct {
		name   string
		input  []byte
		target error
	}{
		{"truncated", valid[:10], nil},
		{"bad magic", corrupt(func(b []byte) []byte { copy(b, "NOPE"); return b }), ErrInvalidMagic},
		{"bad version", corrupt(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[4:8], 9); return b }), ErrUnsupportedVersion},
		{"checksum", corrupt(func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }), ErrChecksumMismatch},
		{"header too large", corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[16:24], MaxHeaderSize+1)
			return b
		}), ErrHeaderTooLarge},
		{"incompatible format", corrupt(func(b []byte) []byte {
			return bytes.Replace(b, []byte(FormatV2.String()), []byte("00000000-0000-0000-0000-000000000001"), 1)
		}), ErrIncompatibleFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(tt.input), ReadOptions{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, neterr.ErrFormat), "got %v", err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestSkipChecksumValidation(t *testing.T) {
	s := testSchema(t)
	d := testData(t, s)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, d, WriteOptions{}))
	b := buf.Bytes()
	b[ChecksumOffset] ^= 0xff

	_, err := Read(bytes.NewReader(b), ReadOptions{SkipChecksumValidation: true})
	assert.NoError(t, err)
}

func TestReadDataSchemaMismatch(t *testing.T) {
	s := testSchema(t)
	d := testData(t, s)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, d, WriteOptions{}))

	other, err := schema.New("other",
		layer.NewConvolution("conv", []int{3, 3}, 1, 4),
		layer.NewRectifier("relu"),
	)
	require.NoError(t, err)
	_, err = ReadData(bytes.NewReader(buf.Bytes()), other, ReadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, neterr.ErrDataConsistency)

	got, err := ReadData(bytes.NewReader(buf.Bytes()), s, ReadOptions{})
	require.NoError(t, err)
	assert.True(t, got.Equal(d))
}

func TestWriteRejectsInconsistentData(t *testing.T) {
	s := testSchema(t)
	d := testData(t, s)
	d.Weights[0][0] = d.Weights[0][0][:3]

	err := Write(&bytes.Buffer{}, s, d, WriteOptions{})
	require.Error(t, err)
	assert.Equal(t, neterr.DataConsistency, neterr.KindOf(err))
	assert.Equal(t, "conv", neterr.LayerOf(err))
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name    string
		tensors []TensorMeta
		kind    string
	}{
		{"ok", []TensorMeta{{Name: "a", Elements: 2, Offset: 0, Size: 8}, {Name: "b", Elements: 1, Offset: 8, Size: 4}}, ""},
		{"overlap", []TensorMeta{{Name: "a", Elements: 2, Offset: 0, Size: 8}, {Name: "b", Elements: 1, Offset: 4, Size: 4}}, "offset_overlap"},
		{"out of bounds", []TensorMeta{{Name: "a", Elements: 4, Offset: 0, Size: 16}}, "out_of_bounds"},
		{"size mismatch", []TensorMeta{{Name: "a", Elements: 1, Offset: 0, Size: 8}}, "size_mismatch"},
		{"negative", []TensorMeta{{Name: "a", Elements: 1, Offset: -4, Size: 4}}, "negative_offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, 12)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.kind, verr.Type)
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("conv1.weights.0"))
	for _, bad := range []string{"", "../etc", "a/b", "a\\b", "a\x00b"} {
		assert.Error(t, ValidateName(bad), bad)
	}
}

func TestValidateHeaderVectorNames(t *testing.T) {
	h := &Header{Layers: []LayerRecord{{
		Name:    "conv",
		Weights: []TensorMeta{{Name: "conv.weights.0", Elements: 1, Size: 4}, {Name: "conv.weights.2", Elements: 1, Offset: 4, Size: 4}},
	}}}
	err := ValidateHeader(h, 8, ValidationNormal)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "vector_name", verr.Type)
	assert.Equal(t, "conv.weights.2", verr.Tensor)

	h.Layers[0].Weights[1].Name = "conv.weights.1"
	assert.NoError(t, ValidateHeader(h, 8, ValidationStrict))
	assert.NoError(t, ValidateHeader(&Header{Layers: []LayerRecord{{Name: "../x"}}}, 0, ValidationNone))
}

// rewriteHeader re-encodes a container with a modified JSON header and the
// original data section and checksum.
func rewriteHeader(t *testing.T, file []byte, edit func(h *Header)) []byte {
	t.Helper()
	headerSize := int64(binary.LittleEndian.Uint64(file[16:24]))
	dataSize := int64(binary.LittleEndian.Uint64(file[24:32]))
	var h Header
	require.NoError(t, json.Unmarshal(file[FixedHeaderSize:FixedHeaderSize+headerSize], &h))
	edit(&h)
	headerJSON, err := json.Marshal(h)
	require.NoError(t, err)

	out := append([]byte(nil), file[:FixedHeaderSize]...)
	binary.LittleEndian.PutUint64(out[16:24], uint64(len(headerJSON)))
	out = append(out, headerJSON...)
	out = append(out, make([]byte, padding(int64(len(out))))...)
	return append(out, file[int64(len(file))-dataSize:]...)
}

func TestReadRejectsVectorsOutsideData(t *testing.T) {
	s := testSchema(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, testData(t, s), WriteOptions{}))

	edits := map[string]func(h *Header){
		"offset past end": func(h *Header) { h.Layers[0].Weights[0].Offset = 1 << 20 },
		"negative offset": func(h *Header) { h.Layers[0].Weights[0].Offset = -4 },
		"size mismatch":   func(h *Header) { h.Layers[3].Weights[1].Size += 4 },
		"custom past end": func(h *Header) {
			h.Layers[2].Custom = []TensorMeta{{Name: "pool.custom.0", Elements: 1 << 20, Offset: 0, Size: 4 << 20}}
		},
	}
	for name, edit := range edits {
		file := rewriteHeader(t, buf.Bytes(), edit)
		for _, level := range []ValidationLevel{ValidationStrict, ValidationNormal, ValidationNone} {
			t.Run(name, func(t *testing.T) {
				var err error
				require.NotPanics(t, func() {
					_, err = Read(bytes.NewReader(file), ReadOptions{ValidationLevel: level})
				})
				require.Error(t, err)
				assert.Equal(t, neterr.Format, neterr.KindOf(err), "level %d: %v", level, err)
			})
		}
	}

	// The unmodified header still reads at every level.
	same := rewriteHeader(t, buf.Bytes(), func(*Header) {})
	for _, level := range []ValidationLevel{ValidationStrict, ValidationNormal, ValidationNone} {
		m, err := Read(bytes.NewReader(same), ReadOptions{ValidationLevel: level})
		require.NoError(t, err)
		assert.NotNil(t, m.Data)
	}
}
