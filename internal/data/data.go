// Package data defines the streaming boundary of the engines: a Reader
// supplying raw input entries and a Writer receiving computed outputs.
//
// Raw entries are byte slices in the element encoding their Input declares.
// Float32 values are little-endian; Uint8 samples are scaled to [0, 1] on
// decode.
package data

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
)

// ElemType is the element encoding of a raw input.
type ElemType int

// Element encodings.
const (
	Float32 ElemType = iota
	Uint8
)

// Size returns the bytes per element.
func (t ElemType) Size() int {
	if t == Uint8 {
		return 1
	}
	return 4
}

func (t ElemType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Uint8:
		return "uint8"
	default:
		return fmt.Sprintf("ElemType(%d)", int(t))
	}
}

// ParseElemType parses "float32" or "uint8".
func ParseElemType(s string) (ElemType, error) {
	switch strings.ToLower(s) {
	case "float32", "f32":
		return Float32, nil
	case "uint8", "u8":
		return Uint8, nil
	}
	return 0, neterr.Formatf("unknown element type %q", s)
}

// Input describes one named input of a Reader.
type Input struct {
	Config layer.Configuration
	Type   ElemType
}

// Bytes returns the raw size of one entry.
func (in Input) Bytes() int {
	return in.Config.NeuronCount() * in.Type.Size()
}

// Reader supplies input entries. The engines call Read with increasing ids
// until it reports false.
type Reader interface {
	// EntryCount returns the number of entries, or -1 when unknown.
	EntryCount() int
	// Inputs describes every named input.
	Inputs() map[string]Input
	// Read fills dst[name] for every name present in dst. It returns false
	// once id is past the last entry.
	Read(id int, dst map[string][]byte) (bool, error)
	// Reset rewinds the reader for another pass.
	Reset() error
}

// Writer receives output entries in read order.
type Writer interface {
	// SetOutputs announces the configuration of every output before the
	// first Write.
	SetOutputs(outputs map[string]layer.Configuration) error
	// Write receives one logical entry. src is reused after Write returns.
	Write(id int, src map[string][]float32) error
}

// Decode converts one raw entry into floats.
func Decode(dst []float32, src []byte, t ElemType) error {
	if len(src) != len(dst)*t.Size() {
		return neterr.Dataf("", "raw entry has %d bytes, expected %d %s values", len(src), len(dst), t)
	}
	switch t {
	case Uint8:
		for i, b := range src {
			dst[i] = float32(b) / 255
		}
	case Float32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
		}
	default:
		return neterr.Formatf("unknown element type %s", t)
	}
	return nil
}

// Encode writes floats as little-endian float32 bytes.
func Encode(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
	}
}

// EncodeFloats returns src as a new raw Float32 entry.
func EncodeFloats(src []float32) []byte {
	b := make([]byte, 4*len(src))
	Encode(b, src)
	return b
}

// OneHot encodes class labels as float vectors of length classes.
func OneHot(labels []int, classes int) [][]float32 {
	out := make([][]float32, len(labels))
	for i, l := range labels {
		v := make([]float32, classes)
		if l >= 0 && l < classes {
			v[l] = 1
		}
		out[i] = v
	}
	return out
}
