package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// computeChecksum returns the SHA-256 of the data section.
func computeChecksum(data []byte) [ChecksumSize]byte {
	return sha256.Sum256(data)
}

func validateChecksum(computed, stored [ChecksumSize]byte) error {
	if computed != stored {
		return ErrChecksumMismatch
	}
	return nil
}

// appendFloats appends v as little-endian float32 values.
func appendFloats(b []byte, v []float32) []byte {
	for _, x := range v {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(x))
	}
	return b
}

// decodeFloats reads little-endian float32 values from b.
func decodeFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
