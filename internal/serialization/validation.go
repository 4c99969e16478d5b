package serialization

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Limits applied to untrusted model files.
const (
	MaxHeaderSize    = 100 << 20 // JSON header bytes
	MaxDataSize      = 1 << 36   // Data section bytes
	MaxTensorCount   = 100_000   // Weight and custom vectors per file
	MaxTensorNameLen = 4096
)

// ValidationLevel selects the header checks run by Read.
type ValidationLevel int

const (
	// ValidationStrict checks names, vector naming and the data layout.
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks names and vector naming only.
	ValidationNormal
	// ValidationNone skips the header checks. Vector bounds are still
	// checked while the data is decoded.
	ValidationNone
)

// ValidateTensorOffsets checks that every vector lies inside a data section
// of dataSize bytes, holds exactly its float32 elements and shares no bytes
// with another vector.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{Type: "too_many_tensors", Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount)}
	}

	byOffset := slices.Clone(tensors)
	slices.SortFunc(byOffset, func(a, b TensorMeta) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})

	var prev *TensorMeta
	for i := range byOffset {
		t := &byOffset[i]
		switch {
		case t.Offset < 0 || t.Size < 0 || t.Elements < 0:
			return &ValidationError{Type: "negative_offset", Tensor: t.Name,
				Details: fmt.Sprintf("offset %d, size %d, elements %d", t.Offset, t.Size, t.Elements)}
		case t.Size != 4*int64(t.Elements):
			return &ValidationError{Type: "size_mismatch", Tensor: t.Name,
				Details: fmt.Sprintf("%d bytes for %d float32 values", t.Size, t.Elements)}
		case t.Offset+t.Size > dataSize:
			return &ValidationError{Type: "out_of_bounds", Tensor: t.Name,
				Details: fmt.Sprintf("ends at %d, data section has %d bytes", t.Offset+t.Size, dataSize)}
		case prev != nil && prev.Offset+prev.Size > t.Offset:
			return &ValidationError{Type: "offset_overlap", Tensor: prev.Name, Tensor2: t.Name,
				Details: fmt.Sprintf("[%d, %d) and [%d, %d)", prev.Offset, prev.Offset+prev.Size, t.Offset, t.Offset+t.Size)}
		}
		prev = t
	}
	return nil
}

// ValidateName rejects empty, oversized and path-like layer or vector
// names.
func ValidateName(name string) error {
	reason := ""
	switch {
	case name == "":
		reason = "empty name"
	case len(name) > MaxTensorNameLen:
		return &ValidationError{Type: "name_too_long", Tensor: name, Details: fmt.Sprintf("length %d, max %d", len(name), MaxTensorNameLen)}
	case strings.Contains(name, ".."):
		reason = "contains '..'"
	case strings.ContainsAny(name, `/\`):
		reason = "contains a path separator"
	case strings.IndexByte(name, 0) >= 0:
		reason = "contains a null byte"
	default:
		return nil
	}
	return &ValidationError{Type: "invalid_name", Tensor: name, Details: reason}
}

// validateVectorNames checks that the vectors of a layer are named
// "<layer>.<kind>.<index>" in index order.
func validateVectorNames(layerName, kind string, vectors []TensorMeta) error {
	for i, t := range vectors {
		if want := layerName + "." + kind + "." + strconv.Itoa(i); t.Name != want {
			return &ValidationError{Type: "vector_name", Tensor: t.Name, Details: fmt.Sprintf("expected %q", want)}
		}
	}
	return nil
}

// ValidateHeader runs the checks of level over h for a data section of
// dataSize bytes.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}
	if n := len(h.tensors()); n > MaxTensorCount {
		return &ValidationError{Type: "too_many_tensors", Details: fmt.Sprintf("got %d, max %d", n, MaxTensorCount)}
	}
	for _, l := range h.Layers {
		if err := ValidateName(l.Name); err != nil {
			return err
		}
		if err := validateVectorNames(l.Name, "weights", l.Weights); err != nil {
			return err
		}
		if err := validateVectorNames(l.Name, "custom", l.Custom); err != nil {
			return err
		}
	}
	if level == ValidationStrict {
		return ValidateTensorOffsets(h.tensors(), dataSize)
	}
	return nil
}
