package serialization

import (
	"time"

	"github.com/google/uuid"
)

// Container constants.
const (
	MagicBytes       = "TSRA"
	ContainerVersion = 1
	HeaderAlignment  = 64   // Tensor data starts on a 64-byte boundary
	FixedHeaderSize  = 64   // Fixed header size (0x40 bytes)
	ChecksumSize     = 32   // SHA-256 checksum size
	ChecksumOffset   = 0x20 // Checksum offset in the fixed header
)

// Format identifiers. A reader accepts exactly these.
var (
	// FormatV1 stores schema and weights without custom data.
	FormatV1 = uuid.MustParse("6e1f3a92-8c0d-4b5e-a7f4-2d9c81b05e01")
	// FormatV2 stores schema, weights and custom data.
	FormatV2 = uuid.MustParse("6e1f3a92-8c0d-4b5e-a7f4-2d9c81b05e02")
)

// Flags.
const (
	FlagHasData       uint32 = 1 << 0 // Network data included
	FlagHasCheckpoint uint32 = 1 << 1 // Training checkpoint metadata included
	FlagHasMetadata   uint32 = 1 << 2 // Custom metadata included
)

const creatorVersion = "tessera 0.1.0"

// Header is the JSON header of a .tsra file.
type Header struct {
	FormatID   uuid.UUID         `json:"format_id"`
	Creator    string            `json:"creator"`
	SchemaName string            `json:"schema_name"`
	CreatedAt  time.Time         `json:"created_at"`
	Layers     []LayerRecord     `json:"layers"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Checkpoint *CheckpointMeta   `json:"checkpoint,omitempty"`
}

// LayerRecord describes one layer in schema order.
type LayerRecord struct {
	Name    string       `json:"name"`
	Type    string       `json:"type"`
	TypeID  uuid.UUID    `json:"type_id"`
	Inputs  []string     `json:"inputs"`
	Params  []byte       `json:"params,omitempty"` // Protobuf wire format
	Weights []TensorMeta `json:"weights,omitempty"`
	Custom  []TensorMeta `json:"custom,omitempty"`
}

// TensorMeta locates one float32 vector in the data section.
type TensorMeta struct {
	Name     string `json:"name"`     // e.g. "conv1.weights.0"
	Elements int    `json:"elements"` // float32 count
	Offset   int64  `json:"offset"`   // Bytes from the start of the data section
	Size     int64  `json:"size"`     // Bytes
}

// CheckpointMeta records training progress.
type CheckpointMeta struct {
	Epoch int     `json:"epoch"`
	Loss  float64 `json:"loss"`
	Rule  string  `json:"rule"`
}

func (h *Header) tensors() []TensorMeta {
	var out []TensorMeta
	for _, l := range h.Layers {
		out = append(out, l.Weights...)
		out = append(out, l.Custom...)
	}
	return out
}
