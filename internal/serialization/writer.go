package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/born-ml/tessera/internal/netdata"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/schema"
)

// WriteOptions configures Write.
type WriteOptions struct {
	Format     uuid.UUID         // FormatV2 when zero
	Metadata   map[string]string // Free-form metadata
	Checkpoint *CheckpointMeta   // Training progress, optional
}

// Write stores s and, when d is non-nil, its data. The data must be
// consistent with s.
func Write(w io.Writer, s *schema.Schema, d *netdata.NetworkData, opts WriteOptions) error {
	format := opts.Format
	if format == uuid.Nil {
		format = FormatV2
	}
	if format != FormatV1 && format != FormatV2 {
		return neterr.WrapFormat(ErrIncompatibleFormat, fmt.Sprintf("write format %s", format))
	}
	if d != nil {
		if err := d.CheckConsistency(s); err != nil {
			return err
		}
	}

	header := Header{
		FormatID:   format,
		Creator:    creatorVersion,
		SchemaName: s.Name(),
		CreatedAt:  time.Now().UTC(),
		Layers:     make([]LayerRecord, s.Len()),
		Metadata:   opts.Metadata,
		Checkpoint: opts.Checkpoint,
	}

	var data []byte
	for i, l := range s.Layers() {
		if err := ValidateName(l.Name()); err != nil {
			return neterr.WithLayer(neterr.WrapFormat(err, "layer name"), l.Name())
		}
		rec := LayerRecord{
			Name:   l.Name(),
			Type:   l.TypeName(),
			TypeID: l.TypeID(),
			Inputs: l.Inputs(),
			Params: l.MarshalParams(),
		}
		if d != nil {
			rec.Weights, data = appendVectors(data, l.Name()+".weights", d.Weights[i])
			if format == FormatV2 {
				rec.Custom, data = appendVectors(data, l.Name()+".custom", d.Custom[i])
			}
		}
		header.Layers[i] = rec
	}

	flags := uint32(0)
	if d != nil {
		flags |= FlagHasData
	}
	if opts.Checkpoint != nil {
		flags |= FlagHasCheckpoint
	}
	if len(opts.Metadata) > 0 {
		flags |= FlagHasMetadata
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return neterr.WrapFormat(err, "marshal header")
	}

	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], ContainerVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(data)))
	checksum := computeChecksum(data)
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(fixed); err != nil {
		return neterr.WrapIO(err, "write fixed header")
	}
	if _, err := bw.Write(headerJSON); err != nil {
		return neterr.WrapIO(err, "write header")
	}
	if pad := padding(int64(FixedHeaderSize) + int64(len(headerJSON))); pad > 0 {
		if _, err := bw.Write(make([]byte, pad)); err != nil {
			return neterr.WrapIO(err, "write padding")
		}
	}
	if _, err := bw.Write(data); err != nil {
		return neterr.WrapIO(err, "write tensor data")
	}
	return neterr.WrapIO(bw.Flush(), "flush")
}

func appendVectors(data []byte, prefix string, vectors netdata.LayerData) ([]TensorMeta, []byte) {
	metas := make([]TensorMeta, len(vectors))
	for j, v := range vectors {
		metas[j] = TensorMeta{
			Name:     fmt.Sprintf("%s.%d", prefix, j),
			Elements: len(v),
			Offset:   int64(len(data)),
			Size:     int64(len(v)) * 4,
		}
		data = appendFloats(data, v)
	}
	return metas, data
}

func padding(pos int64) int64 {
	return (HeaderAlignment - (pos % HeaderAlignment)) % HeaderAlignment
}

// SaveFile writes s and d to path.
func SaveFile(path string, s *schema.Schema, d *netdata.NetworkData, opts WriteOptions) (err error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	f, err := os.Create(path)
	if err != nil {
		return neterr.WrapIO(err, "create "+path)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = neterr.WrapIO(cerr, "close "+path)
		}
	}()
	return Write(f, s, d, opts)
}
