package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/netdata"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/schema"
)

// ReadOptions configures Read.
type ReadOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
}

// Model is the content of a .tsra file.
type Model struct {
	Schema *schema.Schema
	Data   *netdata.NetworkData // nil when the file stores no data
	Header Header
	Flags  uint32
}

// Read parses a container, rebuilds the schema and, when present, the
// network data.
func Read(r io.Reader, opts ReadOptions) (*Model, error) {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, neterr.WrapFormat(err, "read fixed header")
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, neterr.WrapFormat(ErrInvalidMagic, fmt.Sprintf("got %q, expected %q", fixed[0:4], MagicBytes))
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != ContainerVersion {
		return nil, neterr.WrapFormat(ErrUnsupportedVersion, fmt.Sprintf("got %d, expected %d", v, ContainerVersion))
	}
	flags := binary.LittleEndian.Uint32(fixed[8:12])
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	var stored [ChecksumSize]byte
	copy(stored[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, neterr.WrapFormat(ErrHeaderTooLarge, fmt.Sprintf("%d bytes", headerSize))
	}
	if dataSize > MaxDataSize {
		return nil, neterr.WrapFormat(ErrDataTooLarge, fmt.Sprintf("%d bytes", dataSize))
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, neterr.WrapFormat(err, "read header")
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, neterr.WrapFormat(err, "parse header")
	}
	if header.FormatID != FormatV1 && header.FormatID != FormatV2 {
		return nil, neterr.WrapFormat(ErrIncompatibleFormat, header.FormatID.String())
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	if pad := padding(int64(FixedHeaderSize) + int64(headerSize)); pad > 0 {
		if _, err := io.CopyN(io.Discard, r, pad); err != nil {
			return nil, neterr.WrapFormat(err, "read padding")
		}
	}

	var data bytes.Buffer
	if _, err := io.CopyN(&data, r, int64(dataSize)); err != nil {
		return nil, neterr.WrapFormat(err, "read tensor data")
	}
	if !opts.SkipChecksumValidation {
		if err := validateChecksum(computeChecksum(data.Bytes()), stored); err != nil {
			return nil, neterr.WrapFormat(err, "tensor data")
		}
	}
	if err := ValidateHeader(&header, int64(dataSize), opts.ValidationLevel); err != nil {
		return nil, neterr.WrapFormat(err, "validation failed")
	}

	s, err := buildSchema(&header)
	if err != nil {
		return nil, err
	}
	m := &Model{Schema: s, Header: header, Flags: flags}
	if flags&FlagHasData != 0 {
		if m.Data, err = buildData(&header, s, data.Bytes()); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func buildSchema(h *Header) (*schema.Schema, error) {
	layers := make([]layer.Layer, len(h.Layers))
	for i, rec := range h.Layers {
		l, err := layer.Decode(rec.TypeID, rec.Name, rec.Inputs, rec.Params)
		if err != nil {
			return nil, err
		}
		if l.TypeName() != rec.Type {
			return nil, neterr.WithLayer(neterr.Formatf("type %q doesn't match type id %s (%s)", rec.Type, rec.TypeID, l.TypeName()), rec.Name)
		}
		layers[i] = l
	}
	return schema.New(h.SchemaName, layers...)
}

func buildData(h *Header, s *schema.Schema, raw []byte) (*netdata.NetworkData, error) {
	d := netdata.New(s)
	for _, rec := range h.Layers {
		i := s.Index(rec.Name)
		l := s.At(i)
		var err error
		if d.Weights[i], err = readVectors(rec.Weights, raw); err != nil {
			return nil, neterr.WithLayer(err, rec.Name)
		}
		if h.FormatID == FormatV1 {
			// Custom data postdates this format.
			d.Custom[i] = l.CreateCustomData()
			if d.Custom[i] == nil {
				d.Custom[i] = l.CustomDataConfig().Allocate()
			}
			continue
		}
		if d.Custom[i], err = readVectors(rec.Custom, raw); err != nil {
			return nil, neterr.WithLayer(err, rec.Name)
		}
	}
	if err := d.CheckConsistency(s); err != nil {
		return nil, err
	}
	return d, nil
}

// readVectors decodes the vectors of one layer. Locations are checked here
// whatever the validation level.
func readVectors(metas []TensorMeta, raw []byte) (netdata.LayerData, error) {
	out := make(netdata.LayerData, len(metas))
	for j, m := range metas {
		if m.Offset < 0 || m.Size != 4*int64(m.Elements) || m.Elements < 0 || m.Size > int64(len(raw))-m.Offset {
			return nil, neterr.Formatf("vector %q at offset %d with %d bytes for %d values doesn't fit a %d byte data section",
				m.Name, m.Offset, m.Size, m.Elements, len(raw))
		}
		out[j] = decodeFloats(raw[m.Offset : m.Offset+m.Size])
	}
	return out, nil
}

// ReadData reads a container and returns its data after checking that the
// stored schema matches s layer by layer.
func ReadData(r io.Reader, s *schema.Schema, opts ReadOptions) (*netdata.NetworkData, error) {
	m, err := Read(r, opts)
	if err != nil {
		return nil, err
	}
	if m.Data == nil {
		return nil, neterr.Dataf("", "file holds no network data")
	}
	if err := SameStructure(m.Schema, s); err != nil {
		return nil, err
	}
	return m.Data, nil
}

// SameStructure reports a data consistency error when a and b differ in
// layer names, types, inputs or parameters.
func SameStructure(a, b *schema.Schema) error {
	if a.Len() != b.Len() {
		return neterr.Dataf("", "%v: %d layers, expected %d", ErrSchemaMismatch, a.Len(), b.Len())
	}
	for i := 0; i < a.Len(); i++ {
		la, lb := a.At(i), b.At(i)
		switch {
		case la.Name() != lb.Name():
			return neterr.Dataf(lb.Name(), "%v: layer %d is %q", ErrSchemaMismatch, i, la.Name())
		case la.TypeID() != lb.TypeID():
			return neterr.Dataf(lb.Name(), "%v: type %s, expected %s", ErrSchemaMismatch, la.TypeName(), lb.TypeName())
		case !bytes.Equal(la.MarshalParams(), lb.MarshalParams()):
			return neterr.Dataf(lb.Name(), "%v: parameters differ", ErrSchemaMismatch)
		case fmt.Sprint(la.Inputs()) != fmt.Sprint(lb.Inputs()):
			return neterr.Dataf(lb.Name(), "%v: inputs %v, expected %v", ErrSchemaMismatch, la.Inputs(), lb.Inputs())
		}
	}
	return nil
}

// LoadFile reads the container at path.
func LoadFile(path string, opts ReadOptions) (*Model, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	f, err := os.Open(path)
	if err != nil {
		return nil, neterr.WrapIO(err, "open "+path)
	}
	defer func() { _ = f.Close() }()
	return Read(f, opts)
}
