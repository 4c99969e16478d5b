package data

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/pkg/errors"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
)

// Bunch file layout: a fixed prefix, a JSON header naming the inputs, then
// fixed-size records, one per entry, holding the inputs in header order.
const (
	FileMagic   = "TSDB"
	FileVersion = 1

	prefixSize    = 20 // magic, version, entry count, header length
	entriesOffset = 8
	maxHeaderSize = 1 << 20
)

type fileHeader struct {
	Inputs []fileInput `json:"inputs"`
}

type fileInput struct {
	Name        string `json:"name"`
	FeatureMaps int    `json:"feature_maps"`
	Dims        []int  `json:"dims"`
	Type        string `json:"type"`
}

// FileReader reads a bunch file through random access.
type FileReader struct {
	r       io.ReaderAt
	closer  io.Closer
	names   []string
	inputs  map[string]Input
	offsets map[string]int64 // Offset of each input inside a record
	record  int64
	data    int64
	count   int
}

// OpenFile opens a bunch file. Close releases it.
func OpenFile(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, neterr.WrapIO(err, "open bunch file")
	}
	r, err := NewFileReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewFileReader parses the header of a bunch held by r.
func NewFileReader(r io.ReaderAt) (*FileReader, error) {
	prefix := make([]byte, prefixSize)
	if _, err := r.ReadAt(prefix, 0); err != nil {
		return nil, neterr.WrapIO(err, "read bunch prefix")
	}
	if string(prefix[:4]) != FileMagic {
		return nil, neterr.Formatf("bad bunch magic %q, expected %q", prefix[:4], FileMagic)
	}
	if v := binary.LittleEndian.Uint32(prefix[4:]); v != FileVersion {
		return nil, neterr.Formatf("unsupported bunch version %d", v)
	}
	count := binary.LittleEndian.Uint64(prefix[entriesOffset:])
	size := binary.LittleEndian.Uint32(prefix[16:])
	if size > maxHeaderSize {
		return nil, neterr.Formatf("bunch header size %d exceeds %d", size, maxHeaderSize)
	}

	raw := make([]byte, size)
	if _, err := r.ReadAt(raw, prefixSize); err != nil {
		return nil, neterr.WrapIO(err, "read bunch header")
	}
	var h fileHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, neterr.WrapFormat(errors.Wrap(err, "decode bunch header"), "bunch header")
	}

	fr := &FileReader{
		r:       r,
		inputs:  make(map[string]Input, len(h.Inputs)),
		offsets: make(map[string]int64, len(h.Inputs)),
		data:    prefixSize + int64(size),
		//nolint:gosec // G115: entry counts fit in int
		count: int(count),
	}
	for _, fi := range h.Inputs {
		t, err := ParseElemType(fi.Type)
		if err != nil {
			return nil, err
		}
		in := Input{Config: layer.NewConfiguration(fi.FeatureMaps, fi.Dims...), Type: t}
		if err := in.Config.Validate(fi.Name); err != nil {
			return nil, err
		}
		if _, dup := fr.inputs[fi.Name]; dup {
			return nil, neterr.Formatf("duplicate bunch input %q", fi.Name)
		}
		fr.names = append(fr.names, fi.Name)
		fr.inputs[fi.Name] = in
		fr.offsets[fi.Name] = fr.record
		fr.record += int64(in.Bytes())
	}
	return fr, nil
}

// EntryCount returns the number of records.
func (r *FileReader) EntryCount() int { return r.count }

// Inputs describes every input.
func (r *FileReader) Inputs() map[string]Input { return maps.Clone(r.inputs) }

// Names returns the input names in record order.
func (r *FileReader) Names() []string { return slices.Clone(r.names) }

// Read fills dst from record id.
func (r *FileReader) Read(id int, dst map[string][]byte) (bool, error) {
	if id < 0 || id >= r.count {
		return false, nil
	}
	base := r.data + int64(id)*r.record
	for name, buf := range dst {
		off, ok := r.offsets[name]
		if !ok {
			return false, neterr.Configf("", "bunch has no input %q", name)
		}
		if want := r.inputs[name].Bytes(); len(buf) != want {
			return false, neterr.Dataf("", "input %q buffer has %d bytes, record has %d", name, len(buf), want)
		}
		if _, err := r.r.ReadAt(buf, base+off); err != nil {
			return false, neterr.WrapIO(err, "read bunch record")
		}
	}
	return true, nil
}

// Reset does nothing; records are addressed by id.
func (r *FileReader) Reset() error { return nil }

// Close closes the file opened by OpenFile.
func (r *FileReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return neterr.WrapIO(r.closer.Close(), "close bunch file")
}

// FileWriter writes a bunch file. Declare the inputs (or call SetOutputs
// to store float outputs), write records, then Close to fix up the entry
// count.
type FileWriter struct {
	ws     io.WriteSeeker
	bw     *bufio.Writer
	closer io.Closer
	names  []string
	inputs map[string]Input
	count  uint64
}

// CreateFile creates a bunch file at path.
func CreateFile(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, neterr.WrapIO(err, "create bunch file")
	}
	w := NewFileWriter(f)
	w.closer = f
	return w, nil
}

// NewFileWriter writes a bunch to ws.
func NewFileWriter(ws io.WriteSeeker) *FileWriter {
	return &FileWriter{ws: ws}
}

// Declare writes the header. Inputs are stored in name order.
func (w *FileWriter) Declare(inputs map[string]Input) error {
	if w.bw != nil {
		return neterr.Configf("", "bunch inputs already declared")
	}
	w.inputs = maps.Clone(inputs)
	w.names = make([]string, 0, len(inputs))
	for name := range inputs {
		w.names = append(w.names, name)
	}
	slices.Sort(w.names)

	h := fileHeader{Inputs: make([]fileInput, len(w.names))}
	for i, name := range w.names {
		in := inputs[name]
		h.Inputs[i] = fileInput{Name: name, FeatureMaps: in.Config.FeatureMaps, Dims: in.Config.Dims, Type: in.Type.String()}
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return neterr.WrapFormat(errors.Wrap(err, "encode bunch header"), "bunch header")
	}

	prefix := make([]byte, prefixSize)
	copy(prefix, FileMagic)
	binary.LittleEndian.PutUint32(prefix[4:], FileVersion)
	//nolint:gosec // G115: header size is bounded by the input count
	binary.LittleEndian.PutUint32(prefix[16:], uint32(len(raw)))

	w.bw = bufio.NewWriter(w.ws)
	if _, err := w.bw.Write(prefix); err != nil {
		return neterr.WrapIO(err, "write bunch prefix")
	}
	if _, err := w.bw.Write(raw); err != nil {
		return neterr.WrapIO(err, "write bunch header")
	}
	return nil
}

// SetOutputs declares float inputs named after the outputs.
func (w *FileWriter) SetOutputs(outputs map[string]layer.Configuration) error {
	inputs := make(map[string]Input, len(outputs))
	for name, cfg := range outputs {
		inputs[name] = Input{Config: cfg.Clone(), Type: Float32}
	}
	return w.Declare(inputs)
}

// Write appends one record of float values.
func (w *FileWriter) Write(_ int, src map[string][]float32) error {
	raw := make(map[string][]byte, len(src))
	for name, v := range src {
		raw[name] = EncodeFloats(v)
	}
	return w.WriteRaw(raw)
}

// WriteRaw appends one record of raw entries, one per declared input.
func (w *FileWriter) WriteRaw(src map[string][]byte) error {
	if w.bw == nil {
		return neterr.Configf("", "bunch inputs not declared")
	}
	for _, name := range w.names {
		buf, ok := src[name]
		if !ok {
			return neterr.Dataf("", "record is missing input %q", name)
		}
		if want := w.inputs[name].Bytes(); len(buf) != want {
			return neterr.Dataf("", "input %q entry has %d bytes, expected %d", name, len(buf), want)
		}
		if _, err := w.bw.Write(buf); err != nil {
			return neterr.WrapIO(err, "write bunch record")
		}
	}
	w.count++
	return nil
}

// Close flushes the records, writes the entry count and closes the file
// created by CreateFile.
func (w *FileWriter) Close() error {
	err := w.finish()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil && cerr != nil {
			err = neterr.WrapIO(cerr, "close bunch file")
		}
	}
	return err
}

func (w *FileWriter) finish() error {
	if w.bw == nil {
		return nil
	}
	if err := w.bw.Flush(); err != nil {
		return neterr.WrapIO(err, "flush bunch file")
	}
	if _, err := w.ws.Seek(entriesOffset, io.SeekStart); err != nil {
		return neterr.WrapIO(err, "seek bunch prefix")
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], w.count)
	if _, err := w.ws.Write(b[:]); err != nil {
		return neterr.WrapIO(err, "write bunch entry count")
	}
	_, err := w.ws.Seek(0, io.SeekEnd)
	return neterr.WrapIO(err, "seek bunch end")
}
