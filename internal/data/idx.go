package data

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/neterr"
)

// IDX is an unsigned-byte tensor in the IDX format used by MNIST:
//
//	magic: 0x00 0x00 0x08 <dimension count>
//	sizes: one big-endian uint32 per dimension
//	data:  unsigned bytes, last dimension fastest
type IDX struct {
	Dims   []int
	Values []byte
}

const idxUnsignedByte = 0x08

// ReadIDX parses an IDX stream of unsigned bytes.
func ReadIDX(r io.Reader) (*IDX, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, neterr.WrapIO(err, "read idx magic")
	}
	if magic[0] != 0 || magic[1] != 0 {
		return nil, neterr.Formatf("invalid idx magic % x", magic)
	}
	if magic[2] != idxUnsignedByte {
		return nil, neterr.Formatf("unsupported idx element type 0x%02x (expected unsigned byte)", magic[2])
	}
	if magic[3] == 0 {
		return nil, neterr.Formatf("idx tensor has no dimensions")
	}

	dims := make([]int, magic[3])
	size := 1
	for i := range dims {
		var d uint32
		if err := binary.Read(r, binary.BigEndian, &d); err != nil {
			return nil, neterr.WrapIO(err, "read idx dimensions")
		}
		dims[i] = int(d)
		size *= dims[i]
	}
	values := make([]byte, size)
	if _, err := io.ReadFull(r, values); err != nil {
		return nil, neterr.WrapIO(err, "read idx data")
	}
	return &IDX{Dims: dims, Values: values}, nil
}

// ReadIDXFile parses the IDX file at path.
func ReadIDXFile(path string) (*IDX, error) {
	//nolint:gosec // G304: dataset path is user input
	f, err := os.Open(path)
	if err != nil {
		return nil, neterr.WrapIO(err, "open "+path)
	}
	defer func() { _ = f.Close() }()
	return ReadIDX(bufio.NewReader(f))
}

// Count returns the size of the first dimension.
func (x *IDX) Count() int { return x.Dims[0] }

// entry returns the bytes of entry i.
func (x *IDX) entry(i int) []byte {
	n := len(x.Values) / max(x.Count(), 1)
	return x.Values[i*n : (i+1)*n]
}

// IDXOptions controls ConvertIDX.
type IDXOptions struct {
	Input  string // Image input name, "input" when empty
	Target string // Label input name, "target" when empty
	// Classes one-hot encodes labels when positive; otherwise each label is
	// stored as a single class index.
	Classes int
	Limit   int // Maximum entries, 0 for all
}

// ConvertIDX writes images and labels as a bunch. Images become a single
// feature map uint8 input shaped by their trailing dimensions; labels
// become a float32 input. labels may be nil.
func ConvertIDX(w *FileWriter, images, labels *IDX, opts IDXOptions) (int, error) {
	if opts.Input == "" {
		opts.Input = "input"
	}
	if opts.Target == "" {
		opts.Target = "target"
	}
	if len(images.Dims) < 2 {
		return 0, neterr.Dataf("", "idx images have %d dimensions (expected at least 2)", len(images.Dims))
	}
	n := images.Count()
	if labels != nil && labels.Count() != n {
		return 0, neterr.Dataf("", "idx labels count %d differs from images count %d", labels.Count(), n)
	}
	if opts.Limit > 0 {
		n = min(n, opts.Limit)
	}

	inputs := map[string]Input{
		opts.Input: {Config: layer.NewConfiguration(1, images.Dims[1:]...), Type: Uint8},
	}
	width := 1
	if opts.Classes > 0 {
		width = opts.Classes
	}
	if labels != nil {
		inputs[opts.Target] = Input{Config: layer.NewConfiguration(width), Type: Float32}
	}
	if err := w.Declare(inputs); err != nil {
		return 0, err
	}

	label := make([]byte, 4*width)
	for i := 0; i < n; i++ {
		src := map[string][]byte{opts.Input: images.entry(i)}
		if labels != nil {
			class := int(labels.entry(i)[0])
			if opts.Classes > 0 {
				if class >= opts.Classes {
					return i, neterr.Dataf("", "label %d of entry %d exceeds class count %d", class, i, opts.Classes)
				}
				Encode(label, OneHot([]int{class}, opts.Classes)[0])
			} else {
				Encode(label, []float32{float32(class)})
			}
			src[opts.Target] = label
		}
		if err := w.WriteRaw(src); err != nil {
			return i, err
		}
	}
	return n, nil
}
