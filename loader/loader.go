// Package loader provides model file and data bunch access.
//
// Models are stored in .tsra containers holding a schema, its network data
// and optional training progress. Data bunches are .tsdb files of fixed
// size records with one entry per named input.
//
// Example usage:
//
//	import (
//	    "github.com/born-ml/tessera/loader"
//	)
//
//	model, err := loader.LoadModel("lenet.tsra")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Schema: %s, %d layers\n", model.Schema.Name(), model.Schema.Len())
//
//	bunch, err := loader.OpenBunch("test.tsdb")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bunch.Close()
package loader

import (
	"github.com/born-ml/tessera/internal/data"
	"github.com/born-ml/tessera/internal/netdata"
	"github.com/born-ml/tessera/internal/schema"
	"github.com/born-ml/tessera/internal/serialization"
)

// Model is the content of a .tsra file.
type Model = serialization.Model

// CheckpointMeta records training progress.
type CheckpointMeta = serialization.CheckpointMeta

// ReadOptions configures model loading.
type ReadOptions = serialization.ReadOptions

// WriteOptions configures model saving.
type WriteOptions = serialization.WriteOptions

// LoadModel reads the model at path with full validation.
func LoadModel(path string) (*Model, error) {
	return serialization.LoadFile(path, ReadOptions{})
}

// SaveModel writes s and d to path. d may be nil to store the schema only.
func SaveModel(path string, s *schema.Schema, d *netdata.NetworkData, opts WriteOptions) error {
	return serialization.SaveFile(path, s, d, opts)
}

// Reader streams input entries to an engine.
type Reader = data.Reader

// Writer receives output entries from an engine.
type Writer = data.Writer

// Input describes one named input of a bunch.
type Input = data.Input

// Element types of bunch inputs.
const (
	Float32 = data.Float32
	Uint8   = data.Uint8
)

// Bunch is a data bunch file opened for reading.
type Bunch = data.FileReader

// OpenBunch opens the data bunch at path.
func OpenBunch(path string) (*Bunch, error) {
	return data.OpenFile(path)
}

// BunchWriter writes a data bunch file.
type BunchWriter = data.FileWriter

// CreateBunch creates a data bunch at path. Declare the inputs, or pass the
// writer to an engine, before writing records.
func CreateBunch(path string) (*BunchWriter, error) {
	return data.CreateFile(path)
}

// MemoryReader serves entries held in memory.
type MemoryReader = data.MemoryReader

// NewMemoryReader creates an empty in-memory reader.
func NewMemoryReader() *MemoryReader {
	return data.NewMemoryReader()
}

// MemoryWriter collects output entries in memory.
type MemoryWriter = data.MemoryWriter

// NewMemoryWriter creates an empty in-memory writer.
func NewMemoryWriter() *MemoryWriter {
	return data.NewMemoryWriter()
}

// IDX is an unsigned-byte tensor in the MNIST IDX format.
type IDX = data.IDX

// IDXOptions controls ConvertIDX.
type IDXOptions = data.IDXOptions

// ReadIDXFile parses the IDX file at path.
func ReadIDXFile(path string) (*IDX, error) {
	return data.ReadIDXFile(path)
}

// ConvertIDX writes IDX images and labels to w and returns the number of
// entries written.
func ConvertIDX(w *BunchWriter, images, labels *IDX, opts IDXOptions) (int, error) {
	return data.ConvertIDX(w, images, labels, opts)
}
