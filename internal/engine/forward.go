package engine

import (
	"context"
	"time"

	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/data"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/schema"
)

// Forward computes requested layer outputs for a stream of entries.
type Forward struct {
	*core
}

// NewForward creates a forward engine writing outputs, or the schema's
// sinks when outputs is empty. Every layer type must have a tester in
// table.
func NewForward(s *schema.Schema, table *backend.Table, outputs []string, opts ...Option) (*Forward, error) {
	c, err := newCore(s, table, outputs, false, opts)
	if err != nil {
		return nil, err
	}
	return &Forward{core: c}, nil
}

// Run reads r until it is exhausted and writes one entry per logical
// output entry to w. The input configuration is taken from r. A cancelled
// ctx stops the run between batches; the partial stats are returned with
// Interrupted set and a nil error.
func (f *Forward) Run(ctx context.Context, r data.Reader, w data.Writer) (Stats, error) {
	var stats Stats
	watch := startWatch()
	if err := f.prepare(r); err != nil {
		return stats, err
	}
	f.running = true
	defer func() { f.running = false }()

	stats.FlopsPerEntry = f.s.Flops(f.configs, f.tiling).Forward
	if err := w.SetOutputs(f.outputConfigs()); err != nil {
		return stats, neterr.WrapIO(err, "set outputs")
	}

	if r.EntryCount() == 0 {
		watch.fill(&stats)
		f.log.Info("forward run done", "entries", 0, "interrupted", false)
		return stats, nil
	}

	batch := f.batchSize(r, 0)
	f.ensure(batch)
	feed := newFeeder(r, f.s.ExternalInputs())
	written := 0
	for {
		if ctx.Err() != nil {
			stats.Interrupted = true
			break
		}

		t := time.Now()
		n, err := feed.read(batch, f.inputBuffers(batch))
		watch.idleSince(t)
		if err != nil {
			return stats, err
		}
		if n == 0 {
			break
		}
		if err := f.checkQuantum(n); err != nil {
			return stats, err
		}

		if err := f.forward(n); err != nil {
			return stats, err
		}
		m := f.average(n)

		t = time.Now()
		err = f.write(w, m, &written)
		watch.idleSince(t)
		if err != nil {
			return stats, err
		}
		stats.EntriesProcessed += n
		f.log.Debug("batch done", "entries", n, "outputs", m)
	}
	watch.fill(&stats)
	f.log.Info("forward run done", "entries", stats.EntriesProcessed, "interrupted", stats.Interrupted)
	return stats, nil
}
