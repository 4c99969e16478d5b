package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/born-ml/tessera/internal/backend"
	"github.com/born-ml/tessera/internal/backend/cpu"
	"github.com/born-ml/tessera/internal/backend/webgpu"
	"github.com/born-ml/tessera/internal/config"
	"github.com/born-ml/tessera/internal/data"
	"github.com/born-ml/tessera/internal/engine"
	"github.com/born-ml/tessera/internal/layer"
	"github.com/born-ml/tessera/internal/netdata"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/planner"
	"github.com/born-ml/tessera/internal/schema"
	"github.com/born-ml/tessera/internal/serialization"
	"github.com/born-ml/tessera/internal/train"
)

var errInterrupted = errors.New("interrupted")

// inputsFlag collects repeated -input [name=]fm:d0xd1 values.
type inputsFlag map[string]layer.Configuration

func (f inputsFlag) String() string {
	parts := make([]string, 0, len(f))
	for name, c := range f {
		parts = append(parts, name+"="+c.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (f inputsFlag) Set(v string) error {
	name, text, ok := strings.Cut(v, "=")
	if !ok {
		name, text = schema.DefaultInput, v
	}
	c, err := layer.ParseConfiguration(text)
	if err != nil {
		return err
	}
	f[name] = c
	return nil
}

// engineFlags are the overrides shared by run and train.
type engineFlags struct {
	config  *string
	backend *string
	budget  *string
	verbose *bool
}

func addEngineFlags(fs *flag.FlagSet) engineFlags {
	return engineFlags{
		config:  fs.String("config", "", "configuration file (YAML)"),
		backend: fs.String("backend", "", "backend: cpu or webgpu (overrides the configuration)"),
		budget:  fs.String("budget", "", "memory budget such as 512MiB (overrides the configuration)"),
		verbose: fs.Bool("v", false, "log every batch"),
	}
}

// load reads the configuration and applies the flag overrides.
func (f engineFlags) load() (config.Config, error) {
	cfg := config.Default()
	if *f.config != "" {
		var err error
		if cfg, err = config.Load(*f.config); err != nil {
			return cfg, err
		}
	}
	if *f.backend != "" {
		cfg.Backend = *f.backend
	}
	if *f.budget != "" {
		b, err := config.ParseByteSize(*f.budget)
		if err != nil {
			return cfg, err
		}
		cfg.MemoryBudget = b
	}
	return cfg, cfg.Validate()
}

// openTable returns the dispatch table of the named backend and a release
// function.
func openTable(cfg config.Config, log *slog.Logger) (*backend.Table, func(), error) {
	cpuTable := cpu.New(cfg.ThreadCount()).Table()
	switch cfg.Backend {
	case cpu.Name:
		return cpuTable, func() {}, nil
	case webgpu.Name:
		gpu, err := webgpu.New()
		if err != nil {
			return nil, nil, neterr.Resourcef("%v", err)
		}
		log.Info("webgpu backend", "adapter", gpu.AdapterName())
		return gpu.Table(cpuTable), gpu.Release, nil
	}
	return nil, nil, neterr.Configf("", "unknown backend %q", cfg.Backend)
}

// loadModel reads a model file that must carry weights.
func loadModel(path string) (*serialization.Model, error) {
	m, err := serialization.LoadFile(path, serialization.ReadOptions{})
	if err != nil {
		return nil, err
	}
	if m.Data == nil {
		return nil, neterr.Configf("", "model %s stores no weights; create them with 'tessera init'", path)
	}
	return m, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func runInfo(_ context.Context, e *env, args []string) error {
	fs := e.flags("info")
	model := fs.String("model", "", "model file (.tsra)")
	inputs := inputsFlag{}
	fs.Var(inputs, "input", "input configuration [name=]fm:d0xd1 for shape and cost inference, repeatable")
	if err := parse(fs, args, "model"); err != nil {
		return err
	}

	m, err := serialization.LoadFile(*model, serialization.ReadOptions{})
	if err != nil {
		return err
	}
	s := m.Schema

	var configs map[string]layer.Configuration
	if len(inputs) > 0 {
		if configs, err = s.Configurations(inputs); err != nil {
			return err
		}
	}
	fmt.Fprint(e.stdout, s.Summary(configs))
	fmt.Fprintln(e.stdout)

	tw := tabwriter.NewWriter(e.stdout, 0, 0, 2, ' ', 0)
	h := m.Header
	fmt.Fprintf(tw, "Format\t%s\n", h.FormatID)
	fmt.Fprintf(tw, "Creator\t%s\n", h.Creator)
	fmt.Fprintf(tw, "Created\t%s\n", h.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(tw, "External inputs\t%s\n", strings.Join(s.ExternalInputs(), ", "))
	fmt.Fprintf(tw, "Sinks\t%s\n", strings.Join(s.Sinks(), ", "))
	if m.Data != nil {
		fmt.Fprintf(tw, "Weights\t%s\n", planner.FormatBytes(m.Data.Bytes()))
	} else {
		fmt.Fprintf(tw, "Weights\tnone\n")
	}
	if c := h.Checkpoint; c != nil {
		fmt.Fprintf(tw, "Checkpoint\tepoch %d, loss %.6g, rule %s\n", c.Epoch, c.Loss, c.Rule)
	}
	keys := make([]string, 0, len(h.Metadata))
	for k := range h.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\n", k, h.Metadata[k])
	}
	if configs != nil {
		tiling, err := s.TilingFactors()
		if err != nil {
			return err
		}
		cost := s.Flops(configs, tiling)
		fmt.Fprintf(tw, "Forward\t%.4g MFLOP per entry\n", cost.Forward/1e6)
		fmt.Fprintf(tw, "Backward\t%.4g MFLOP per entry\n", cost.Backward/1e6)
	}
	return tw.Flush()
}

func runInit(_ context.Context, e *env, args []string) error {
	fs := e.flags("init")
	schemaPath := fs.String("schema", "", "schema description (YAML)")
	out := fs.String("out", "", "model file to write (.tsra)")
	configPath := fs.String("config", "", "configuration file supplying seed and orthogonal_init")
	seed := fs.Int64("seed", 0, "random seed (overrides the configuration)")
	orthogonal := fs.Bool("orthogonal", false, "orthogonal weight initialization (overrides the configuration)")
	if err := parse(fs, args, "schema", "out"); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			cfg.Seed = *seed
		case "orthogonal":
			cfg.OrthogonalInit = *orthogonal
		}
	})

	s, err := config.LoadSchema(*schemaPath)
	if err != nil {
		return err
	}
	//nolint:gosec // G404: weight initialization does not need a secure source
	rng := rand.New(rand.NewSource(cfg.Seed))
	d, err := netdata.Randomized(s, rng, layer.RandomizeOptions{Orthogonal: cfg.OrthogonalInit})
	if err != nil {
		return err
	}
	err = serialization.SaveFile(*out, s, d, serialization.WriteOptions{
		Metadata: map[string]string{
			"seed":       fmt.Sprint(cfg.Seed),
			"orthogonal": fmt.Sprint(cfg.OrthogonalInit),
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "wrote %s: %d layers, %s of weights\n", *out, s.Len(), planner.FormatBytes(d.Bytes()))
	return nil
}

func runForward(ctx context.Context, e *env, args []string) error {
	fs := e.flags("run")
	model := fs.String("model", "", "model file (.tsra)")
	dataPath := fs.String("data", "", "input data bunch (.tsdb)")
	out := fs.String("out", "", "output data bunch to write (.tsdb)")
	batch := fs.Int("batch", 0, "logical entries per batch, 0 lets the planner decide (overrides the configuration)")
	outputs := fs.String("outputs", "", "comma separated layers to write, default every sink")
	ef := addEngineFlags(fs)
	if err := parse(fs, args, "model", "data", "out"); err != nil {
		return err
	}
	cfg, err := ef.load()
	if err != nil {
		return err
	}
	if *batch > 0 {
		cfg.MaxEntries = *batch
	}
	log := e.logger(*ef.verbose)

	m, err := loadModel(*model)
	if err != nil {
		return err
	}
	table, release, err := openTable(cfg, log)
	if err != nil {
		return err
	}
	defer release()

	f, err := engine.NewForward(m.Schema, table, splitList(*outputs), append(cfg.EngineOptions(), engine.WithLogger(log))...)
	if err != nil {
		return err
	}
	if err := f.SetData(m.Data); err != nil {
		return err
	}

	r, err := data.OpenFile(*dataPath)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	w, err := data.CreateFile(*out)
	if err != nil {
		return err
	}
	stats, err := f.Run(ctx, r, w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s: %s\n", *out, stats)
	if stats.Interrupted {
		return errInterrupted
	}
	return nil
}

func runTrain(ctx context.Context, e *env, args []string) error {
	fs := e.flags("train")
	model := fs.String("model", "", "model file (.tsra)")
	dataPath := fs.String("data", "", "training data bunch (.tsdb)")
	out := fs.String("out", "", "model file to write, default -model")
	epochs := fs.Int("epochs", 0, "epoch count (overrides the configuration)")
	ef := addEngineFlags(fs)
	if err := parse(fs, args, "model", "data", "config"); err != nil {
		return err
	}
	cfg, err := ef.load()
	if err != nil {
		return err
	}
	if *epochs > 0 {
		cfg.Training.Epochs = *epochs
	}
	if cfg.Training.BatchSize > 0 {
		cfg.MaxEntries = cfg.Training.BatchSize
	}
	if *out == "" {
		*out = *model
	}
	log := e.logger(*ef.verbose)

	m, err := loadModel(*model)
	if err != nil {
		return err
	}
	start := 0
	if c := m.Header.Checkpoint; c != nil {
		start = min(c.Epoch, cfg.Training.Epochs)
		log.Info("resuming", "epoch", start, "loss", c.Loss)
	}
	table, release, err := openTable(cfg, log)
	if err != nil {
		return err
	}
	defer release()

	b, err := engine.NewBackward(m.Schema, table, cfg.Training.Outputs, append(cfg.EngineOptions(), engine.WithLogger(log))...)
	if err != nil {
		return err
	}
	if err := b.SetData(m.Data); err != nil {
		return err
	}
	tc, err := cfg.Training.TrainConfig(start)
	if err != nil {
		return err
	}
	tr, err := train.New(b, tc, train.WithLogger(log))
	if err != nil {
		return err
	}

	r, err := data.OpenFile(*dataPath)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	state, err := tr.Run(ctx, r)
	if err != nil {
		return err
	}

	for _, res := range state.History {
		fmt.Fprintln(e.stdout, res)
	}
	if len(state.History) > 0 {
		last := state.History[len(state.History)-1]
		err = serialization.SaveFile(*out, m.Schema, b.Data(), serialization.WriteOptions{
			Metadata: m.Header.Metadata,
			Checkpoint: &serialization.CheckpointMeta{
				Epoch: state.Epoch,
				Loss:  last.Loss,
				Rule:  tc.Step.Rule.Name(),
			},
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "wrote %s: epoch %d, best loss %.6g at epoch %d\n", *out, state.Epoch, state.BestLoss, state.BestEpoch)
	}
	if state.Interrupted {
		return errInterrupted
	}
	return nil
}

func runConvert(_ context.Context, e *env, args []string) error {
	fs := e.flags("convert")
	imagesPath := fs.String("images", "", "IDX image file")
	labelsPath := fs.String("labels", "", "IDX label file, optional")
	out := fs.String("out", "", "data bunch to write (.tsdb)")
	classes := fs.Int("classes", 0, "one-hot encode labels over this many classes, 0 stores class indices")
	limit := fs.Int("limit", 0, "maximum entries, 0 for all")
	input := fs.String("input", schema.DefaultInput, "name of the image input")
	target := fs.String("target", "target", "name of the label input")
	if err := parse(fs, args, "images", "out"); err != nil {
		return err
	}

	images, err := data.ReadIDXFile(*imagesPath)
	if err != nil {
		return err
	}
	var labels *data.IDX
	if *labelsPath != "" {
		if labels, err = data.ReadIDXFile(*labelsPath); err != nil {
			return err
		}
	}
	w, err := data.CreateFile(*out)
	if err != nil {
		return err
	}
	n, err := data.ConvertIDX(w, images, labels, data.IDXOptions{
		Input:   *input,
		Target:  *target,
		Classes: *classes,
		Limit:   *limit,
	})
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "wrote %s: %d entries\n", *out, n)
	return nil
}
