// Package train runs epochs of backpropagation over a data reader with a
// learning-rate schedule, records the history of the task and optionally
// writes a checkpoint after every epoch.
package train

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/born-ml/tessera/internal/data"
	"github.com/born-ml/tessera/internal/engine"
	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/optim"
	"github.com/born-ml/tessera/internal/serialization"
)

// Config describes a training task.
type Config struct {
	Epochs       int
	LearningRate float32
	Schedule     Schedule // Constant when nil
	// Step carries the remaining per-batch policy. Its LearningRate is
	// replaced every epoch by the scheduled rate.
	Step engine.Step
	// CheckpointDir receives <schema>-epoch<N>.tsra after every epoch when
	// set.
	CheckpointDir string
	// StartEpoch resumes a task; epochs already done are not repeated.
	StartEpoch int
}

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch        int // 1-based
	Loss         float64
	LearningRate float32
	Entries      int
	Duration     time.Duration
	Checkpoint   string // Path written, if any
}

func (r EpochResult) String() string {
	return fmt.Sprintf("epoch %d: loss %.6g, lr %g, %d entries in %s",
		r.Epoch, r.Loss, r.LearningRate, r.Entries, r.Duration.Round(time.Millisecond))
}

// TaskState is the progress of a training task.
type TaskState struct {
	Epoch       int // Completed epochs
	History     []EpochResult
	BestLoss    float64
	BestEpoch   int
	Interrupted bool
}

func (s *TaskState) record(r EpochResult) {
	if s.BestEpoch == 0 || r.Loss < s.BestLoss {
		s.BestLoss = r.Loss
		s.BestEpoch = r.Epoch
	}
	s.Epoch = r.Epoch
	s.History = append(s.History, r)
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger. Trainers log nothing by default.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) {
		if l != nil {
			t.logger = l
		}
	}
}

// Trainer drives a backward engine over whole epochs.
type Trainer struct {
	b      *engine.Backward
	cfg    Config
	logger *slog.Logger
	state  TaskState
}

// New validates cfg and returns a trainer for b.
func New(b *engine.Backward, cfg Config, opts ...Option) (*Trainer, error) {
	if b == nil {
		return nil, neterr.Configf("", "trainer has no engine")
	}
	if cfg.Epochs < 1 {
		return nil, neterr.Configf("", "epoch count %d must be positive", cfg.Epochs)
	}
	if cfg.LearningRate < 0 {
		return nil, neterr.Configf("", "learning rate %g must not be negative", cfg.LearningRate)
	}
	if cfg.StartEpoch < 0 || cfg.StartEpoch > cfg.Epochs {
		return nil, neterr.Configf("", "start epoch %d outside [0, %d]", cfg.StartEpoch, cfg.Epochs)
	}
	if cfg.Step.Loss == nil {
		return nil, neterr.Configf("", "training task has no error source")
	}
	if cfg.Schedule == nil {
		cfg.Schedule = Constant{}
	}
	if cfg.Step.Rule == nil {
		cfg.Step.Rule = optim.NewSGD()
	}
	t := &Trainer{
		b:      b,
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		state:  TaskState{Epoch: cfg.StartEpoch},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// State returns a copy of the task progress.
func (t *Trainer) State() TaskState {
	s := t.state
	s.History = slices.Clone(s.History)
	return s
}

// Run trains the remaining epochs on r, resetting it before each one. A
// cancelled context ends the task after the current batch with the state
// marked interrupted; the epoch in progress is not recorded.
func (t *Trainer) Run(ctx context.Context, r data.Reader) (TaskState, error) {
	if t.cfg.CheckpointDir != "" {
		if err := os.MkdirAll(t.cfg.CheckpointDir, 0o750); err != nil {
			return t.State(), neterr.WrapIO(err, "create "+t.cfg.CheckpointDir)
		}
	}
	t.logger.Info("training started",
		"schema", t.b.Schema().Name(),
		"epochs", t.cfg.Epochs,
		"from", t.state.Epoch,
		"rule", t.cfg.Step.Rule.Name(),
		"schedule", t.cfg.Schedule.Name())

	for epoch := t.state.Epoch; epoch < t.cfg.Epochs; epoch++ {
		res, err := t.epoch(ctx, r, epoch)
		if err != nil {
			return t.State(), err
		}
		if t.state.Interrupted {
			t.logger.Warn("training interrupted", "epoch", epoch+1)
			break
		}
		t.state.record(res)
		t.logger.Info("epoch done",
			"epoch", res.Epoch,
			"loss", res.Loss,
			"lr", res.LearningRate,
			"entries", res.Entries,
			"duration", res.Duration)
	}
	return t.State(), nil
}

func (t *Trainer) epoch(ctx context.Context, r data.Reader, epoch int) (EpochResult, error) {
	if err := r.Reset(); err != nil {
		return EpochResult{}, err
	}
	step := t.cfg.Step
	step.LearningRate = t.cfg.Schedule.Rate(epoch, t.cfg.LearningRate)

	stats, err := t.b.Run(ctx, r, nil, step)
	if err != nil {
		return EpochResult{}, err
	}
	if stats.Interrupted {
		t.state.Interrupted = true
		return EpochResult{}, nil
	}
	res := EpochResult{
		Epoch:        epoch + 1,
		Loss:         stats.Loss,
		LearningRate: step.LearningRate,
		Entries:      stats.EntriesProcessed,
		Duration:     time.Duration(stats.TotalSeconds * float64(time.Second)),
	}
	if t.cfg.CheckpointDir != "" {
		path, err := t.checkpoint(res)
		if err != nil {
			return EpochResult{}, err
		}
		res.Checkpoint = path
	}
	return res, nil
}

func (t *Trainer) checkpoint(res EpochResult) (string, error) {
	s := t.b.Schema()
	path := filepath.Join(t.cfg.CheckpointDir, fmt.Sprintf("%s-epoch%03d.tsra", s.Name(), res.Epoch))
	err := serialization.SaveFile(path, s, t.b.Data(), serialization.WriteOptions{
		Metadata: map[string]string{
			"learning_rate": fmt.Sprint(res.LearningRate),
			"schedule":      t.cfg.Schedule.Name(),
		},
		Checkpoint: &serialization.CheckpointMeta{
			Epoch: res.Epoch,
			Loss:  res.Loss,
			Rule:  t.cfg.Step.Rule.Name(),
		},
	})
	if err != nil {
		return "", err
	}
	t.logger.Debug("checkpoint written", "path", path, "epoch", res.Epoch)
	return path, nil
}
