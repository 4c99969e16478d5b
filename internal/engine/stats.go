package engine

import (
	"fmt"
	"time"
)

// Stats summarizes a run.
type Stats struct {
	EntriesProcessed int     // Logical input entries
	FlopsPerEntry    float64 // Estimated operations per logical entry
	TotalSeconds     float64
	IdleSeconds      float64 // Time spent reading and writing entries
	Interrupted      bool    // The context was cancelled between batches
}

// GFlops returns the estimated arithmetic throughput.
func (s Stats) GFlops() float64 {
	busy := s.TotalSeconds - s.IdleSeconds
	if busy <= 0 {
		return 0
	}
	return float64(s.EntriesProcessed) * s.FlopsPerEntry / busy / 1e9
}

func (s Stats) String() string {
	status := ""
	if s.Interrupted {
		status = " (interrupted)"
	}
	return fmt.Sprintf("%d entries in %s (idle %s), %.2f GFLOP/s%s",
		s.EntriesProcessed,
		time.Duration(s.TotalSeconds*float64(time.Second)).Round(time.Millisecond),
		time.Duration(s.IdleSeconds*float64(time.Second)).Round(time.Millisecond),
		s.GFlops(), status)
}

// TrainStats summarizes a training run.
type TrainStats struct {
	Stats
	Batches int
	Loss    float64 // Mean loss per logical output entry
}

func (s TrainStats) String() string {
	return fmt.Sprintf("%s, %d batches, loss %.6g", s.Stats.String(), s.Batches, s.Loss)
}

// stopwatch splits wall time into busy and idle parts.
type stopwatch struct {
	start time.Time
	idle  time.Duration
}

func startWatch() *stopwatch { return &stopwatch{start: time.Now()} }

// idleSince adds the time since t to the idle total.
func (w *stopwatch) idleSince(t time.Time) { w.idle += time.Since(t) }

func (w *stopwatch) fill(s *Stats) {
	s.TotalSeconds = time.Since(w.start).Seconds()
	s.IdleSeconds = w.idle.Seconds()
}
