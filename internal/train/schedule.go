package train

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Schedule maps an epoch (counted from 0) to a learning rate.
type Schedule interface {
	Rate(epoch int, base float32) float32
	Name() string
}

// Constant keeps the base rate.
type Constant struct{}

// Rate returns base.
func (Constant) Rate(_ int, base float32) float32 { return base }

// Name returns "constant".
func (Constant) Name() string { return "constant" }

// StepDecay multiplies the rate by Gamma every Every epochs.
type StepDecay struct {
	Every int
	Gamma float32
}

// Rate returns base * Gamma^(epoch/Every).
func (s StepDecay) Rate(epoch int, base float32) float32 {
	if s.Every <= 0 {
		return base
	}
	return base * math32.Pow(s.Gamma, float32(epoch/s.Every))
}

// Name describes the schedule.
func (s StepDecay) Name() string { return fmt.Sprintf("step(%d, %g)", s.Every, s.Gamma) }

// ExponentialDecay multiplies the rate by Gamma every epoch.
type ExponentialDecay struct {
	Gamma float32
}

// Rate returns base * Gamma^epoch.
func (s ExponentialDecay) Rate(epoch int, base float32) float32 {
	return base * math32.Pow(s.Gamma, float32(epoch))
}

// Name describes the schedule.
func (s ExponentialDecay) Name() string { return fmt.Sprintf("exponential(%g)", s.Gamma) }

// NewSchedule picks a schedule from a decay factor and interval as found in
// training configuration: no decay (0 or 1) is Constant, a positive
// interval is StepDecay and anything else ExponentialDecay.
func NewSchedule(decay float32, every int) Schedule {
	switch {
	case decay == 0 || decay == 1:
		return Constant{}
	case every > 0:
		return StepDecay{Every: every, Gamma: decay}
	default:
		return ExponentialDecay{Gamma: decay}
	}
}
