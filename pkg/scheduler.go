package pkg

import "math"

// WarmupCosineSchedule implements cosine annealing with warm restarts and
// a linear warmup at the start of every cycle. The learning rate climbs
// from BaseLR to the cycle's peak during the warmup steps, decays along a
// half cosine for the rest of the cycle, and each restart lowers the peak
// by Gamma.
type WarmupCosineSchedule struct {
	BaseLR      float64
	MaxLR       float64
	CycleLength int
	WarmupSteps int
	Gamma       float64
}

// NewWarmupCosineSchedule derives a schedule from the total number of
// optimization steps: ten cycles per run, with the first tenth of each
// cycle spent warming up.
func NewWarmupCosineSchedule(totalSteps int) *WarmupCosineSchedule {
	cycle := totalSteps / 10
	if cycle < 1 {
		cycle = 1
	}
	return &WarmupCosineSchedule{
		BaseLR:      0,
		MaxLR:       0.1,
		CycleLength: cycle,
		WarmupSteps: cycle / 10,
		Gamma:       0.8,
	}
}

// LR returns the learning rate for the given zero-based step.
func (s *WarmupCosineSchedule) LR(step int) float64 {
	if step < 0 {
		step = 0
	}
	cycle := step / s.CycleLength
	pos := step % s.CycleLength

	peak := s.BaseLR + (s.MaxLR-s.BaseLR)*math.Pow(s.Gamma, float64(cycle))
	if s.WarmupSteps > 0 && pos < s.WarmupSteps {
		return s.BaseLR + (peak-s.BaseLR)*float64(pos)/float64(s.WarmupSteps)
	}
	progress := float64(pos-s.WarmupSteps) / float64(s.CycleLength-s.WarmupSteps)
	return s.BaseLR + (peak-s.BaseLR)*(1+math.Cos(math.Pi*progress))/2
}
