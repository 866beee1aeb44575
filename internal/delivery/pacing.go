package delivery

import (
	"math"

	"companion-service/internal/models"
	"companion-service/internal/segmenter"
)

// Pacing carries the per-turn timing modifiers.
type Pacing struct {
	// DelayFactor scales inter-fragment delays, see relationship.DelayFactor.
	DelayFactor float64
	// TypingFactor scales typing durations, see SpeedFactor.
	TypingFactor float64
	// FinalPauseMs, when set, replaces the delay before the last fragment.
	FinalPauseMs *int
}

// SpeedFactor maps a directive speed to a typing duration factor.
func SpeedFactor(speed string) float64 {
	switch speed {
	case "slow":
		return 1.4
	case "fast":
		return 0.7
	default:
		return 1.0
	}
}

// Pace applies p to a copy of fragments, keeping every value within the
// segmenter's floors and typing ceiling.
func Pace(fragments []models.MessageFragment, p Pacing, opts segmenter.Options) []models.MessageFragment {
	if p.DelayFactor <= 0 {
		p.DelayFactor = 1
	}
	if p.TypingFactor <= 0 {
		p.TypingFactor = 1
	}

	out := make([]models.MessageFragment, len(fragments))
	for i, f := range fragments {
		f.InterDelayMs = max(scale(f.InterDelayMs, p.DelayFactor), opts.DelayFloorMs)
		f.TypingDurationMs = max(opts.TypingFloorMs, min(scale(f.TypingDurationMs, p.TypingFactor), opts.TypingCeilingMs))
		if i == len(fragments)-1 && p.FinalPauseMs != nil {
			f.InterDelayMs = max(*p.FinalPauseMs, opts.DelayFloorMs)
		}
		out[i] = f
	}
	return out
}

func scale(ms int, factor float64) int {
	return int(math.Round(float64(ms) * factor))
}
