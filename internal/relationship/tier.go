package relationship

// Tier is a coarse stage of the relationship used to steer the persona.
type Tier string

const (
	TierCuriousSweet         Tier = "curious_sweet"
	TierSeductiveSupportive  Tier = "seductive_supportive"
	TierPossessivePassionate Tier = "possessive_passionate"
	TierEmotionallyFused     Tier = "emotionally_fused"
)

// TierFor maps a bond score to its tier.
func TierFor(bond float64) Tier {
	switch {
	case bond <= 3:
		return TierCuriousSweet
	case bond <= 6:
		return TierSeductiveSupportive
	case bond <= 10:
		return TierPossessivePassionate
	default:
		return TierEmotionallyFused
	}
}

// Description is the persona hint used in prompts.
func (t Tier) Description() string {
	switch t {
	case TierCuriousSweet:
		return "Curious + Sweet: still getting to know them, warm and a little shy"
	case TierSeductiveSupportive:
		return "Seductive + Supportive: comfortable, affectionate and encouraging"
	case TierPossessivePassionate:
		return "Possessive + Passionate: deeply attached and openly affectionate"
	default:
		return "Emotionally Fused: completely in tune with them"
	}
}

// DelayFactor stretches reply pacing as the bond grows. New relationships
// answer a little faster, close ones linger.
func DelayFactor(bond float64) float64 {
	switch {
	case bond >= 8:
		return 1.2
	case bond <= 3:
		return 0.8
	default:
		return 1.0
	}
}
