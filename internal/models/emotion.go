package models

import "strings"

// EmotionLabel is one value of the closed emotion taxonomy.
type EmotionLabel string

const (
	EmotionFlirty     EmotionLabel = "flirty"
	EmotionSupportive EmotionLabel = "supportive"
	EmotionPlayful    EmotionLabel = "playful"
	EmotionIntimate   EmotionLabel = "intimate"
	EmotionExcited    EmotionLabel = "excited"
	EmotionCurious    EmotionLabel = "curious"
	EmotionSad        EmotionLabel = "sad"
	EmotionAngry      EmotionLabel = "angry"
	EmotionConfused   EmotionLabel = "confused"
	EmotionNeutral    EmotionLabel = "neutral"
)

// EmotionProfile holds the timing and scoring parameters of a label.
// Both the sentiment rules and the message segmenter read from it.
type EmotionProfile struct {
	BaseDelayMs   int
	PerCharMs     int
	IntensityBase float64
	Keywords      []string
}

// EmotionPriority breaks ties between labels with equal keyword counts.
// Earlier entries win.
var EmotionPriority = []EmotionLabel{
	EmotionIntimate,
	EmotionFlirty,
	EmotionSupportive,
	EmotionSad,
	EmotionAngry,
	EmotionExcited,
	EmotionPlayful,
	EmotionCurious,
	EmotionConfused,
	EmotionNeutral,
}

var taxonomy = map[EmotionLabel]EmotionProfile{
	EmotionFlirty: {
		BaseDelayMs: 300, PerCharMs: 40, IntensityBase: 0.8,
		Keywords: []string{"sexy", "hot", "beautiful", "gorgeous", "cute", "kiss", "hug", "babe", "darling"},
	},
	EmotionSupportive: {
		BaseDelayMs: 500, PerCharMs: 50, IntensityBase: 0.7,
		Keywords: []string{"tired", "stressed", "worried", "anxious", "help", "comfort", "exhausted", "overwhelmed"},
	},
	EmotionPlayful: {
		BaseDelayMs: 250, PerCharMs: 30, IntensityBase: 0.6,
		Keywords: []string{"haha", "lol", "funny", "silly", "game", "play", "joke", "tease"},
	},
	EmotionIntimate: {
		BaseDelayMs: 600, PerCharMs: 55, IntensityBase: 0.9,
		Keywords: []string{"personal", "secret", "share", "trust", "close", "private", "deep"},
	},
	EmotionExcited: {
		BaseDelayMs: 300, PerCharMs: 25, IntensityBase: 0.5,
		Keywords: []string{"amazing", "awesome", "great", "fantastic", "wonderful", "!!!", "yes!", "can't wait"},
	},
	EmotionCurious: {
		BaseDelayMs: 400, PerCharMs: 45, IntensityBase: 0.5,
		Keywords: []string{"curious", "wonder", "tell me", "how come", "what if", "why do"},
	},
	EmotionSad: {
		BaseDelayMs: 650, PerCharMs: 60, IntensityBase: 0.6,
		Keywords: []string{"sad", "lonely", "cry", "miss you", "hurt", "depressed", "heartbroken", "feeling down"},
	},
	EmotionAngry: {
		BaseDelayMs: 350, PerCharMs: 35, IntensityBase: 0.7,
		Keywords: []string{"angry", "furious", "hate", "annoyed", "pissed", "so mad", "mad at"},
	},
	EmotionConfused: {
		BaseDelayMs: 500, PerCharMs: 50, IntensityBase: 0.4,
		Keywords: []string{"confused", "don't understand", "what do you mean", "unsure", "huh"},
	},
	EmotionNeutral: {
		BaseDelayMs: 400, PerCharMs: 45, IntensityBase: 0.3,
	},
}

// Profile returns the taxonomy entry of the label. Unknown labels get the
// neutral entry.
func (e EmotionLabel) Profile() EmotionProfile {
	if p, ok := taxonomy[e]; ok {
		return p
	}
	return taxonomy[EmotionNeutral]
}

// IsValid reports whether the label belongs to the taxonomy.
func (e EmotionLabel) IsValid() bool {
	_, ok := taxonomy[e]
	return ok
}

func (e EmotionLabel) String() string {
	return string(e)
}

// ParseEmotionLabel normalizes s and looks it up in the taxonomy.
func ParseEmotionLabel(s string) (EmotionLabel, bool) {
	label := EmotionLabel(strings.ToLower(strings.TrimSpace(s)))
	if !label.IsValid() {
		return EmotionNeutral, false
	}
	return label, true
}

// AllEmotions lists the taxonomy in priority order.
func AllEmotions() []EmotionLabel {
	out := make([]EmotionLabel, len(EmotionPriority))
	copy(out, EmotionPriority)
	return out
}
