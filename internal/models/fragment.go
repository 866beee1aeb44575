package models

// Directive is an end-of-message control marker found in generated text.
// Absent attributes stay nil or empty.
type Directive struct {
	PauseMs *int          `json:"pause_ms,omitempty"`
	Speed   string        `json:"speed,omitempty"`
	Emotion *EmotionLabel `json:"emotion,omitempty"`
}

// MessageFragment is one timed chunk of a multi-part reply.
type MessageFragment struct {
	Text             string       `json:"text"`
	InterDelayMs     int          `json:"inter_delay_ms"`
	TypingDurationMs int          `json:"typing_duration_ms"`
	Emotion          EmotionLabel `json:"emotion"`
	IsFinal          bool         `json:"is_final"`
}
