package models

// SentimentResult is the emotional signal inferred from one inbound message.
type SentimentResult struct {
	Label      EmotionLabel `json:"label"`
	Intensity  float64      `json:"intensity"`
	Confidence float64      `json:"confidence"`
}

// NeutralSentiment is returned for empty input and when no keyword matches.
func NeutralSentiment() SentimentResult {
	return SentimentResult{Label: EmotionNeutral, Intensity: 0.3, Confidence: 0.0}
}

// GreetingSentiment is used for greeting turns, which carry no user text.
func GreetingSentiment() SentimentResult {
	return SentimentResult{Label: EmotionNeutral, Intensity: 0.3, Confidence: 0.5}
}
