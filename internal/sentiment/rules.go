package sentiment

import (
	"context"
	"strings"

	"companion-service/internal/models"
)

// Classifier scores free text against the emotion taxonomy.
// Implementations never fail: they fall back to a neutral result instead.
type Classifier interface {
	Analyze(ctx context.Context, text string) models.SentimentResult
}

// RuleClassifier is the deterministic keyword engine.
type RuleClassifier struct{}

// NewRuleClassifier creates the keyword based classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Analyze implements Classifier.
func (RuleClassifier) Analyze(_ context.Context, text string) models.SentimentResult {
	return Score(text)
}

// Score counts, for every label, how many of its keywords occur in the
// lowercased text. The highest count wins and models.EmotionPriority breaks
// ties.
func Score(text string) models.SentimentResult {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return models.NeutralSentiment()
	}

	best := models.EmotionNeutral
	bestCount := 0
	for _, label := range models.EmotionPriority {
		count := 0
		for _, kw := range label.Profile().Keywords {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		// strict comparison keeps the earlier label on ties
		if count > bestCount {
			best = label
			bestCount = count
		}
	}

	if bestCount == 0 {
		return models.NeutralSentiment()
	}

	return models.SentimentResult{
		Label:      best,
		Intensity:  min(best.Profile().IntensityBase+0.1*float64(bestCount), 1.0),
		Confidence: min(0.3*float64(bestCount), 1.0),
	}
}
