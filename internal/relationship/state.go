package relationship

import (
	"context"
	"fmt"
	"math"
	"time"

	"companion-service/internal/models"
)

// Params tunes the bond update rule.
type Params struct {
	K        float64 `yaml:"k"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Baseline float64 `yaml:"baseline"`
}

// DefaultParams returns K=0.5 on a 0..10 scale starting at 1.
func DefaultParams() Params {
	return Params{K: 0.5, Min: 0, Max: 10, Baseline: 1.0}
}

// Rules applies Params to relationship profiles. All methods return new
// values and never mutate their input.
type Rules struct {
	params Params
}

// NewRules validates params and fills zero values from DefaultParams.
func NewRules(params Params) (*Rules, error) {
	def := DefaultParams()
	if params.K == 0 {
		params.K = def.K
	}
	if params.Max == 0 && params.Min == 0 {
		params.Min, params.Max = def.Min, def.Max
	}
	if params.Baseline == 0 {
		params.Baseline = def.Baseline
	}
	if params.Min > params.Max {
		return nil, fmt.Errorf("relationship min %.2f is above max %.2f", params.Min, params.Max)
	}
	if params.Baseline < params.Min || params.Baseline > params.Max {
		return nil, fmt.Errorf("relationship baseline %.2f is outside [%.2f, %.2f]", params.Baseline, params.Min, params.Max)
	}
	return &Rules{params: params}, nil
}

// Params returns the effective parameters.
func (r *Rules) Params() Params {
	return r.params
}

// Default builds the profile of a conversation seen for the first time.
func (r *Rules) Default(conversationID string, now time.Time) models.RelationshipProfile {
	return models.RelationshipProfile{
		ConversationID: conversationID,
		BondScore:      r.params.Baseline,
		MoodState:      models.EmotionNeutral,
		LastSeen:       now,
		CreatedAt:      now,
	}
}

// Update applies one user message worth of sentiment. The second result is
// the milestone this message reached, or "" when it reached none.
func (r *Rules) Update(p models.RelationshipProfile, s models.SentimentResult, now time.Time) (models.RelationshipProfile, models.Milestone) {
	delta := s.Intensity * s.Confidence * r.params.K
	p.BondScore = r.clamp(p.BondScore + delta)
	p.MoodState = s.Label
	p.TotalMessages++
	p.LastSeen = now

	p, reached := trackMilestones(p, s)
	return p, reached
}

// RecordSession applies a greeting turn: a new session starts and the mood
// resets, the bond is left alone.
func (r *Rules) RecordSession(p models.RelationshipProfile, now time.Time) models.RelationshipProfile {
	p.BondScore = r.clamp(p.BondScore)
	p.MoodState = models.EmotionNeutral
	p.TotalSessions++
	p.LastSeen = now
	return p
}

func (r *Rules) clamp(v float64) float64 {
	if math.IsNaN(v) {
		return r.params.Baseline
	}
	return math.Max(r.params.Min, math.Min(r.params.Max, v))
}

// Getter is the read half of a profile store. A nil profile with a nil
// error means the conversation has no profile yet.
type Getter interface {
	Get(ctx context.Context, conversationID string) (*models.RelationshipProfile, error)
}

// Load reads the stored profile or builds a default one. On a store error
// the default profile is returned together with the error so the caller
// can go on with it for this turn.
func (r *Rules) Load(ctx context.Context, store Getter, conversationID string, now time.Time) (models.RelationshipProfile, error) {
	stored, err := store.Get(ctx, conversationID)
	if err != nil {
		return r.Default(conversationID, now), fmt.Errorf("failed to load relationship profile: %w", err)
	}
	if stored == nil {
		return r.Default(conversationID, now), nil
	}
	return *stored, nil
}
