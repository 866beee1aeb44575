package sentiment

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"companion-service/internal/models"

	"go.uber.org/zap"
)

// Remote is an external, higher-accuracy classifier. It may fail or hang.
type Remote interface {
	Classify(ctx context.Context, text string) (*models.SentimentResult, error)
}

// DefaultRemoteTimeout bounds a single remote classification.
const DefaultRemoteTimeout = 3 * time.Second

// Guarded calls a Remote under a timeout and falls back to the rule engine
// on error, timeout, panic or malformed output.
type Guarded struct {
	remote   Remote
	fallback Classifier
	timeout  time.Duration
	logger   *zap.Logger
}

// NewGuarded wraps remote. A zero timeout uses DefaultRemoteTimeout.
func NewGuarded(remote Remote, timeout time.Duration, logger *zap.Logger) *Guarded {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &Guarded{
		remote:   remote,
		fallback: NewRuleClassifier(),
		timeout:  timeout,
		logger:   logger,
	}
}

// Analyze implements Classifier.
func (g *Guarded) Analyze(ctx context.Context, text string) models.SentimentResult {
	if g.remote == nil || strings.TrimSpace(text) == "" {
		return g.fallback.Analyze(ctx, text)
	}

	result, err := g.classify(ctx, text)
	if err != nil {
		g.logger.Warn("Remote classifier failed, using rule engine",
			zap.Error(err),
			zap.Int("text_length", len(text)))
		return g.fallback.Analyze(ctx, text)
	}

	return result
}

func (g *Guarded) classify(ctx context.Context, text string) (result models.SentimentResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		res *models.SentimentResult
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("remote classifier panicked: %v", r)}
			}
		}()
		res, err := g.remote.Classify(ctx, text)
		done <- outcome{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return models.SentimentResult{}, fmt.Errorf("remote classifier timed out: %w", ctx.Err())
	case out := <-done:
		if out.err != nil {
			return models.SentimentResult{}, out.err
		}
		return validate(out.res)
	}
}

// validate rejects unknown labels and non-finite scores, and clamps the
// rest into [0,1].
func validate(res *models.SentimentResult) (models.SentimentResult, error) {
	if res == nil {
		return models.SentimentResult{}, fmt.Errorf("remote classifier returned no result")
	}

	label, ok := models.ParseEmotionLabel(string(res.Label))
	if !ok {
		return models.SentimentResult{}, fmt.Errorf("remote classifier returned unknown label %q", res.Label)
	}

	if !isFinite(res.Intensity) || !isFinite(res.Confidence) {
		return models.SentimentResult{}, fmt.Errorf("remote classifier returned non-finite scores")
	}

	return models.SentimentResult{
		Label:      label,
		Intensity:  clamp01(res.Intensity),
		Confidence: clamp01(res.Confidence),
	}, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
