package turn_processor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"companion-service/internal/annotation"
	"companion-service/internal/delivery"
	"companion-service/internal/llm"
	"companion-service/internal/models"
	"companion-service/internal/relationship"
	"companion-service/internal/repository"
	"companion-service/internal/segmenter"
	"companion-service/internal/sentiment"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultGenerationTimeout = 20 * time.Second

	fallbackDelayMs  = 500
	fallbackTypingMs = 800
	lockStripes      = 64
)

// FallbackReplies are shown when no reply could be generated.
var FallbackReplies = []string{
	"I'm having a little moment... give me just a second 💭",
	"Something's not working right... give me a moment 💭",
}

// Request is one inbound user event.
type Request struct {
	ConversationID string
	Message        *string
	IsGreeting     bool
}

// Result summarizes a turn. Fragments are revealed asynchronously through
// the push channel after ProcessTurn returns.
type Result struct {
	TurnID     string                     `json:"turn_id"`
	Epoch      uint64                     `json:"epoch"`
	Sentiment  models.SentimentResult     `json:"sentiment"`
	Profile    models.RelationshipProfile `json:"profile"`
	Emotion    models.EmotionLabel        `json:"emotion"`
	Fragments  []models.MessageFragment   `json:"fragments"`
	Fallback   bool                       `json:"fallback"`
	Superseded bool                       `json:"superseded"`
	// Milestone is set on the turn that reached it.
	Milestone models.Milestone `json:"milestone,omitempty"`
}

// Dependencies are the collaborators of a Processor.
type Dependencies struct {
	Classifier sentiment.Classifier
	Profiles   repository.ProfileRepository
	Generator  llm.TextGenerator
	Registry   *delivery.Registry
	Rules      *relationship.Rules
	Parser     *annotation.Parser
	Segmenter  *segmenter.Segmenter
	Rand       Rand
	Clock      delivery.Clock
}

// Options tunes a Processor.
type Options struct {
	GenerationTimeout time.Duration
	Prompt            PromptOptions
}

// Processor runs the turn pipeline: classify, update the relationship,
// generate, parse, segment and hand the fragments to the scheduler.
type Processor struct {
	deps   Dependencies
	opts   Options
	locks  [lockStripes]sync.Mutex
	logger *zap.Logger
}

// NewProcessor fills optional dependencies with their defaults.
func NewProcessor(deps Dependencies, opts Options, logger *zap.Logger) (*Processor, error) {
	if deps.Profiles == nil || deps.Generator == nil || deps.Registry == nil {
		return nil, fmt.Errorf("profiles, generator and registry are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Classifier == nil {
		deps.Classifier = sentiment.NewRuleClassifier()
	}
	if deps.Rules == nil {
		rules, err := relationship.NewRules(relationship.DefaultParams())
		if err != nil {
			return nil, err
		}
		deps.Rules = rules
	}
	if deps.Parser == nil {
		deps.Parser = annotation.NewParser(logger)
	}
	if deps.Segmenter == nil {
		deps.Segmenter = segmenter.New(segmenter.DefaultOptions())
	}
	if deps.Rand == nil {
		deps.Rand = NewTimeSeededRand()
	}
	if deps.Clock == nil {
		deps.Clock = delivery.RealClock{}
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = DefaultGenerationTimeout
	}
	if opts.Prompt.CompanionName == "" {
		opts.Prompt.CompanionName = "Mia"
	}

	return &Processor{deps: deps, opts: opts, logger: logger}, nil
}

// ProcessTurn runs one turn. It returns an error only for invalid input,
// a rejected turn (delivery.ErrTurnInFlight) or a cancelled ctx; every
// other failure ends in a fallback fragment.
func (p *Processor) ProcessTurn(ctx context.Context, req Request) (*Result, error) {
	pending, err := p.Begin(req)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, pending)
}

// Pending is a turn that owns its conversation's scheduler but has not
// been generated yet.
type Pending struct {
	req     Request
	message *string
	sched   *delivery.Scheduler
	turn    *delivery.Turn
}

// TurnID returns the id assigned to the turn.
func (t *Pending) TurnID() string { return t.turn.ID }

// Begin validates req and claims the conversation's scheduler, superseding
// or rejecting the turn in flight. Callers that fan turns out to goroutines
// call Begin in arrival order and Run concurrently, so the newest message
// always owns the conversation.
func (p *Processor) Begin(req Request) (*Pending, error) {
	message, err := p.validate(req)
	if err != nil {
		return nil, err
	}

	sched, turn, err := p.deps.Registry.BeginTurn(req.ConversationID, uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &Pending{req: req, message: message, sched: sched, turn: turn}, nil
}

// Run finishes a turn claimed by Begin: sentiment, profile update,
// generation, shaping and delivery.
func (p *Processor) Run(ctx context.Context, pending *Pending) (*Result, error) {
	req, message, sched, turn := pending.req, pending.message, pending.sched, pending.turn

	logger := p.logger.With(
		zap.String("conversation_id", req.ConversationID),
		zap.String("turn_id", turn.ID))

	result := &Result{TurnID: turn.ID, Epoch: turn.Epoch}

	if req.IsGreeting {
		result.Sentiment = models.GreetingSentiment()
	} else {
		result.Sentiment = p.deps.Classifier.Analyze(ctx, *message)
	}

	result.Profile, result.Milestone = p.advanceProfile(ctx, req.ConversationID, req.IsGreeting, result.Sentiment, logger)

	prompt := BuildPrompt(p.opts.Prompt, result.Profile, result.Sentiment, message)
	raw, genErr := p.generate(ctx, turn, prompt)

	if !sched.Current(turn) {
		logger.Info("Turn superseded during generation")
		result.Superseded = true
		return result, nil
	}
	if ctx.Err() != nil {
		sched.Abort(turn)
		return nil, ctx.Err()
	}

	if genErr == nil {
		var ok bool
		result.Emotion, result.Fragments, ok = p.shape(raw, result.Sentiment.Label, result.Profile.BondScore)
		if !ok {
			genErr = errors.New("empty reply")
		}
	}
	if genErr != nil {
		logger.Warn("Generation failed, using fallback reply", zap.Error(genErr))
		result.Fallback = true
		result.Emotion = models.EmotionNeutral
		result.Fragments = p.fallbackFragments()
	}

	if err := sched.Deliver(turn, result.Fragments); err != nil {
		if errors.Is(err, delivery.ErrStaleTurn) {
			logger.Info("Turn superseded before delivery")
			result.Superseded = true
			return result, nil
		}
		sched.Abort(turn)
		return nil, fmt.Errorf("failed to schedule delivery: %w", err)
	}

	logger.Info("Turn scheduled",
		zap.String("user_emotion", string(result.Sentiment.Label)),
		zap.String("reply_emotion", string(result.Emotion)),
		zap.Int("fragments", len(result.Fragments)),
		zap.Float64("bond_score", result.Profile.BondScore),
		zap.Bool("fallback", result.Fallback))

	return result, nil
}

func (p *Processor) validate(req Request) (*string, error) {
	if err := ValidateConversationID(req.ConversationID); err != nil {
		return nil, err
	}
	if req.IsGreeting {
		return nil, nil
	}
	if req.Message == nil {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	clean, err := SanitizeMessage(*req.Message)
	if err != nil {
		return nil, err
	}
	if clean == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", ErrInvalidInput)
	}
	return &clean, nil
}

// advanceProfile does the read-modify-write of the relationship profile
// under the conversation's lock. A failed read yields a default profile
// that is used for this turn only and never written back.
func (p *Processor) advanceProfile(ctx context.Context, conversationID string, greeting bool, s models.SentimentResult, logger *zap.Logger) (models.RelationshipProfile, models.Milestone) {
	mu := p.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	now := p.deps.Clock.Now()
	profile, loadErr := p.deps.Rules.Load(ctx, p.deps.Profiles, conversationID, now)

	var reached models.Milestone
	if greeting {
		profile = p.deps.Rules.RecordSession(profile, now)
	} else {
		profile, reached = p.deps.Rules.Update(profile, s, now)
	}

	if loadErr != nil {
		logger.Warn("Profile store unavailable, using a default profile for this turn", zap.Error(loadErr))
		return profile, reached
	}
	if err := p.deps.Profiles.Put(ctx, &profile); err != nil {
		logger.Warn("Failed to save relationship profile", zap.Error(err))
	}
	if reached != "" {
		logger.Info("Emotional milestone reached",
			zap.String("milestone", string(reached)),
			zap.Int("emotional_points", profile.EmotionalPoints))
	}
	return profile, reached
}

func (p *Processor) lockFor(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return &p.locks[h.Sum32()%lockStripes]
}

// generate bounds the call by the generation timeout and by the turn, so a
// superseded turn stops waiting on the generator.
func (p *Processor) generate(ctx context.Context, turn *delivery.Turn, prompt []models.PromptMessage) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, p.opts.GenerationTimeout)
	defer cancel()
	stop := context.AfterFunc(turn.Context(), cancel)
	defer stop()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("generator panicked: %v", r)}
			}
		}()
		text, err := p.deps.Generator.Generate(genCtx, prompt)
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-genCtx.Done():
		return "", fmt.Errorf("generation stopped: %w", genCtx.Err())
	}
}

// shape turns raw generator output into paced fragments. It reports false
// when nothing but annotations remains once they are stripped.
func (p *Processor) shape(raw string, userLabel models.EmotionLabel, bond float64) (models.EmotionLabel, []models.MessageFragment, bool) {
	parsed := p.deps.Parser.Parse(raw)
	if strings.TrimSpace(parsed.CleanText) == "" {
		return "", nil, false
	}

	emotion := userLabel
	if e := parsed.LastEmotion(); e != nil {
		emotion = *e
	}
	if parsed.LeadingEmotion != nil {
		emotion = *parsed.LeadingEmotion
	}
	if !emotion.IsValid() {
		emotion = models.EmotionNeutral
	}

	fragments := p.deps.Segmenter.Segment(parsed.CleanText, emotion)
	fragments = delivery.Pace(fragments, delivery.Pacing{
		DelayFactor:  relationship.DelayFactor(bond),
		TypingFactor: delivery.SpeedFactor(parsed.LastSpeed()),
		FinalPauseMs: parsed.LastPause(),
	}, p.deps.Segmenter.Options())

	return emotion, fragments, true
}

func (p *Processor) fallbackFragments() []models.MessageFragment {
	return []models.MessageFragment{{
		Text:             FallbackReplies[p.deps.Rand.Intn(len(FallbackReplies))],
		InterDelayMs:     fallbackDelayMs,
		TypingDurationMs: fallbackTypingMs,
		Emotion:          models.EmotionNeutral,
		IsFinal:          true,
	}}
}
