package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"companion-service/internal/models"

	"go.uber.org/zap"
)

// State of a conversation's scheduler.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingGeneration State = "awaiting_generation"
	StateRevealing          State = "revealing"
	StateComplete           State = "complete"
	StateCancelled          State = "cancelled"
)

// Active reports whether a turn is in flight.
func (s State) Active() bool {
	return s == StateAwaitingGeneration || s == StateRevealing
}

// Policy decides what a new turn does to one still in flight.
type Policy string

const (
	// PolicyRestart cancels the running turn, last turn wins.
	PolicyRestart Policy = "restart"
	// PolicyReject refuses the new turn with ErrTurnInFlight.
	PolicyReject Policy = "reject"
)

// Cancellation reasons reported in turn_cancelled events.
const (
	ReasonSuperseded = "superseded"
	ReasonDisposed   = "disposed"
	ReasonAborted    = "aborted"
)

var (
	ErrTurnInFlight = errors.New("a turn is already in flight for this conversation")
	ErrStaleTurn    = errors.New("turn was superseded")
	ErrNoFragments  = errors.New("nothing to deliver")
)

// Emitter receives delivery events. Emit is called with the scheduler lock
// held, so implementations must not call back into the scheduler.
type Emitter interface {
	Emit(ctx context.Context, conversationID string, event models.Event) error
}

// Turn is the handle of one user-message-in, replies-out cycle.
type Turn struct {
	ID    string
	Epoch uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Context is cancelled when the turn is superseded, cancelled or finished.
func (t *Turn) Context() context.Context { return t.ctx }

// Done is closed once the turn completes or is cancelled.
func (t *Turn) Done() <-chan struct{} { return t.done }

func (t *Turn) finish() {
	t.once.Do(func() {
		t.cancel()
		close(t.done)
	})
}

// Snapshot is a read-only view of a scheduler.
type Snapshot struct {
	ConversationID string    `json:"conversation_id"`
	State          State     `json:"state"`
	Epoch          uint64    `json:"epoch"`
	TurnID         string    `json:"turn_id,omitempty"`
	Cursor         int       `json:"cursor"`
	Queued         int       `json:"queued"`
	LastActive     time.Time `json:"last_active"`
}

// Scheduler reveals the fragments of one conversation over time. Every
// timer callback carries the epoch it was scheduled under and does nothing
// once the epoch has moved on.
type Scheduler struct {
	conversationID string
	clock          Clock
	emitter        Emitter
	policy         Policy
	logger         *zap.Logger

	mu         sync.Mutex
	epoch      uint64
	state      State
	turn       *Turn
	queue      []models.MessageFragment
	cursor     int
	timer      Timer
	lastActive time.Time
}

// NewScheduler creates an idle scheduler for one conversation.
func NewScheduler(conversationID string, clock Clock, emitter Emitter, policy Policy, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if policy == "" {
		policy = PolicyRestart
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		conversationID: conversationID,
		clock:          clock,
		emitter:        emitter,
		policy:         policy,
		logger:         logger.With(zap.String("conversation_id", conversationID)),
		state:          StateIdle,
		lastActive:     clock.Now(),
	}
}

// BeginTurn moves the scheduler to awaiting_generation under a new epoch.
// A turn still in flight is cancelled first, or the call fails with
// ErrTurnInFlight under PolicyReject.
func (s *Scheduler) BeginTurn(turnID string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Active() {
		if s.policy == PolicyReject {
			return nil, ErrTurnInFlight
		}
		s.cancelLocked(ReasonSuperseded)
	}

	s.epoch++
	ctx, cancel := context.WithCancel(context.Background())
	turn := &Turn{
		ID:     turnID,
		Epoch:  s.epoch,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.turn = turn
	s.state = StateAwaitingGeneration
	s.queue = nil
	s.cursor = 0
	s.lastActive = s.clock.Now()

	s.logger.Debug("Turn started", zap.String("turn_id", turnID), zap.Uint64("epoch", turn.Epoch))
	return turn, nil
}

// Current reports whether turn still owns the scheduler.
func (s *Scheduler) Current(turn *Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isCurrentLocked(turn)
}

func (s *Scheduler) isCurrentLocked(turn *Turn) bool {
	return turn != nil && s.turn == turn && turn.Epoch == s.epoch
}

// Deliver hands the segmented reply to the scheduler and starts revealing
// it. It returns immediately; fragments are pushed as timers fire.
func (s *Scheduler) Deliver(turn *Turn, fragments []models.MessageFragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isCurrentLocked(turn) || s.state != StateAwaitingGeneration {
		return ErrStaleTurn
	}
	if len(fragments) == 0 {
		return ErrNoFragments
	}

	s.queue = append([]models.MessageFragment(nil), fragments...)
	s.cursor = 0
	s.state = StateRevealing
	s.lastActive = s.clock.Now()
	s.scheduleDelayLocked(s.epoch)
	return nil
}

// Cancel stops the turn in flight, if any. Already revealed fragments stay
// revealed, the rest are dropped.
func (s *Scheduler) Cancel(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(reason)
}

// Abort cancels turn if it still owns the scheduler. Callers use it when a
// turn ends without anything to deliver.
func (s *Scheduler) Abort(turn *Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isCurrentLocked(turn) {
		return false
	}
	return s.cancelLocked(ReasonAborted)
}

func (s *Scheduler) cancelLocked(reason string) bool {
	if !s.state.Active() {
		return false
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	turn := s.turn
	revealed := s.cursor
	dropped := len(s.queue) - s.cursor

	// bumping the epoch turns every outstanding callback into a no-op
	s.epoch++
	s.state = StateCancelled
	s.queue = nil
	s.cursor = 0
	s.lastActive = s.clock.Now()

	s.emitLocked(models.Event{
		Kind:     models.EventTurnCancelled,
		TurnID:   turn.ID,
		Epoch:    turn.Epoch,
		Revealed: revealed,
		Dropped:  dropped,
		Reason:   reason,
	})
	turn.finish()

	s.logger.Debug("Turn cancelled",
		zap.String("turn_id", turn.ID),
		zap.String("reason", reason),
		zap.Int("revealed", revealed),
		zap.Int("dropped", dropped))
	return true
}

func (s *Scheduler) scheduleDelayLocked(epoch uint64) {
	frag := s.queue[s.cursor]
	s.timer = s.clock.AfterFunc(millis(frag.InterDelayMs), func() {
		s.onDelayElapsed(epoch)
	})
}

func (s *Scheduler) onDelayElapsed(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.state != StateRevealing {
		return
	}

	frag := s.queue[s.cursor]
	s.emitLocked(models.Event{Kind: models.EventTypingStart, TurnID: s.turn.ID, Epoch: epoch, Index: s.cursor})
	s.timer = s.clock.AfterFunc(millis(frag.TypingDurationMs), func() {
		s.onTypingElapsed(epoch)
	})
}

func (s *Scheduler) onTypingElapsed(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.state != StateRevealing {
		return
	}

	frag := s.queue[s.cursor]
	s.emitLocked(models.Event{Kind: models.EventTypingStop, TurnID: s.turn.ID, Epoch: epoch, Index: s.cursor})
	s.emitLocked(models.Event{Kind: models.EventFragment, TurnID: s.turn.ID, Epoch: epoch, Index: s.cursor, Fragment: &frag})

	s.cursor++
	s.lastActive = s.clock.Now()
	if s.cursor < len(s.queue) {
		s.scheduleDelayLocked(epoch)
		return
	}

	s.timer = nil
	s.state = StateComplete
	s.emitLocked(models.Event{Kind: models.EventTurnComplete, TurnID: s.turn.ID, Epoch: epoch, Revealed: s.cursor})
	s.turn.finish()
}

func (s *Scheduler) emitLocked(event models.Event) {
	if s.emitter == nil {
		return
	}
	event.At = s.clock.Now()
	if err := s.emitter.Emit(context.Background(), s.conversationID, event); err != nil {
		s.logger.Warn("Failed to push delivery event",
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the scheduler's progress.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ConversationID: s.conversationID,
		State:          s.state,
		Epoch:          s.epoch,
		Cursor:         s.cursor,
		Queued:         len(s.queue) - s.cursor,
		LastActive:     s.lastActive,
	}
	if s.turn != nil {
		snap.TurnID = s.turn.ID
	}
	return snap
}

// idleSince reports whether the scheduler has had no turn in flight for at
// least ttl.
func (s *Scheduler) idleSince(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.state.Active() && now.Sub(s.lastActive) >= ttl
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
