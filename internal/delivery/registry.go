package delivery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RegistryOptions configures the schedulers a Registry creates.
type RegistryOptions struct {
	Clock  Clock
	Policy Policy
}

// Registry owns one Scheduler per conversation. Schedulers are created on
// the first turn and removed by Dispose or by the idle sweep.
type Registry struct {
	mu         sync.Mutex
	schedulers map[string]*Scheduler
	clock      Clock
	policy     Policy
	emitter    Emitter
	logger     *zap.Logger
}

// NewRegistry creates an empty registry pushing events to emitter.
func NewRegistry(emitter Emitter, opts RegistryOptions, logger *zap.Logger) *Registry {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Policy == "" {
		opts.Policy = PolicyRestart
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		schedulers: make(map[string]*Scheduler),
		clock:      opts.Clock,
		policy:     opts.Policy,
		emitter:    emitter,
		logger:     logger,
	}
}

// Acquire returns the scheduler of a conversation, creating it if needed.
func (r *Registry) Acquire(conversationID string) *Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.schedulers[conversationID]; ok {
		return s
	}

	s := NewScheduler(conversationID, r.clock, r.emitter, r.policy, r.logger)
	r.schedulers[conversationID] = s
	r.logger.Debug("Scheduler created", zap.String("conversation_id", conversationID))
	return s
}

// BeginTurn acquires the conversation's scheduler and starts a turn on it
// while holding the registry lock, so the idle sweep cannot drop the
// scheduler in between.
func (r *Registry) BeginTurn(conversationID, turnID string) (*Scheduler, *Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedulers[conversationID]
	if !ok {
		s = NewScheduler(conversationID, r.clock, r.emitter, r.policy, r.logger)
		r.schedulers[conversationID] = s
	}

	turn, err := s.BeginTurn(turnID)
	if err != nil {
		return nil, nil, err
	}
	return s, turn, nil
}

// Get returns the scheduler of a conversation without creating one.
func (r *Registry) Get(conversationID string) (*Scheduler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedulers[conversationID]
	return s, ok
}

// Dispose cancels any turn in flight and forgets the conversation.
func (r *Registry) Dispose(conversationID string) bool {
	r.mu.Lock()
	s, ok := r.schedulers[conversationID]
	delete(r.schedulers, conversationID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Cancel(ReasonDisposed)
	r.logger.Debug("Scheduler disposed", zap.String("conversation_id", conversationID))
	return true
}

// Sweep removes schedulers that have been idle for at least idleTTL and
// returns how many were removed.
func (r *Registry) Sweep(idleTTL time.Duration) int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.schedulers {
		if s.idleSince(now, idleTTL) {
			delete(r.schedulers, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live schedulers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.schedulers)
}

// Run sweeps idle schedulers every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, idleTTL time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Scheduler janitor started",
		zap.Duration("interval", interval),
		zap.Duration("idle_ttl", idleTTL))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Scheduler janitor stopped.")
			return
		case <-ticker.C:
			if removed := r.Sweep(idleTTL); removed > 0 {
				r.logger.Info("Swept idle schedulers",
					zap.Int("removed", removed),
					zap.Int("remaining", r.Len()))
			}
		}
	}
}

// Shutdown cancels every turn in flight.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	schedulers := make([]*Scheduler, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		schedulers = append(schedulers, s)
	}
	r.schedulers = make(map[string]*Scheduler)
	r.mu.Unlock()

	for _, s := range schedulers {
		s.Cancel(ReasonDisposed)
	}
}
