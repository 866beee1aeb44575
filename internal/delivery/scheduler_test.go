package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"companion-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingEmitter) Emit(_ context.Context, _ string, event models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recordingEmitter) fragments(turnID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == models.EventFragment && e.TurnID == turnID {
			out = append(out, e.Fragment.Text)
		}
	}
	return out
}

func (r *recordingEmitter) last() models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// leakyClock reports timers as stopped without stopping them, so late
// callbacks still fire.
type leakyClock struct {
	*ManualClock
}

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return true }

func (c leakyClock) AfterFunc(d time.Duration, f func()) Timer {
	c.ManualClock.AfterFunc(d, f)
	return leakyTimer{}
}

var epoch0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func twoFragments(prefix string) []models.MessageFragment {
	return []models.MessageFragment{
		{Text: prefix + "-1", InterDelayMs: 100, TypingDurationMs: 200, Emotion: models.EmotionNeutral},
		{Text: prefix + "-2", InterDelayMs: 100, TypingDurationMs: 300, Emotion: models.EmotionNeutral, IsFinal: true},
	}
}

func newTestScheduler(clock Clock, policy Policy) (*Scheduler, *recordingEmitter) {
	rec := &recordingEmitter{}
	return NewScheduler("conv-1", clock, rec, policy, zap.NewNop()), rec
}

func TestSchedulerRevealsInOrder(t *testing.T) {
	clock := NewManualClock(epoch0)
	s, rec := newTestScheduler(clock, PolicyRestart)

	turn, err := s.BeginTurn("t1")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingGeneration, s.State())

	require.NoError(t, s.Deliver(turn, twoFragments("a")))
	assert.Equal(t, StateRevealing, s.State())
	assert.Empty(t, rec.kinds(), "nothing is pushed before the first delay elapses")

	clock.Advance(99 * time.Millisecond)
	assert.Empty(t, rec.kinds())

	clock.Advance(1 * time.Millisecond)
	assert.Equal(t, []models.EventKind{models.EventTypingStart}, rec.kinds())

	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, []string{"a-1"}, rec.fragments("t1"))
	assert.Equal(t, 1, s.Snapshot().Cursor)
	assert.Equal(t, 1, s.Snapshot().Queued)

	clock.Advance(400 * time.Millisecond)
	assert.Equal(t, []models.EventKind{
		models.EventTypingStart, models.EventTypingStop, models.EventFragment,
		models.EventTypingStart, models.EventTypingStop, models.EventFragment,
		models.EventTurnComplete,
	}, rec.kinds())
	assert.Equal(t, []string{"a-1", "a-2"}, rec.fragments("t1"))
	assert.Equal(t, StateComplete, s.State())
	assert.Equal(t, 2, rec.last().Revealed)
	assert.Equal(t, epoch0.Add(700*time.Millisecond), rec.last().At)

	select {
	case <-turn.Done():
	default:
		t.Fatal("turn should be done after the last fragment")
	}
	assert.Zero(t, clock.Pending())
}

func TestSchedulerNewTurnCancelsPrevious(t *testing.T) {
	clocks := map[string]func() (Clock, *ManualClock){
		"stoppable timers": func() (Clock, *ManualClock) {
			c := NewManualClock(epoch0)
			return c, c
		},
		"timers that fire late": func() (Clock, *ManualClock) {
			c := NewManualClock(epoch0)
			return leakyClock{c}, c
		},
	}

	for name, mk := range clocks {
		t.Run(name, func(t *testing.T) {
			clock, manual := mk()
			s, rec := newTestScheduler(clock, PolicyRestart)

			first, err := s.BeginTurn("t1")
			require.NoError(t, err)
			require.NoError(t, s.Deliver(first, twoFragments("old")))

			manual.Advance(300 * time.Millisecond)
			require.Equal(t, []string{"old-1"}, rec.fragments("t1"))

			second, err := s.BeginTurn("t2")
			require.NoError(t, err)
			assert.Greater(t, second.Epoch, first.Epoch)

			cancelled := rec.last()
			assert.Equal(t, models.EventTurnCancelled, cancelled.Kind)
			assert.Equal(t, "t1", cancelled.TurnID)
			assert.Equal(t, ReasonSuperseded, cancelled.Reason)
			assert.Equal(t, 1, cancelled.Revealed)
			assert.Equal(t, 1, cancelled.Dropped)

			assert.ErrorIs(t, first.Context().Err(), context.Canceled)
			assert.False(t, s.Current(first))
			assert.ErrorIs(t, s.Deliver(first, twoFragments("late")), ErrStaleTurn)

			require.NoError(t, s.Deliver(second, twoFragments("new")))
			manual.Advance(5 * time.Second)

			assert.Equal(t, []string{"old-1"}, rec.fragments("t1"), "no fragment of a cancelled turn may follow the cancellation")
			assert.Equal(t, []string{"new-1", "new-2"}, rec.fragments("t2"))
			assert.Equal(t, StateComplete, s.State())
		})
	}
}

func TestSchedulerCancelWhileAwaitingGeneration(t *testing.T) {
	clock := NewManualClock(epoch0)
	s, rec := newTestScheduler(clock, PolicyRestart)

	first, err := s.BeginTurn("t1")
	require.NoError(t, err)
	_, err = s.BeginTurn("t2")
	require.NoError(t, err)

	assert.Equal(t, []models.EventKind{models.EventTurnCancelled}, rec.kinds())
	assert.Equal(t, 0, rec.last().Dropped)
	assert.ErrorIs(t, s.Deliver(first, twoFragments("x")), ErrStaleTurn)
}

func TestSchedulerRejectPolicy(t *testing.T) {
	clock := NewManualClock(epoch0)
	s, _ := newTestScheduler(clock, PolicyReject)

	turn, err := s.BeginTurn("t1")
	require.NoError(t, err)

	_, err = s.BeginTurn("t2")
	assert.ErrorIs(t, err, ErrTurnInFlight)
	assert.True(t, s.Current(turn))

	require.NoError(t, s.Deliver(turn, twoFragments("a")))
	clock.Advance(time.Second)

	_, err = s.BeginTurn("t3")
	assert.NoError(t, err, "a completed turn no longer blocks")
}

func TestSchedulerDeliverErrors(t *testing.T) {
	s, _ := newTestScheduler(NewManualClock(epoch0), PolicyRestart)

	assert.ErrorIs(t, s.Deliver(nil, twoFragments("a")), ErrStaleTurn)

	turn, err := s.BeginTurn("t1")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Deliver(turn, nil), ErrNoFragments)

	require.NoError(t, s.Deliver(turn, twoFragments("a")))
	assert.ErrorIs(t, s.Deliver(turn, twoFragments("b")), ErrStaleTurn, "a turn delivers once")
}

func TestSchedulerAbortAndCancel(t *testing.T) {
	clock := NewManualClock(epoch0)
	s, rec := newTestScheduler(clock, PolicyRestart)

	assert.False(t, s.Cancel(ReasonDisposed), "nothing to cancel while idle")

	turn, err := s.BeginTurn("t1")
	require.NoError(t, err)
	assert.True(t, s.Abort(turn))
	assert.False(t, s.Abort(turn))
	assert.Equal(t, StateCancelled, s.State())
	assert.Equal(t, ReasonAborted, rec.last().Reason)

	turn, err = s.BeginTurn("t2")
	require.NoError(t, err)
	require.NoError(t, s.Deliver(turn, twoFragments("a")))
	assert.True(t, s.Cancel(ReasonDisposed))
	clock.Advance(time.Second)

	assert.Empty(t, rec.fragments("t2"))
	assert.Equal(t, 2, rec.last().Dropped)
	assert.Zero(t, clock.Pending())
}

func TestSchedulerCallerMutationDoesNotLeak(t *testing.T) {
	clock := NewManualClock(epoch0)
	s, rec := newTestScheduler(clock, PolicyRestart)

	frags := twoFragments("a")
	turn, err := s.BeginTurn("t1")
	require.NoError(t, err)
	require.NoError(t, s.Deliver(turn, frags))
	frags[0].Text = "changed"

	clock.Advance(time.Second)
	assert.Equal(t, []string{"a-1", "a-2"}, rec.fragments("t1"))
}

func TestManualClockOrdering(t *testing.T) {
	clock := NewManualClock(epoch0)
	var order []string

	clock.AfterFunc(20*time.Millisecond, func() { order = append(order, "b") })
	clock.AfterFunc(10*time.Millisecond, func() {
		order = append(order, "a")
		clock.AfterFunc(5*time.Millisecond, func() { order = append(order, "a2") })
	})
	stopped := clock.AfterFunc(15*time.Millisecond, func() { order = append(order, "never") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	clock.Advance(30 * time.Millisecond)
	assert.Equal(t, []string{"a", "a2", "b"}, order)
	assert.Equal(t, epoch0.Add(30*time.Millisecond), clock.Now())
}
