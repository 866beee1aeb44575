package push

import (
	"context"
	"errors"
	"sync"

	"companion-service/internal/models"

	"go.uber.org/zap"
)

// Channel delivers scheduler events to a client transport. Emit is called
// while the conversation's scheduler is locked and must not block.
type Channel interface {
	Emit(ctx context.Context, conversationID string, event models.Event) error
}

// Fanout forwards every event to all of its channels.
type Fanout struct {
	mu       sync.RWMutex
	channels []Channel
}

func NewFanout(channels ...Channel) *Fanout {
	return &Fanout{channels: channels}
}

// Add registers another channel.
func (f *Fanout) Add(ch Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, ch)
}

func (f *Fanout) Emit(ctx context.Context, conversationID string, event models.Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var errs []error
	for _, ch := range f.channels {
		if err := ch.Emit(ctx, conversationID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogChannel writes every event to the log.
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Emit(_ context.Context, conversationID string, event models.Event) error {
	fields := []zap.Field{
		zap.String("conversation_id", conversationID),
		zap.String("kind", string(event.Kind)),
		zap.String("turn_id", event.TurnID),
		zap.Uint64("epoch", event.Epoch),
	}
	switch event.Kind {
	case models.EventFragment:
		fields = append(fields,
			zap.Int("index", event.Index),
			zap.String("emotion", string(event.Fragment.Emotion)),
			zap.Int("chars", len([]rune(event.Fragment.Text))))
	case models.EventTurnCancelled:
		fields = append(fields,
			zap.String("reason", event.Reason),
			zap.Int("revealed", event.Revealed),
			zap.Int("dropped", event.Dropped))
	}
	l.logger.Debug("Delivery event", fields...)
	return nil
}
