package push

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"companion-service/internal/models"

	"go.uber.org/zap"
)

// DefaultSubscriberBuffer is the per-subscriber event buffer.
const DefaultSubscriberBuffer = 64

// Hub fans events out to subscribers of a conversation, such as SSE
// streams. A subscriber whose buffer is full loses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[uint64]chan models.Event
	nextID  uint64
	dropped atomic.Int64
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[uint64]chan models.Event),
		logger: logger,
	}
}

// Subscribe returns the event stream of a conversation and a function that
// closes it.
func (h *Hub) Subscribe(conversationID string, buffer int) (<-chan models.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan models.Event, buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[uint64]chan models.Event)
	}
	h.subs[conversationID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[conversationID], id)
			if len(h.subs[conversationID]) == 0 {
				delete(h.subs, conversationID)
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of open streams of a conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

// Dropped returns how many events were lost to full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) Emit(_ context.Context, conversationID string, event models.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lost := 0
	for _, ch := range h.subs[conversationID] {
		select {
		case ch <- event:
		default:
			lost++
		}
	}
	if lost > 0 {
		h.dropped.Add(int64(lost))
		h.logger.Warn("Subscriber buffer full, event dropped",
			zap.String("conversation_id", conversationID),
			zap.String("kind", string(event.Kind)),
			zap.Int("subscribers", lost))
		return fmt.Errorf("event %s dropped for %d subscribers", event.Kind, lost)
	}
	return nil
}
