package push

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"companion-service/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fragmentEvent(text string) models.Event {
	return models.Event{
		Kind:     models.EventFragment,
		TurnID:   "t1",
		Fragment: &models.MessageFragment{Text: text, Emotion: models.EmotionPlayful},
	}
}

func TestHub(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(zap.NewNop())

	first, closeFirst := hub.Subscribe("a", 4)
	second, closeSecond := hub.Subscribe("a", 4)
	other, closeOther := hub.Subscribe("b", 4)
	defer closeSecond()
	defer closeOther()
	assert.Equal(t, 2, hub.Subscribers("a"))

	require.NoError(t, hub.Emit(ctx, "a", fragmentEvent("hi")))
	assert.Equal(t, "hi", (<-first).Fragment.Text)
	assert.Equal(t, "hi", (<-second).Fragment.Text)
	assert.Empty(t, other)

	closeFirst()
	closeFirst()
	_, open := <-first
	assert.False(t, open)
	assert.Equal(t, 1, hub.Subscribers("a"))

	require.NoError(t, hub.Emit(ctx, "nobody", fragmentEvent("x")))
}

func TestHubDropsOnFullBuffer(t *testing.T) {
	hub := NewHub(zap.NewNop())
	_, unsubscribe := hub.Subscribe("a", 1)
	defer unsubscribe()

	require.NoError(t, hub.Emit(context.Background(), "a", fragmentEvent("1")))
	assert.Error(t, hub.Emit(context.Background(), "a", fragmentEvent("2")))
	assert.Equal(t, int64(1), hub.Dropped())
}

type failingChannel struct{ err error }

func (f failingChannel) Emit(context.Context, string, models.Event) error { return f.err }

func TestFanout(t *testing.T) {
	hub := NewHub(zap.NewNop())
	events, unsubscribe := hub.Subscribe("a", 4)
	defer unsubscribe()

	boom := errors.New("boom")
	f := NewFanout(NewLogChannel(zap.NewNop()), failingChannel{err: boom})
	f.Add(hub)

	err := f.Emit(context.Background(), "a", fragmentEvent("hi"))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, events, 1, "a failing channel does not stop the others")
}

func TestLogChannelEvents(t *testing.T) {
	l := NewLogChannel(zap.NewNop())
	assert.NoError(t, l.Emit(context.Background(), "a", fragmentEvent("x")))
	assert.NoError(t, l.Emit(context.Background(), "a", models.Event{Kind: models.EventTurnCancelled, Reason: "superseded"}))
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "Mia")
	ctx := context.Background()

	require.NoError(t, w.Emit(ctx, "cli", models.Event{Kind: models.EventTypingStart}))
	require.NoError(t, w.Emit(ctx, "cli", fragmentEvent("hey you")))
	require.NoError(t, w.Emit(ctx, "cli", models.Event{Kind: models.EventTurnCancelled, Dropped: 2}))
	w.ShowTyping(false)
	require.NoError(t, w.Emit(ctx, "cli", models.Event{Kind: models.EventTypingStart}))

	assert.Equal(t, "Mia is typing...\nMia [playful]: hey you\n(Mia stopped, 2 unsent)\n", buf.String())
}

type fakeBot struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func (f *fakeBot) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestTelegramConversationID(t *testing.T) {
	assert.Equal(t, "tg:-1001", TelegramConversationID(-1001))

	id, ok := TelegramChatID("tg:-1001")
	assert.True(t, ok)
	assert.Equal(t, int64(-1001), id)

	for _, bad := range []string{"web-1", "tg:", "tg:abc"} {
		_, ok := TelegramChatID(bad)
		assert.False(t, ok, bad)
	}
}

func TestTelegram(t *testing.T) {
	bot := &fakeBot{}
	tg := NewTelegram(bot, 8, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tg.Run(ctx)

	conv := TelegramConversationID(42)
	require.NoError(t, tg.Emit(ctx, conv, models.Event{Kind: models.EventTypingStart}))
	require.NoError(t, tg.Emit(ctx, conv, models.Event{Kind: models.EventTypingStop}))
	require.NoError(t, tg.Emit(ctx, conv, fragmentEvent("hello there")))
	require.NoError(t, tg.Emit(ctx, "web-1", fragmentEvent("not telegram")))

	require.Eventually(t, func() bool { return bot.count() == 2 }, time.Second, 5*time.Millisecond)

	bot.mu.Lock()
	defer bot.mu.Unlock()
	action, ok := bot.sent[0].(tgbotapi.ChatActionConfig)
	require.True(t, ok)
	assert.Equal(t, tgbotapi.ChatTyping, action.Action)
	msg, ok := bot.sent[1].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, "hello there", msg.Text)
	assert.Equal(t, int64(42), msg.ChatID)
}

func TestTelegramBacklog(t *testing.T) {
	tg := NewTelegram(&fakeBot{}, 1, zap.NewNop())
	conv := TelegramConversationID(1)

	require.NoError(t, tg.Emit(context.Background(), conv, fragmentEvent("a")))
	assert.ErrorIs(t, tg.Emit(context.Background(), conv, fragmentEvent("b")), ErrTelegramBacklog)
}
