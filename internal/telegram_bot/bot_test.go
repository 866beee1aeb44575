package telegram_bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"companion-service/internal/delivery"
	"companion-service/internal/models"
	"companion-service/internal/push"
	"companion-service/internal/repository"
	"companion-service/internal/turn_processor"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	updates chan tgbotapi.Update
	stopped bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

type stubProcessor struct {
	mu       sync.Mutex
	got      []turn_processor.Request
	beginErr error
	runErr   error
}

func (s *stubProcessor) Begin(req turn_processor.Request) (*turn_processor.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, req)
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &turn_processor.Pending{}, nil
}

func (s *stubProcessor) Run(context.Context, *turn_processor.Pending) (*turn_processor.Result, error) {
	return &turn_processor.Result{}, s.runErr
}

// gatedGenerator holds any reply to "first" until its turn is cancelled.
type gatedGenerator struct{}

func (gatedGenerator) Generate(ctx context.Context, messages []models.PromptMessage) (string, error) {
	if messages[len(messages)-1].Content == "first" {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "got your second one", nil
}

func (s *stubProcessor) requests() []turn_processor.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]turn_processor.Request(nil), s.got...)
}

func command(chatID int64, cmd string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text:     cmd,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: chatID, FirstName: "Sam"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func text(chatID int64, body string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text: body,
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: chatID, FirstName: "Sam"},
	}
}

func newTestBot(processor TurnProcessor) (*Bot, *fakeAPI, *delivery.Registry) {
	api := newFakeAPI()
	logger := zap.NewNop()
	registry := delivery.NewRegistry(push.NewFanout(), delivery.RegistryOptions{Clock: delivery.NewManualClock(time.Now())}, logger)
	return newBot(api, Config{QueueSize: 4, CompanionName: "Mia"}, processor, registry, logger), api, registry
}

func TestNewBotDisabled(t *testing.T) {
	bot, err := NewBot(Config{Enabled: false}, &stubProcessor{}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, bot)
	assert.NoError(t, bot.Start(context.Background()), "a disabled bot starts as a no-op")
}

func TestHandleMessage(t *testing.T) {
	proc := &stubProcessor{}
	bot, api, _ := newTestBot(proc)
	ctx := context.Background()

	bot.handleMessage(ctx, command(42, "/start"))
	bot.handleMessage(ctx, text(42, "hi there"))
	bot.turns.Wait()

	got := proc.requests()
	require.Len(t, got, 2)
	assert.Contains(t, got, turn_processor.Request{ConversationID: "tg:42", IsGreeting: true})
	for _, req := range got {
		if req.Message != nil {
			assert.Equal(t, "hi there", *req.Message)
			assert.Equal(t, "tg:42", req.ConversationID)
		}
	}
	assert.Empty(t, api.texts(), "replies go through the push channel")
}

func TestHandleCommands(t *testing.T) {
	bot, api, registry := newTestBot(&stubProcessor{})
	ctx := context.Background()

	registry.Acquire("tg:7")
	bot.handleMessage(ctx, command(7, "/stop"))
	assert.Zero(t, registry.Len())

	bot.handleMessage(ctx, command(7, "/help"))
	bot.handleMessage(ctx, command(7, "/dance"))
	bot.handleMessage(ctx, &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}})

	texts := api.texts()
	require.Len(t, texts, 4)
	assert.Contains(t, texts[1], "I'm Mia")
	assert.Contains(t, texts[2], "Unknown command")
	assert.Contains(t, texts[3], "text messages")
}

func TestTurnErrorsAreReported(t *testing.T) {
	tests := []struct {
		name string
		proc *stubProcessor
		want string
	}{
		{"invalid input", &stubProcessor{beginErr: fmt.Errorf("%w: too long", turn_processor.ErrInvalidInput)}, "couldn't read"},
		{"rejected", &stubProcessor{beginErr: delivery.ErrTurnInFlight}, "still answering"},
		{"cancelled", &stubProcessor{runErr: context.Canceled}, ""},
		{"internal", &stubProcessor{runErr: errors.New("boom")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot, api, _ := newTestBot(tt.proc)
			bot.handleMessage(context.Background(), text(1, "hello"))
			bot.turns.Wait()

			texts := api.texts()
			if tt.want == "" {
				assert.Empty(t, texts)
				return
			}
			require.Len(t, texts, 1)
			assert.Contains(t, texts[0], tt.want)
		})
	}
}

func TestNewestMessageOwnsTheConversation(t *testing.T) {
	api := newFakeAPI()
	logger := zap.NewNop()
	clock := delivery.NewManualClock(time.Now())
	fanout := push.NewFanout()
	registry := delivery.NewRegistry(fanout, delivery.RegistryOptions{Clock: clock}, logger)
	proc, err := turn_processor.NewProcessor(turn_processor.Dependencies{
		Profiles:  repository.NewMemoryProfileRepository(),
		Generator: gatedGenerator{},
		Registry:  registry,
		Clock:     clock,
	}, turn_processor.Options{}, logger)
	require.NoError(t, err)

	bot := newBot(api, Config{QueueSize: 8}, proc, registry, logger)
	fanout.Add(bot.Channel())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Start(ctx) }()

	api.updates <- tgbotapi.Update{Message: text(5, "first")}
	api.updates <- tgbotapi.Update{Message: text(5, "second")}

	require.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		return slices.Contains(api.texts(), "got your second one")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"got your second one"}, api.texts(), "the first message never answers after the second arrived")
}

func TestStartRelaysUpdatesAndDelivers(t *testing.T) {
	proc := &stubProcessor{}
	bot, api, _ := newTestBot(proc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Start(ctx) }()

	api.updates <- tgbotapi.Update{Message: text(9, "are you there?")}
	require.Eventually(t, func() bool { return len(proc.requests()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bot.Channel().Emit(ctx, "tg:9", models.Event{
		Kind:     models.EventFragment,
		Fragment: &models.MessageFragment{Text: "always"},
	}))
	require.Eventually(t, func() bool {
		texts := api.texts()
		return len(texts) == 1 && texts[0] == "always"
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
	api.mu.Lock()
	assert.True(t, api.stopped)
	api.mu.Unlock()
}
