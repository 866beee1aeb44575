package telegram_bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"companion-service/internal/delivery"
	"companion-service/internal/push"
	"companion-service/internal/turn_processor"
)

// TurnProcessor runs conversation turns in two steps: Begin claims the
// conversation, Run does the slow part.
type TurnProcessor interface {
	Begin(req turn_processor.Request) (*turn_processor.Pending, error)
	Run(ctx context.Context, pending *turn_processor.Pending) (*turn_processor.Result, error)
}

// API is the part of tgbotapi.BotAPI the bot uses.
type API interface {
	push.BotSender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Config configures the bot.
type Config struct {
	Enabled       bool
	BotToken      string
	QueueSize     int
	CompanionName string
}

// Bot relays Telegram chats to the turn processor. Replies reach the chat
// through the push channel returned by Channel.
type Bot struct {
	api       API
	processor TurnProcessor
	registry  *delivery.Registry
	outbox    *push.Telegram
	name      string
	turns     sync.WaitGroup
	logger    *zap.Logger
}

// NewBot creates a new Telegram bot instance. It returns nil when the bot
// is disabled.
func NewBot(cfg Config, processor TurnProcessor, registry *delivery.Registry, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled || cfg.BotToken == "" {
		logger.Info("Telegram bot is disabled (telegram.enabled=false or token is empty)")
		return nil, nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	return newBot(botAPI, cfg, processor, registry, logger), nil
}

func newBot(api API, cfg Config, processor TurnProcessor, registry *delivery.Registry, logger *zap.Logger) *Bot {
	name := cfg.CompanionName
	if name == "" {
		name = "Mia"
	}
	return &Bot{
		api:       api,
		processor: processor,
		registry:  registry,
		outbox:    push.NewTelegram(api, cfg.QueueSize, logger),
		name:      name,
		logger:    logger,
	}
}

// Channel is the push channel delivering fragments to Telegram chats.
func (b *Bot) Channel() push.Channel {
	return b.outbox
}

// Start begins listening for updates from Telegram
func (b *Bot) Start(ctx context.Context) error {
	if b == nil {
		return nil
	}

	go b.outbox.Run(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Telegram bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			b.api.StopReceivingUpdates()
			b.turns.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.turns.Wait()
				return nil
			}
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

// handleMessage processes incoming messages
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	conversationID := push.TelegramConversationID(chatID)

	if message.IsCommand() {
		switch message.Command() {
		case "start":
			b.runTurn(ctx, chatID, turn_processor.Request{ConversationID: conversationID, IsGreeting: true})
		case "stop":
			b.registry.Dispose(conversationID)
			b.sendMessage(chatID, "Okay, I'll hush for now. Write me whenever you like.")
		case "help":
			b.handleHelpCommand(message)
		default:
			b.sendMessage(chatID, "Unknown command. Use /help to see what I understand.")
		}
		return
	}

	if message.Text == "" {
		b.sendMessage(chatID, "I can only read text messages for now.")
		return
	}

	text := message.Text
	b.runTurn(ctx, chatID, turn_processor.Request{ConversationID: conversationID, Message: &text})
}

// runTurn claims the conversation on the update loop, so turns own it in
// the order their messages arrived, then finishes the turn in the
// background so the loop keeps reading; a newer message supersedes the
// one in flight.
func (b *Bot) runTurn(ctx context.Context, chatID int64, req turn_processor.Request) {
	pending, err := b.processor.Begin(req)
	if err != nil {
		b.reportTurnError(chatID, err)
		return
	}

	b.turns.Add(1)
	go func() {
		defer b.turns.Done()
		if _, err := b.processor.Run(ctx, pending); err != nil {
			b.reportTurnError(chatID, err)
		}
	}()
}

func (b *Bot) reportTurnError(chatID int64, err error) {
	switch {
	case errors.Is(err, turn_processor.ErrInvalidInput):
		b.sendMessage(chatID, "Hmm, I couldn't read that one. Could you say it differently?")
	case errors.Is(err, delivery.ErrTurnInFlight):
		b.sendMessage(chatID, "One sec, I'm still answering your last message.")
	case errors.Is(err, context.Canceled):
	default:
		b.logger.Error("Failed to process Telegram message",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}

// handleHelpCommand handles the /help command
func (b *Bot) handleHelpCommand(message *tgbotapi.Message) {
	helpText := fmt.Sprintf("Hi, I'm %s.\n\n", b.name) +
		"/start - say hello\n" +
		"/stop - stop my current reply\n" +
		"/help - this message\n\n" +
		"Anything else you write, I'll answer."
	b.sendMessage(message.Chat.ID, helpText)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
