package push

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"companion-service/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramPrefix marks conversation ids that belong to Telegram chats.
const TelegramPrefix = "tg:"

// ErrTelegramBacklog is returned when the outbound queue is full.
var ErrTelegramBacklog = errors.New("telegram outbound queue is full")

// BotSender is the part of tgbotapi.BotAPI used for pushing.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramConversationID returns the conversation id of a chat.
func TelegramConversationID(chatID int64) string {
	return TelegramPrefix + strconv.FormatInt(chatID, 10)
}

// TelegramChatID parses a conversation id created by TelegramConversationID.
func TelegramChatID(conversationID string) (int64, bool) {
	raw, ok := strings.CutPrefix(conversationID, TelegramPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type outbound struct {
	chatID int64
	msg    tgbotapi.Chattable
	kind   models.EventKind
}

// Telegram turns typing_start into a chat action and fragments into
// messages. Sends are queued and performed by Run.
type Telegram struct {
	bot    BotSender
	queue  chan outbound
	logger *zap.Logger
}

func NewTelegram(bot BotSender, queueSize int, logger *zap.Logger) *Telegram {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Telegram{
		bot:    bot,
		queue:  make(chan outbound, queueSize),
		logger: logger,
	}
}

// Emit ignores conversations that are not Telegram chats.
func (t *Telegram) Emit(_ context.Context, conversationID string, event models.Event) error {
	chatID, ok := TelegramChatID(conversationID)
	if !ok {
		return nil
	}

	var msg tgbotapi.Chattable
	switch event.Kind {
	case models.EventTypingStart:
		msg = tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	case models.EventFragment:
		msg = tgbotapi.NewMessage(chatID, event.Fragment.Text)
	default:
		return nil
	}

	select {
	case t.queue <- outbound{chatID: chatID, msg: msg, kind: event.Kind}:
		return nil
	default:
		return fmt.Errorf("%w: chat %d", ErrTelegramBacklog, chatID)
	}
}

// Run sends queued messages until ctx is done.
func (t *Telegram) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-t.queue:
			if _, err := t.bot.Send(out.msg); err != nil {
				t.logger.Error("Failed to send Telegram message",
					zap.Int64("chat_id", out.chatID),
					zap.String("kind", string(out.kind)),
					zap.Error(err))
			}
		}
	}
}
