// Package telegram delivers nudges over the Telegram bot API.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/notify"
)

// Telegram caps messages at 4096 chars; chunk below it to leave headroom.
const maxMessageLen = 4000

// Bot is the slice of the bot API the notifier uses. Narrowed for mocking.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// Config is the configuration options for the notifier.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	// ChatIDs maps murmur user ids onto Telegram chat ids. Users without a
	// mapping cannot be reached.
	ChatIDs map[string]int64
}

// Notifier delivers messages through one bot.
type Notifier struct {
	bot     Bot
	chatIDs map[string]int64
	logger  *zap.Logger
}

// NewNotifier authenticates the bot and returns a notifier.
func NewNotifier(cfg Config, logger *zap.Logger) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	logger.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))
	return &Notifier{bot: bot, chatIDs: cfg.ChatIDs, logger: logger}, nil
}

// NewNotifierWithBot wires a pre-built bot. Test seam.
func NewNotifierWithBot(bot Bot, chatIDs map[string]int64, logger *zap.Logger) *Notifier {
	return &Notifier{bot: bot, chatIDs: chatIDs, logger: logger}
}

// Deliver sends one message to the user's mapped chat, chunked under the
// Telegram length cap.
func (n *Notifier) Deliver(_ context.Context, userID, message string) error {
	chatID, ok := n.chatIDs[userID]
	if !ok {
		return fmt.Errorf("%w: no chat mapped for user %s", notify.ErrDelivery, userID)
	}

	for _, chunk := range chunks(message) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if _, err := n.bot.Send(msg); err != nil {
			return fmt.Errorf("%w: %v", notify.ErrDelivery, err)
		}
	}

	n.logger.Debug("nudge delivered",
		zap.String("user_id", userID),
		zap.Int64("chat_id", chatID),
	)
	return nil
}

func (n *Notifier) Close() error {
	n.bot.StopReceivingUpdates()
	return nil
}

// chunks splits a message under the length cap, preferring newline breaks.
func chunks(s string) []string {
	var out []string
	for len(s) > 0 {
		chunk := s
		if len(chunk) > maxMessageLen {
			if idx := strings.LastIndex(chunk[:maxMessageLen], "\n"); idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxMessageLen]
			}
		}
		s = strings.TrimPrefix(s[len(chunk):], "\n")
		out = append(out, chunk)
	}
	return out
}
