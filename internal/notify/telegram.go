// Package notify delivers mutual-match notifications over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/meetsmatch/roommates/internal/database"
	"github.com/meetsmatch/roommates/internal/interfaces"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// Config configures the Telegram notifier.
type Config struct {
	BotToken string `mapstructure:"bot_token"`
	// ConversationURL is a format string with one %s for the conversation id.
	// When set, notifications carry a button that opens the conversation.
	ConversationURL string `mapstructure:"conversation_url"`
}

// messageSender is the part of *bot.Bot the notifier uses.
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramNotifier implements interfaces.Notifier with the Telegram Bot API.
type TelegramNotifier struct {
	sender          messageSender
	conversationURL string
}

var _ interfaces.Notifier = (*TelegramNotifier)(nil)

// NewTelegramNotifier creates a notifier backed by a bot client. The client is
// only used to send messages, no updates are polled.
func NewTelegramNotifier(config Config) (*TelegramNotifier, error) {
	token := strings.TrimSpace(config.BotToken)
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return newTelegramNotifier(b, config.ConversationURL), nil
}

func newTelegramNotifier(sender messageSender, conversationURL string) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, conversationURL: strings.TrimSpace(conversationURL)}
}

// NotifyMutual messages both profiles that have a Telegram chat. Profiles
// without one are skipped. Every reachable side is attempted even when the
// other fails.
func (n *TelegramNotifier) NotifyMutual(ctx context.Context, a, b *database.Profile, conversationID string) error {
	var errs []error
	for _, pair := range [][2]*database.Profile{{a, b}, {b, a}} {
		recipient, other := pair[0], pair[1]
		if recipient == nil || recipient.TelegramChatID == nil {
			continue
		}
		if err := n.send(ctx, *recipient.TelegramChatID, other, conversationID); err != nil {
			errs = append(errs, fmt.Errorf("notify profile %s: %w", recipient.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (n *TelegramNotifier) send(ctx context.Context, chatID int64, other *database.Profile, conversationID string) error {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"chat_id":         chatID,
		"conversation_id": conversationID,
		"operation":       "notify_mutual",
	})

	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      mutualMessage(other),
		ParseMode: models.ParseModeMarkdown,
	}
	if n.conversationURL != "" && conversationID != "" {
		params.ReplyMarkup = models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{
					{Text: "💬 Open conversation", URL: fmt.Sprintf(n.conversationURL, conversationID)},
				},
			},
		}
	}

	if _, err := n.sender.SendMessage(ctx, params); err != nil {
		logger.WithError(err).Error("Failed to send mutual match notification")
		return err
	}
	logger.Debug("Sent mutual match notification")
	return nil
}

func mutualMessage(other *database.Profile) string {
	var sb strings.Builder
	sb.WriteString("🎉 *It's a match\\!*\n\n")

	detail := "Someone you liked likes you back."
	if other != nil && other.Location != "" {
		detail = fmt.Sprintf("Someone you liked in %s likes you back.", other.Location)
	}
	sb.WriteString(bot.EscapeMarkdown(detail))
	sb.WriteString("\n")
	sb.WriteString(bot.EscapeMarkdown("Your conversation is ready, say hello!"))
	return sb.String()
}
