package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the subset of *tgbotapi.BotAPI used to talk to Telegram.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

var _ BotAPI = (*tgbotapi.BotAPI)(nil)

// TelegramSink sends messages to the user's private chat.
type TelegramSink struct {
	bot BotAPI
}

// NewTelegramSink creates a sink over bot.
func NewTelegramSink(bot BotAPI) *TelegramSink {
	return &TelegramSink{bot: bot}
}

// Deliver implements Sink. The chat id of a private chat equals the user id.
func (s *TelegramSink) Deliver(_ context.Context, userID int64, msg Message) error {
	out := tgbotapi.NewMessage(userID, msg.Text)
	out.ParseMode = tgbotapi.ModeMarkdownV2
	out.DisableWebPagePreview = true
	if len(msg.Keyboard) > 0 {
		out.ReplyMarkup = InlineKeyboard(msg.Keyboard)
	}

	if _, err := s.bot.Send(out); err != nil {
		return fmt.Errorf("telegram send to %d: %w", userID, err)
	}
	return nil
}

// InlineKeyboard converts kb to Telegram's inline keyboard markup.
func InlineKeyboard(kb Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
