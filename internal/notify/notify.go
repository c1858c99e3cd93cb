// Package notify delivers tracking notifications to users.
package notify

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Button is one inline keyboard button carrying callback data.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Keyboard is a grid of buttons, one slice per row.
type Keyboard [][]Button

// Message is a formatted notification.
type Message struct {
	Text      string // MarkdownV2
	Keyboard  Keyboard
	Target    string // tracked address the event belongs to
	Signature string
}

// Sink delivers messages to a user.
type Sink interface {
	Deliver(ctx context.Context, userID int64, msg Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, userID int64, msg Message) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, userID int64, msg Message) error {
	return f(ctx, userID, msg)
}

// MultiSink delivers to Primary and then to every mirror. Only the primary
// outcome is returned; mirror failures are logged.
type MultiSink struct {
	Primary Sink
	Mirrors []Sink
	Logger  zerolog.Logger
}

// Deliver implements Sink.
func (m *MultiSink) Deliver(ctx context.Context, userID int64, msg Message) error {
	if err := m.Primary.Deliver(ctx, userID, msg); err != nil {
		return err
	}
	for _, mirror := range m.Mirrors {
		if err := mirror.Deliver(ctx, userID, msg); err != nil {
			m.Logger.Warn().Err(err).
				Int64("user_id", userID).
				Str("signature", msg.Signature).
				Msg("mirror delivery failed")
		}
	}
	return nil
}

var markdownReplacer = func() *strings.Replacer {
	const special = "_*[]()~`>#+-|={}.!"
	pairs := make([]string, 0, len(special)*2)
	for _, r := range special {
		pairs = append(pairs, string(r), `\`+string(r))
	}
	return strings.NewReplacer(pairs...)
}()

// EscapeMarkdown escapes text for Telegram MarkdownV2.
func EscapeMarkdown(text string) string {
	return markdownReplacer.Replace(text)
}
