package bot

import (
	"context"
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"solana-wallet-tracker/internal/address"
	"solana-wallet-tracker/internal/notify"
	"solana-wallet-tracker/internal/tracking"
)

var sectionCallback = regexp.MustCompile(`^(tokens|nfts|txs|value|refresh)_(.+)$`)

func isAddress(s string) bool {
	return address.IsValid(s)
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	data := q.Data
	switch {
	case data == cbTrackInit:
		b.answer(q, "")
		b.askTarget(ctx, callbackChatID(q), q.From.ID)
	case data == cbTrackCancel:
		b.answer(q, "")
		b.clearState(ctx, q.From.ID)
		b.editMarkdown(q, notify.EscapeMarkdown(msgTrackCancelled), nil)
	case strings.HasPrefix(data, cbTrackConfirm):
		b.confirmTrack(ctx, q, strings.TrimPrefix(data, cbTrackConfirm))
	case strings.HasPrefix(data, tracking.StopTrackPrefix):
		b.stopTrack(ctx, q, strings.TrimPrefix(data, tracking.StopTrackPrefix))
	default:
		if m := sectionCallback.FindStringSubmatch(data); m != nil {
			b.showSection(ctx, q, m[1], m[2])
			return
		}
		b.answer(q, msgUnknownAction)
	}
}

// showSection edits the analysis message to show one section of the wallet.
func (b *Bot) showSection(ctx context.Context, q *tgbotapi.CallbackQuery, action, addr string) {
	if !isAddress(addr) {
		b.answer(q, msgInvalidCallback)
		return
	}
	b.answer(q, "")
	chatID := callbackChatID(q)
	b.typing(chatID)

	var text string
	if action == "value" {
		text = valueText()
	} else {
		snap := b.analyzer.GetWalletSnapshot(ctx, addr)
		switch action {
		case "tokens":
			text = tokensText(snap)
		case "nfts":
			text = nftsText(snap)
		case "txs":
			text = txsText(snap)
		case "refresh":
			now := b.now()
			text = analysisText(addr, snap, &now)
		}
	}

	if err := b.editMarkdown(q, text, walletKeyboard(addr)); err != nil {
		b.sendText(chatID, msgCallbackError)
	}
}

func (b *Bot) confirmTrack(ctx context.Context, q *tgbotapi.CallbackQuery, addr string) {
	if !isAddress(addr) {
		b.answer(q, msgInvalidCallback)
		return
	}

	if err := b.tracker.Start(ctx, q.From.ID, addr); err != nil {
		b.logger.Error().Err(err).Int64("user_id", q.From.ID).Str("target", addr).Msg("start tracking")
		b.answer(q, msgCallbackError)
		return
	}

	b.answer(q, "")
	b.editMarkdown(q, trackingStartedText(addr), stopKeyboard(addr))
}

func (b *Bot) stopTrack(ctx context.Context, q *tgbotapi.CallbackQuery, addr string) {
	if !isAddress(addr) {
		b.answer(q, msgInvalidCallback)
		return
	}

	// Buttons on older notifications must not stop a newer target.
	if target, ok := b.trackedTarget(ctx, q.From.ID); !ok || target != addr {
		b.answer(q, msgNotTrackingWallet)
		return
	}

	if err := b.tracker.Stop(ctx, q.From.ID); err != nil {
		b.logger.Error().Err(err).Int64("user_id", q.From.ID).Msg("stop tracking")
		b.answer(q, msgCallbackError)
		return
	}

	b.answer(q, "")
	b.sendMarkdown(callbackChatID(q), trackingStoppedText(addr), nil)
}

func (b *Bot) answer(q *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, text)); err != nil {
		b.logger.Debug().Err(err).Str("callback", q.Data).Msg("answer callback failed")
	}
}

// editMarkdown replaces the text of the message the callback came from.
func (b *Bot) editMarkdown(q *tgbotapi.CallbackQuery, text string, kb notify.Keyboard) error {
	if q.Message == nil {
		return b.sendMarkdown(callbackChatID(q), text, kb)
	}

	var edit tgbotapi.EditMessageTextConfig
	if len(kb) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(q.Message.Chat.ID, q.Message.MessageID, text, notify.InlineKeyboard(kb))
	} else {
		edit = tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, text)
	}
	edit.ParseMode = tgbotapi.ModeMarkdownV2
	edit.DisableWebPagePreview = true

	if _, err := b.api.Send(edit); err != nil {
		// Refreshing unchanged data is not a failure.
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		b.logger.Error().Err(err).Msg("edit message failed")
		return err
	}
	return nil
}

func callbackChatID(q *tgbotapi.CallbackQuery) int64 {
	if q.Message != nil && q.Message.Chat != nil {
		return q.Message.Chat.ID
	}
	return q.From.ID
}
