// Package bot dispatches Telegram updates: commands, address messages and
// inline keyboard callbacks.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/notify"
	"solana-wallet-tracker/internal/observability"
	"solana-wallet-tracker/internal/storage"
)

// Analyzer produces wallet snapshots.
type Analyzer interface {
	GetWalletSnapshot(ctx context.Context, addr string) domain.WalletSnapshot
}

// Tracker starts and stops live tracking.
type Tracker interface {
	Start(ctx context.Context, userID int64, target string) error
	Stop(ctx context.Context, userID int64) error
	Active(userID int64) (string, bool)
}

// Options contains configuration for creating a Bot.
type Options struct {
	API      notify.BotAPI
	Analyzer Analyzer
	Tracker  Tracker
	Users    storage.UserStore

	// Deliveries backs /alerts. Optional.
	Deliveries storage.DeliveryLogStore

	// Network is shown by /about.
	Network string
	// UpdateTimeout bounds the handling of one update. Defaults to 60s.
	UpdateTimeout time.Duration

	Logger zerolog.Logger
	Now    func() time.Time
}

// Bot handles Telegram updates.
type Bot struct {
	api        notify.BotAPI
	analyzer   Analyzer
	tracker    Tracker
	users      storage.UserStore
	deliveries storage.DeliveryLogStore
	network    string
	timeout    time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

// New creates a Bot.
func New(opts Options) *Bot {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.UpdateTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	network := opts.Network
	if network == "" {
		network = "devnet"
	}
	return &Bot{
		api:        opts.API,
		analyzer:   opts.Analyzer,
		tracker:    opts.Tracker,
		users:      opts.Users,
		deliveries: opts.Deliveries,
		network:    network,
		timeout:    timeout,
		logger:     opts.Logger.With().Str("component", "bot").Logger(),
		now:        now,
	}
}

// Run handles updates until ctx is done or updates is closed, then waits
// for in-flight handlers. Each update runs in its own goroutine so a slow
// analysis does not hold up other chats.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, u)
			}()
		}
	}
}

// Wait blocks until every update started by Run or Dispatch has been handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// Dispatch handles u asynchronously. Used by the webhook, which must answer
// Telegram before the update is processed.
func (b *Bot) Dispatch(ctx context.Context, u tgbotapi.Update) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.HandleUpdate(ctx, u)
	}()
}

// HandleUpdate routes one update. Panics are recovered and logged.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Int("update_id", u.UpdateID).Msg("update handler panicked")
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		observability.RecordUpdate("callback")
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.IsCommand():
		observability.RecordUpdate("command")
		b.handleCommand(ctx, u.Message)
	case u.Message != nil && u.Message.Text != "":
		observability.RecordUpdate("text")
		b.handleText(ctx, u.Message)
	default:
		observability.RecordUpdate("ignored")
	}
}

func (b *Bot) handleCommand(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	userID := senderID(m)

	switch m.Command() {
	case "start":
		b.touchUser(ctx, userID)
		name := ""
		if m.From != nil {
			name = m.From.FirstName
		}
		b.sendText(chatID, welcomeText(name))
	case "help":
		b.sendMarkdown(chatID, helpText(), nil)
	case "about":
		b.sendMarkdown(chatID, aboutText(b.network), nil)
	case "track":
		b.askTarget(ctx, chatID, userID)
	case "stop":
		b.stopTracking(ctx, chatID, userID)
	case "alerts":
		b.showAlerts(ctx, chatID, userID)
	default:
		b.sendText(chatID, msgUnknownCommand)
	}
}

func (b *Bot) handleText(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	userID := senderID(m)
	input := strings.TrimSpace(m.Text)

	if b.awaitingTarget(ctx, userID) {
		if !isAddress(input) {
			b.sendText(chatID, msgInvalidAddress)
			return
		}
		b.sendMarkdown(chatID, confirmTrackText(input), confirmKeyboard(input))
		return
	}

	if !isAddress(input) {
		b.sendText(chatID, msgInvalidAddress)
		return
	}
	b.analyze(ctx, chatID, input)
}

// analyze replies with the wallet analysis. It always answers.
func (b *Bot) analyze(ctx context.Context, chatID int64, addr string) {
	b.typing(chatID)

	snap := b.analyzer.GetWalletSnapshot(ctx, addr)
	if err := ctx.Err(); err != nil {
		b.logger.Warn().Err(err).Str("address", addr).Msg("analysis timed out")
		b.sendText(chatID, msgUnavailable)
		return
	}

	if err := b.sendMarkdown(chatID, analysisText(addr, snap, nil), walletKeyboard(addr)); err != nil {
		b.sendText(chatID, msgUnavailable)
	}
}

func (b *Bot) askTarget(ctx context.Context, chatID, userID int64) {
	if _, err := b.users.UpdateUser(ctx, userID, func(u *domain.User) error {
		u.SetState(domain.StateAwaitingTargetAddress, b.now())
		return nil
	}); err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("set awaiting state")
		b.sendText(chatID, msgUnavailable)
		return
	}
	b.sendText(chatID, msgAskTarget)
}

// trackedTarget returns the user's tracked address, falling back to the
// stored record when the subscription is not live in this process.
func (b *Bot) trackedTarget(ctx context.Context, userID int64) (string, bool) {
	if target, ok := b.tracker.Active(userID); ok {
		return target, true
	}
	if u, err := b.users.GetUser(ctx, userID); err == nil && u.IsTracking() {
		return u.CopyTarget, true
	}
	return "", false
}

func (b *Bot) stopTracking(ctx context.Context, chatID, userID int64) {
	target, active := b.trackedTarget(ctx, userID)

	if err := b.tracker.Stop(ctx, userID); err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("stop tracking")
		b.sendText(chatID, msgUnavailable)
		return
	}

	if !active {
		b.sendText(chatID, msgNotTracking)
		return
	}
	b.sendMarkdown(chatID, trackingStoppedText(target), nil)
}

func (b *Bot) showAlerts(ctx context.Context, chatID, userID int64) {
	if b.deliveries == nil {
		b.sendText(chatID, msgNoAlerts)
		return
	}

	recent, err := b.deliveries.GetByUser(ctx, userID, 5)
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("load delivery history")
		b.sendText(chatID, msgUnavailable)
		return
	}
	if len(recent) == 0 {
		b.sendText(chatID, msgNoAlerts)
		return
	}
	b.sendMarkdown(chatID, alertsText(recent), nil)
}

// touchUser makes sure a record exists for userID.
func (b *Bot) touchUser(ctx context.Context, userID int64) {
	if _, err := b.users.UpdateUser(ctx, userID, func(*domain.User) error { return nil }); err != nil {
		b.logger.Warn().Err(err).Int64("user_id", userID).Msg("create user record")
	}
}

func (b *Bot) awaitingTarget(ctx context.Context, userID int64) bool {
	u, err := b.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrInvalidInput) {
			b.logger.Warn().Err(err).Int64("user_id", userID).Msg("load user state")
		}
		return false
	}
	return u.State == domain.StateAwaitingTargetAddress
}

func (b *Bot) clearState(ctx context.Context, userID int64) {
	if _, err := b.users.UpdateUser(ctx, userID, func(u *domain.User) error {
		u.SetState(domain.StateNone, b.now())
		return nil
	}); err != nil {
		b.logger.Warn().Err(err).Int64("user_id", userID).Msg("clear user state")
	}
}

func (b *Bot) sendText(chatID int64, text string) error {
	return b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendMarkdown(chatID int64, text string, kb notify.Keyboard) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true
	if len(kb) > 0 {
		msg.ReplyMarkup = notify.InlineKeyboard(kb)
	}
	return b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) error {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Error().Err(err).Msg("telegram send failed")
		return err
	}
	return nil
}

func (b *Bot) typing(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug().Err(err).Msg("chat action failed")
	}
}

func senderID(m *tgbotapi.Message) int64 {
	if m.From != nil {
		return m.From.ID
	}
	return m.Chat.ID
}
