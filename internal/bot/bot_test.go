package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/storage/memory"
)

const addr = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
}

func (a *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		err := a.sendErr
		a.sendErr = nil
		return tgbotapi.Message{}, err
	}
	a.sent = append(a.sent, c)
	return tgbotapi.Message{}, nil
}

func (a *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (a *fakeAPI) messages() []tgbotapi.MessageConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range a.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (a *fakeAPI) edits() []tgbotapi.EditMessageTextConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []tgbotapi.EditMessageTextConfig
	for _, c := range a.sent {
		if m, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (a *fakeAPI) answers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, c := range a.requests {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb.Text)
		}
	}
	return out
}

func (a *fakeAPI) lastText(t *testing.T) string {
	t.Helper()
	msgs := a.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1].Text
}

type fakeAnalyzer struct {
	snap  domain.WalletSnapshot
	calls int
}

func (f *fakeAnalyzer) GetWalletSnapshot(context.Context, string) domain.WalletSnapshot {
	f.calls++
	return f.snap
}

type fakeTracker struct {
	active   map[int64]string
	startErr error
	stops    int
}

func (f *fakeTracker) Start(_ context.Context, userID int64, target string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.active[userID] = target
	return nil
}

func (f *fakeTracker) Stop(_ context.Context, userID int64) error {
	f.stops++
	delete(f.active, userID)
	return nil
}

func (f *fakeTracker) Active(userID int64) (string, bool) {
	t, ok := f.active[userID]
	return t, ok
}

type fixture struct {
	bot        *Bot
	api        *fakeAPI
	analyzer   *fakeAnalyzer
	tracker    *fakeTracker
	users      *memory.Store
	deliveries *memory.DeliveryLogStore
}

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		api: &fakeAPI{},
		analyzer: &fakeAnalyzer{snap: domain.WalletSnapshot{
			SolBalance:    "1.5000",
			Tokens:        domain.TokenCounts{Total: 3, NFTs: 1, Fungible: 2},
			StakeAccounts: 2,
			RecentTransactions: []domain.TransactionSummary{
				{Signature: "5VERYLONGSIGNATURE", BlockTime: fixedNow.Unix(), Status: "confirmed"},
			},
			OnCurve: true,
		}},
		tracker:    &fakeTracker{active: map[int64]string{}},
		users:      memory.NewStore(),
		deliveries: memory.NewDeliveryLogStore(),
	}
	f.bot = New(Options{
		API:        f.api,
		Analyzer:   f.analyzer,
		Tracker:    f.tracker,
		Users:      f.users,
		Deliveries: f.deliveries,
		Network:    "devnet",
		Now:        func() time.Time { return fixedNow },
	})
	return f
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, FirstName: "Ada"},
		Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{UpdateID: 2, CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{
			MessageID: 77,
			Chat:      &tgbotapi.Chat{ID: userID},
		},
		Data: data,
	}}
}

func TestStartCommandCreatesUser(t *testing.T) {
	f := newFixture()
	f.bot.HandleUpdate(context.Background(), textUpdate(10, "/start"))

	assert.Contains(t, f.api.lastText(t), "Welcome Ada!")
	_, err := f.users.GetUser(context.Background(), 10)
	assert.NoError(t, err)
}

func TestHelpAndAbout(t *testing.T) {
	f := newFixture()
	f.bot.HandleUpdate(context.Background(), textUpdate(10, "/help"))
	f.bot.HandleUpdate(context.Background(), textUpdate(10, "/about"))

	msgs := f.api.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msgs[0].ParseMode)
	assert.Contains(t, msgs[0].Text, "*🤖 Bot Commands*")
	assert.Contains(t, msgs[0].Text, `/track \- Track a wallet live`)
	assert.Contains(t, msgs[1].Text, "Network: Solana devnet")
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture()
	f.bot.HandleUpdate(context.Background(), textUpdate(10, "/bogus"))
	assert.Equal(t, msgUnknownCommand, f.api.lastText(t))
}

func TestAddressMessageRepliesWithAnalysis(t *testing.T) {
	f := newFixture()
	f.bot.HandleUpdate(context.Background(), textUpdate(10, "  "+addr+"  "))

	msgs := f.api.messages()
	require.Len(t, msgs, 1)
	text := msgs[0].Text
	assert.Contains(t, text, "🔍 *Wallet Analysis* 🔍")
	assert.Contains(t, text, "`"+addr+"`")
	assert.Contains(t, text, `*◎ SOL Balance* \: 1\.5000`)
	assert.Contains(t, text, `├─ Fungible \: 2`)
	assert.Contains(t, text, `└─ NFTs \: 1`)
	assert.Contains(t, text, `*🔒 Staked Accounts* \: 2`)
	assert.Contains(t, text, `1 TXs \(Last 5\)`)

	markup, ok := msgs[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 3)
	assert.Equal(t, "tokens_"+addr, *markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, cbTrackInit, *markup.InlineKeyboard[2][1].CallbackData)

	// typing indicator
	assert.NotEmpty(t, f.api.requests)
}

func TestInvalidAddressMessage(t *testing.T) {
	f := newFixture()
	f.bot.HandleUpdate(context.Background(), textUpdate(10, "hello there"))

	assert.Equal(t, msgInvalidAddress, f.api.lastText(t))
	assert.Zero(t, f.analyzer.calls)
}

func TestAnalysisSendFailureFallsBack(t *testing.T) {
	f := newFixture()
	f.api.sendErr = errors.New("can't parse entities")

	f.bot.HandleUpdate(context.Background(), textUpdate(10, addr))
	assert.Equal(t, msgUnavailable, f.api.lastText(t))
}

func TestTrackFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, textUpdate(10, "/track"))
	assert.Equal(t, msgAskTarget, f.api.lastText(t))
	u, err := f.users.GetUser(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingTargetAddress, u.State)

	// Invalid address while awaiting keeps the state.
	f.bot.HandleUpdate(ctx, textUpdate(10, "nope"))
	assert.Equal(t, msgInvalidAddress, f.api.lastText(t))

	f.bot.HandleUpdate(ctx, textUpdate(10, addr))
	msgs := f.api.messages()
	confirm := msgs[len(msgs)-1]
	assert.Contains(t, confirm.Text, "Track this wallet?")
	markup := confirm.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.Equal(t, cbTrackConfirm+addr, *markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, cbTrackCancel, *markup.InlineKeyboard[0][1].CallbackData)
	assert.Zero(t, f.analyzer.calls, "awaiting state must not trigger analysis")

	f.bot.HandleUpdate(ctx, callbackUpdate(10, cbTrackConfirm+addr))
	assert.Equal(t, addr, f.tracker.active[10])

	edits := f.api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, 77, edits[0].MessageID)
	assert.Contains(t, edits[0].Text, "Live tracking started")
}

func TestTrackCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, callbackUpdate(10, cbTrackInit))
	u, err := f.users.GetUser(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingTargetAddress, u.State)

	f.bot.HandleUpdate(ctx, callbackUpdate(10, cbTrackCancel))
	u, err = f.users.GetUser(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StateNone, u.State)
	assert.Empty(t, f.tracker.active)

	edits := f.api.edits()
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Text, "Tracking cancelled")
}

func TestTrackConfirmFailure(t *testing.T) {
	f := newFixture()
	f.tracker.startErr = errors.New("node down")

	f.bot.HandleUpdate(context.Background(), callbackUpdate(10, cbTrackConfirm+addr))
	assert.Contains(t, f.api.answers(), msgCallbackError)
	assert.Empty(t, f.api.edits())
}

func TestStopTrackCallback(t *testing.T) {
	f := newFixture()
	f.tracker.active[10] = addr

	f.bot.HandleUpdate(context.Background(), callbackUpdate(10, "stop_track_"+addr))
	assert.Empty(t, f.tracker.active)
	assert.Contains(t, f.api.lastText(t), "Tracking stopped")
}

func TestStopTrackCallback_StaleButton(t *testing.T) {
	f := newFixture()
	other := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	f.tracker.active[10] = other

	// The button belongs to a notification for the previous target.
	f.bot.HandleUpdate(context.Background(), callbackUpdate(10, "stop_track_"+addr))

	assert.Equal(t, other, f.tracker.active[10])
	assert.Zero(t, f.tracker.stops)
	assert.Contains(t, f.api.answers(), msgNotTrackingWallet)
	assert.Empty(t, f.api.messages())
}

func TestStopTrackCallback_NothingTracked(t *testing.T) {
	f := newFixture()

	f.bot.HandleUpdate(context.Background(), callbackUpdate(10, "stop_track_"+addr))

	assert.Zero(t, f.tracker.stops)
	assert.Contains(t, f.api.answers(), msgNotTrackingWallet)
}

func TestStopCommand(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, textUpdate(10, "/stop"))
	assert.Equal(t, msgNotTracking, f.api.lastText(t))

	f.tracker.active[10] = addr
	f.bot.HandleUpdate(ctx, textUpdate(10, "/stop"))
	assert.Contains(t, f.api.lastText(t), addr)
	assert.Equal(t, 2, f.tracker.stops)
}

func TestSectionCallbacks(t *testing.T) {
	tests := []struct {
		action string
		want   string
	}{
		{"tokens", `🪙 Fungible \: 2`},
		{"nfts", `Total Items \: 1`},
		{"txs", `1\. ⌛ 3/4/2025 \- 5VERYLON\.\.\.`},
		{"value", "under active development"},
		{"refresh", `Updated at \: Tue, 04 Mar 2025 05:06:07 GMT`},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			f := newFixture()
			f.bot.HandleUpdate(context.Background(), callbackUpdate(10, tt.action+"_"+addr))

			edits := f.api.edits()
			require.Len(t, edits, 1)
			assert.Contains(t, edits[0].Text, tt.want)
			assert.Equal(t, tgbotapi.ModeMarkdownV2, edits[0].ParseMode)
			require.NotNil(t, edits[0].ReplyMarkup)
			assert.Len(t, edits[0].ReplyMarkup.InlineKeyboard, 3)
		})
	}
}

func TestSectionCallbackInvalidAddress(t *testing.T) {
	f := newFixture()
	f.bot.HandleUpdate(context.Background(), callbackUpdate(10, "tokens_0OIl"))

	assert.Equal(t, []string{msgInvalidCallback}, f.api.answers())
	assert.Empty(t, f.api.edits())
	assert.Zero(t, f.analyzer.calls)
}

func TestAlerts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, textUpdate(10, "/alerts"))
	assert.Equal(t, msgNoAlerts, f.api.lastText(t))

	require.NoError(t, f.deliveries.Insert(ctx, &domain.Delivery{
		DeliveryID: "d1", UserID: 10, Target: addr, Signature: "SigA", DeliveredAt: fixedNow.UnixMilli(),
	}))
	f.bot.HandleUpdate(ctx, textUpdate(10, "/alerts"))
	assert.Contains(t, f.api.lastText(t), "`SigA`")
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	f := newFixture()
	updates := make(chan tgbotapi.Update, 2)
	updates <- textUpdate(10, "/help")
	updates <- textUpdate(11, "/about")
	close(updates)

	done := make(chan struct{})
	go func() {
		f.bot.Run(context.Background(), updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Len(t, f.api.messages(), 2)
}
