// Package tracking owns live address tracking: one log subscription per user,
// each event deduplicated, resolved and pushed to the user.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"solana-wallet-tracker/internal/address"
	"solana-wallet-tracker/internal/dedup"
	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/ledger"
	"solana-wallet-tracker/internal/notify"
	"solana-wallet-tracker/internal/observability"
	"solana-wallet-tracker/internal/solana"
	"solana-wallet-tracker/internal/storage"
)

const sinkName = "notify"

var (
	// ErrInvalidAddress is returned by Start for a malformed target address.
	ErrInvalidAddress = errors.New("invalid target address")
	// ErrInvalidUser is returned for a zero user id.
	ErrInvalidUser = errors.New("invalid user id")
)

// Ledger is the part of ledger.Client the manager needs.
type Ledger interface {
	SubscribeToLogs(ctx context.Context, addr, commitment string, handler ledger.Handler) (ledger.SubscriptionID, error)
	Unsubscribe(ctx context.Context, id ledger.SubscriptionID) error
	GetTransactionDetail(ctx context.Context, signature string) *solana.Transaction
}

// Dedup is the part of dedup.Filter the manager needs.
type Dedup interface {
	ShouldProcess(ctx context.Context, signature string) (bool, error)
	MarkSeen(ctx context.Context, signature string) error
	Release(signature string)
}

var (
	_ Ledger = (*ledger.Client)(nil)
	_ Dedup  = (*dedup.Filter)(nil)
)

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	Ledger Ledger
	Dedup  Dedup
	Users  storage.UserStore
	Sink   notify.Sink

	// Deliveries records delivered notifications. Optional.
	Deliveries storage.DeliveryLogStore

	Logger zerolog.Logger
	Now    func() time.Time
}

type tracked struct {
	id     ledger.SubscriptionID
	target string
}

// Manager runs at most one live subscription per user.
type Manager struct {
	ledger     Ledger
	dedup      Dedup
	users      storage.UserStore
	sink       notify.Sink
	deliveries storage.DeliveryLogStore
	logger     zerolog.Logger
	now        func() time.Time

	locks sync.Map // user id -> *sync.Mutex, serializes Start/Stop per user

	mu     sync.Mutex
	active map[int64]tracked
}

// NewManager creates a new tracking manager.
func NewManager(opts ManagerOptions) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		ledger:     opts.Ledger,
		dedup:      opts.Dedup,
		users:      opts.Users,
		sink:       opts.Sink,
		deliveries: opts.Deliveries,
		logger:     opts.Logger.With().Str("component", "tracking").Logger(),
		now:        now,
		active:     make(map[int64]tracked),
	}
}

func (m *Manager) lockUser(userID int64) func() {
	v, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Start begins tracking target for userID. A subscription the user already
// has is closed first. The user record is updated with the new subscription;
// if that write fails the subscription is closed again and the error returned.
func (m *Manager) Start(ctx context.Context, userID int64, target string) error {
	if !storage.ValidUserID(userID) {
		return ErrInvalidUser
	}
	if !address.IsValid(target) {
		return ErrInvalidAddress
	}

	unlock := m.lockUser(userID)
	defer unlock()

	if prev, ok := m.take(userID); ok {
		if err := m.ledger.Unsubscribe(ctx, prev.id); err != nil {
			m.logger.Warn().Err(err).Int64("user_id", userID).Str("target", prev.target).
				Msg("closing replaced subscription failed")
		}
	}

	id, err := m.ledger.SubscribeToLogs(ctx, target, solana.CommitmentConfirmed, m.handler(userID, target))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", target, err)
	}

	_, err = m.users.UpdateUser(ctx, userID, func(u *domain.User) error {
		sid := uint64(id)
		u.SubscriptionID = &sid
		u.CopyTarget = target
		u.Status = domain.StatusActive
		u.SetState(domain.StateNone, m.now())
		return nil
	})
	if err != nil {
		if uerr := m.ledger.Unsubscribe(ctx, id); uerr != nil {
			m.logger.Warn().Err(uerr).Int64("user_id", userID).Msg("rollback unsubscribe failed")
		}
		return fmt.Errorf("persist tracking for user %d: %w", userID, err)
	}

	m.mu.Lock()
	m.active[userID] = tracked{id: id, target: target}
	m.mu.Unlock()

	m.logger.Info().Int64("user_id", userID).Str("target", target).Uint64("subscription", uint64(id)).
		Msg("tracking started")
	return nil
}

// Stop ends tracking for userID. Stopping a user that is not tracking is a no-op.
func (m *Manager) Stop(ctx context.Context, userID int64) error {
	if !storage.ValidUserID(userID) {
		return ErrInvalidUser
	}

	unlock := m.lockUser(userID)
	defer unlock()

	prev, live := m.take(userID)
	if live {
		if err := m.ledger.Unsubscribe(ctx, prev.id); err != nil {
			m.logger.Warn().Err(err).Int64("user_id", userID).Str("target", prev.target).
				Msg("unsubscribe failed")
		}
	}

	var cleared bool
	_, err := m.users.UpdateUser(ctx, userID, func(u *domain.User) error {
		if !u.IsTracking() && u.SubscriptionID == nil {
			return errNothingToClear
		}
		u.ClearTracking()
		cleared = true
		return nil
	})
	if err != nil && !errors.Is(err, errNothingToClear) {
		return fmt.Errorf("clear tracking for user %d: %w", userID, err)
	}

	if live || cleared {
		m.logger.Info().Int64("user_id", userID).Str("target", prev.target).Msg("tracking stopped")
	}
	return nil
}

var errNothingToClear = errors.New("nothing to clear")

// Restore restarts tracking for every persisted tracking user. Subscription
// handles do not survive a restart, so each user gets a fresh one. Returns the
// number restored; per-user failures are logged and joined into the error.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	users, err := m.users.ListTrackingUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tracking users: %w", err)
	}

	var (
		restored int
		errs     []error
	)
	for _, u := range users {
		if err := m.Start(ctx, u.ID, u.CopyTarget); err != nil {
			m.logger.Error().Err(err).Int64("user_id", u.ID).Str("target", u.CopyTarget).Msg("restore failed")
			errs = append(errs, err)
			continue
		}
		restored++
	}

	m.logger.Info().Int("restored", restored).Int("failed", len(errs)).Msg("tracking restored")
	return restored, errors.Join(errs...)
}

// Active returns the address userID is tracking in this process.
func (m *Manager) Active(userID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[userID]
	return t.target, ok
}

// Close stops every live subscription. Persisted tracking state is kept so
// Restore can resume it.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	live := m.active
	m.active = make(map[int64]tracked)
	m.mu.Unlock()

	var errs []error
	for userID, t := range live {
		if err := m.ledger.Unsubscribe(ctx, t.id); err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) take(userID int64) (tracked, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[userID]
	if ok {
		delete(m.active, userID)
	}
	return t, ok
}

func (m *Manager) handler(userID int64, target string) ledger.Handler {
	return func(ctx context.Context, ev ledger.LogEvent) {
		m.handleEvent(ctx, userID, target, ev)
	}
}

// handleEvent runs one log event through dedup, detail lookup and delivery.
func (m *Manager) handleEvent(ctx context.Context, userID int64, target string, ev ledger.LogEvent) {
	started := m.now()
	log := m.logger.With().Int64("user_id", userID).Str("target", target).Str("signature", ev.Signature).Logger()

	ok, err := m.dedup.ShouldProcess(ctx, ev.Signature)
	if err != nil {
		log.Error().Err(err).Msg("dedup check failed")
		return
	}
	if !ok {
		log.Debug().Msg("signature already processed")
		return
	}

	tx := m.ledger.GetTransactionDetail(ctx, ev.Signature)
	if tx == nil {
		// Not seen yet: a redelivery may succeed.
		m.dedup.Release(ev.Signature)
		return
	}
	if tx.Failed() {
		observability.RecordFailedTxSuppressed()
		if err := m.dedup.MarkSeen(ctx, ev.Signature); err != nil {
			log.Error().Err(err).Msg("persist failed transaction as seen")
		}
		return
	}

	msg := NotificationMessage(target, ev.Signature)
	err = m.sink.Deliver(ctx, userID, msg)
	observability.RecordNotification(sinkName, err)
	if err != nil {
		log.Error().Err(err).Msg("notification delivery failed")
		m.dedup.Release(ev.Signature)
		return
	}

	if err := m.dedup.MarkSeen(ctx, ev.Signature); err != nil {
		log.Error().Err(err).Msg("persist seen signature")
	}

	m.recordDelivery(ctx, userID, target, ev, tx)
	observability.RecordEventLatency(m.now().Sub(started).Seconds())
}

func (m *Manager) recordDelivery(ctx context.Context, userID int64, target string, ev ledger.LogEvent, tx *solana.Transaction) {
	if m.deliveries == nil {
		return
	}
	slot := tx.Slot
	if slot == 0 {
		slot = ev.Slot
	}
	d := &domain.Delivery{
		DeliveryID:  uuid.NewString(),
		UserID:      userID,
		Target:      target,
		Signature:   ev.Signature,
		Slot:        slot,
		DeliveredAt: m.now().UnixMilli(),
	}
	if err := m.deliveries.Insert(ctx, d); err != nil {
		m.logger.Warn().Err(err).Int64("user_id", userID).Str("signature", ev.Signature).Msg("record delivery failed")
	}
}

// NotificationMessage builds the message sent for a new transaction on target.
func NotificationMessage(target, signature string) notify.Message {
	return notify.Message{
		Text:      notify.EscapeMarkdown("📢 New transaction detected!") + "\n`" + notify.EscapeMarkdown(signature) + "`",
		Keyboard:  notify.Keyboard{{StopButton(target)}},
		Target:    target,
		Signature: signature,
	}
}

// StopButton is the button that stops tracking target.
func StopButton(target string) notify.Button {
	return notify.Button{Text: "🛑 Stop Tracking", Data: StopTrackPrefix + target}
}

// StopTrackPrefix prefixes the callback data of the stop button.
const StopTrackPrefix = "stop_track_"
