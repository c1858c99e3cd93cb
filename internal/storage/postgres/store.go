package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/observability"
	"solana-wallet-tracker/internal/storage"
)

// Store implements storage.Store using PostgreSQL.
// Uses two tables:
//   - bot_users: one row per chat user
//   - seen_transactions: set of processed signatures
type Store struct {
	pool *Pool
}

// NewStore creates a new Store over an open pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

func observe(op string, start time.Time, err error) {
	observability.RecordDBQuery("postgres", op, time.Since(start).Seconds(), err)
}

const userColumns = `id, state, state_timestamp, subscription_id, copy_target, status, created_at`

// GetUser retrieves a user by chat id. Returns ErrNotFound if not exists.
func (s *Store) GetUser(ctx context.Context, userID int64) (u *domain.User, err error) {
	if !storage.ValidUserID(userID) {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("get_user", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM bot_users WHERE id = $1`, userID)
	u, err = scanUser(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UpdateUser locks the user row for the duration of fn. The row is created
// first when absent so concurrent creators also serialize on the lock.
func (s *Store) UpdateUser(ctx context.Context, userID int64, fn storage.UserMutator) (u *domain.User, err error) {
	if !storage.ValidUserID(userID) || fn == nil {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("update_user", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO bot_users (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, userID); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM bot_users WHERE id = $1 FOR UPDATE`, userID)
	u, err = scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}

	if err := fn(u); err != nil {
		return nil, err
	}
	u.ID = userID

	var subID *int64
	if u.SubscriptionID != nil {
		v := int64(*u.SubscriptionID)
		subID = &v
	}

	if _, err := tx.Exec(ctx, `
		UPDATE bot_users
		SET state = $2, state_timestamp = $3, subscription_id = $4,
		    copy_target = $5, status = $6, updated_at = NOW()
		WHERE id = $1
	`, userID, string(u.State), u.StateTimestamp, subID, u.CopyTarget, string(u.Status)); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return u.Clone(), nil
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(ctx context.Context, userID int64) (err error) {
	if !storage.ValidUserID(userID) {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("delete_user", start, err) }(time.Now())

	if _, err = s.pool.Exec(ctx, `DELETE FROM bot_users WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ListTrackingUsers returns users with an active tracked address, ordered by id.
func (s *Store) ListTrackingUsers(ctx context.Context) (users []*domain.User, err error) {
	defer func(start time.Time) { observe("list_tracking_users", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM bot_users
		WHERE status = $1 AND copy_target <> ''
		ORDER BY id ASC
	`, string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list tracking users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// IsTransactionSeen checks if a signature has been processed.
func (s *Store) IsTransactionSeen(ctx context.Context, signature string) (exists bool, err error) {
	if signature == "" {
		return false, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("is_transaction_seen", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM seen_transactions WHERE signature = $1)
	`, signature)

	if err = row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check seen transaction: %w", err)
	}
	return exists, nil
}

// MarkTransactionSeen records that a signature has been processed.
func (s *Store) MarkTransactionSeen(ctx context.Context, signature string) (err error) {
	if signature == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("mark_transaction_seen", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO seen_transactions (signature, seen_at)
		VALUES ($1, NOW())
		ON CONFLICT (signature) DO NOTHING
	`, signature)
	if err != nil {
		return fmt.Errorf("mark transaction seen: %w", err)
	}
	return nil
}

// LoadSeenTransactions returns up to limit signatures, most recent first.
func (s *Store) LoadSeenTransactions(ctx context.Context, limit int) (sigs []string, err error) {
	defer func(start time.Time) { observe("load_seen_transactions", start, err) }(time.Now())

	query := `SELECT signature FROM seen_transactions ORDER BY seen_at DESC, signature ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load seen transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

// Close closes the pool.
func (s *Store) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u         domain.User
		state     string
		status    string
		subID     *int64
		stateTime *time.Time
	)
	if err := row.Scan(&u.ID, &state, &stateTime, &subID, &u.CopyTarget, &status, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.State = domain.UserState(state)
	u.Status = domain.UserStatus(status)
	if stateTime != nil {
		ts := stateTime.UTC()
		u.StateTimestamp = &ts
	}
	if subID != nil {
		v := uint64(*subID)
		u.SubscriptionID = &v
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}
