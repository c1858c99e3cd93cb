package storage

import (
	"context"

	"solana-wallet-tracker/internal/domain"
)

// UserMutator edits a user record in place during UpdateUser.
// Returning an error aborts the update and leaves the stored record unchanged.
type UserMutator func(u *domain.User) error

// UserStore provides access to the users collection.
type UserStore interface {
	// GetUser retrieves a user by chat id. Returns ErrNotFound if not exists.
	GetUser(ctx context.Context, userID int64) (*domain.User, error)

	// UpdateUser applies fn to the stored user (or a new record when absent) and
	// persists the result. Concurrent updates are serialized; the returned user
	// is a copy of what was written.
	UpdateUser(ctx context.Context, userID int64, fn UserMutator) (*domain.User, error)

	// DeleteUser removes a user. Deleting an absent user is not an error.
	DeleteUser(ctx context.Context, userID int64) error

	// ListTrackingUsers returns all users with an active tracked address.
	ListTrackingUsers(ctx context.Context) ([]*domain.User, error)
}

// TransactionStore provides access to the seen transactions set.
type TransactionStore interface {
	// IsTransactionSeen checks if a signature has been processed.
	IsTransactionSeen(ctx context.Context, signature string) (bool, error)

	// MarkTransactionSeen records that a signature has been processed. Idempotent.
	MarkTransactionSeen(ctx context.Context, signature string) error

	// LoadSeenTransactions returns up to limit recently seen signatures
	// (for warming the in-memory cache). limit <= 0 means all.
	LoadSeenTransactions(ctx context.Context, limit int) ([]string, error)
}

// Store is the persistent store used by the bot.
type Store interface {
	UserStore
	TransactionStore

	// Close releases the underlying resources.
	Close(ctx context.Context) error
}

// DeliveryLogStore provides access to notification delivery history.
// Append-only; it is analytics, not a source of truth for dedup.
type DeliveryLogStore interface {
	// Insert adds a delivery. Returns ErrDuplicateKey if delivery_id exists.
	Insert(ctx context.Context, d *domain.Delivery) error

	// GetByUser retrieves up to limit deliveries for a user, newest first.
	GetByUser(ctx context.Context, userID int64, limit int) ([]*domain.Delivery, error)
}

// ValidUserID reports whether id can key a user record.
func ValidUserID(id int64) bool {
	return id != 0
}
