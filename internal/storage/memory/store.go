package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu    sync.RWMutex
	users map[int64]*domain.User
	seen  map[string]int64 // signature -> insertion sequence
	seq   int64
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		users: make(map[int64]*domain.User),
		seen:  make(map[string]int64),
		now:   time.Now,
	}
}

// GetUser retrieves a user by chat id.
func (s *Store) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	if !storage.ValidUserID(userID) {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u.Clone(), nil
}

// UpdateUser applies fn to a copy of the user and stores it on success.
func (s *Store) UpdateUser(_ context.Context, userID int64, fn storage.UserMutator) (*domain.User, error) {
	if !storage.ValidUserID(userID) || fn == nil {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if ok {
		u = u.Clone()
	} else {
		u = &domain.User{ID: userID, CreatedAt: s.now().UTC()}
	}

	if err := fn(u); err != nil {
		return nil, err
	}
	u.ID = userID

	s.users[userID] = u
	return u.Clone(), nil
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(_ context.Context, userID int64) error {
	if !storage.ValidUserID(userID) {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)
	return nil
}

// ListTrackingUsers returns users with an active tracked address, ordered by id.
func (s *Store) ListTrackingUsers(_ context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.User
	for _, u := range s.users {
		if u.IsTracking() {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IsTransactionSeen checks if a signature has been processed.
func (s *Store) IsTransactionSeen(_ context.Context, signature string) (bool, error) {
	if signature == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.seen[signature]
	return ok, nil
}

// MarkTransactionSeen records that a signature has been processed.
func (s *Store) MarkTransactionSeen(_ context.Context, signature string) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[signature]; ok {
		return nil
	}
	s.seq++
	s.seen[signature] = s.seq
	return nil
}

// LoadSeenTransactions returns up to limit signatures, most recent first.
func (s *Store) LoadSeenTransactions(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sigs := make([]string, 0, len(s.seen))
	for sig := range s.seen {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return s.seen[sigs[i]] > s.seen[sigs[j]] })

	if limit > 0 && limit < len(sigs) {
		sigs = sigs[:limit]
	}
	return sigs, nil
}

// Close is a no-op.
func (s *Store) Close(_ context.Context) error {
	return nil
}
