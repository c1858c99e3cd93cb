package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/storage"
)

// DeliveryLogStore is an in-memory implementation of storage.DeliveryLogStore.
type DeliveryLogStore struct {
	mu         sync.RWMutex
	deliveries []*domain.Delivery
	ids        map[string]bool
}

var _ storage.DeliveryLogStore = (*DeliveryLogStore)(nil)

// NewDeliveryLogStore creates a new in-memory delivery log.
func NewDeliveryLogStore() *DeliveryLogStore {
	return &DeliveryLogStore{
		ids: make(map[string]bool),
	}
}

// Insert adds a delivery.
func (s *DeliveryLogStore) Insert(_ context.Context, d *domain.Delivery) error {
	if d == nil || d.DeliveryID == "" || !storage.ValidUserID(d.UserID) {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ids[d.DeliveryID] {
		return storage.ErrDuplicateKey
	}

	cp := *d
	s.deliveries = append(s.deliveries, &cp)
	s.ids[d.DeliveryID] = true
	return nil
}

// GetByUser retrieves deliveries for a user, newest first.
func (s *DeliveryLogStore) GetByUser(_ context.Context, userID int64, limit int) ([]*domain.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Delivery
	for i := len(s.deliveries) - 1; i >= 0; i-- {
		d := s.deliveries[i]
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}

	// Insertion order breaks ties between equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DeliveredAt > out[j].DeliveredAt
	})

	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
