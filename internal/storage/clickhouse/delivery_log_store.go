package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/observability"
	"solana-wallet-tracker/internal/storage"
)

// DeliveryLogStore implements storage.DeliveryLogStore using ClickHouse.
type DeliveryLogStore struct {
	conn *Conn
}

// NewDeliveryLogStore creates a new DeliveryLogStore.
func NewDeliveryLogStore(conn *Conn) *DeliveryLogStore {
	return &DeliveryLogStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DeliveryLogStore = (*DeliveryLogStore)(nil)

// Insert adds a delivery. Returns ErrDuplicateKey if delivery_id exists.
func (s *DeliveryLogStore) Insert(ctx context.Context, d *domain.Delivery) (err error) {
	if d == nil || d.DeliveryID == "" || !storage.ValidUserID(d.UserID) {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) {
		observability.RecordDBQuery("clickhouse", "insert_delivery", time.Since(start).Seconds(), err)
	}(time.Now())

	// MergeTree doesn't enforce uniqueness; check explicitly for append-only semantics.
	exists, err := s.exists(ctx, d.DeliveryID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO notification_deliveries (
			delivery_id, user_id, target, signature, slot, delivered_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	err = s.conn.Exec(ctx, query,
		d.DeliveryID, d.UserID, d.Target, d.Signature, d.Slot, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// GetByUser retrieves up to limit deliveries for a user, newest first.
func (s *DeliveryLogStore) GetByUser(ctx context.Context, userID int64, limit int) (out []*domain.Delivery, err error) {
	defer func(start time.Time) {
		observability.RecordDBQuery("clickhouse", "get_deliveries", time.Since(start).Seconds(), err)
	}(time.Now())

	query := `
		SELECT delivery_id, user_id, target, signature, slot, delivered_at
		FROM notification_deliveries
		WHERE user_id = ?
		ORDER BY delivered_at DESC, delivery_id DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, uint64(limit))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d domain.Delivery
		if err := rows.Scan(&d.DeliveryID, &d.UserID, &d.Target, &d.Signature, &d.Slot, &d.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// exists checks if a delivery with the given id exists.
func (s *DeliveryLogStore) exists(ctx context.Context, deliveryID string) (bool, error) {
	query := `SELECT count(*) FROM notification_deliveries WHERE delivery_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, deliveryID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
