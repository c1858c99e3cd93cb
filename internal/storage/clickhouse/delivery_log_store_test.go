package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/storage"
)

func TestDeliveryLogStore_InsertAndGetByUser(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDeliveryLogStore(conn)
	ctx := context.Background()

	deliveries := []*domain.Delivery{
		{DeliveryID: "d1", UserID: 1, Target: "addr", Signature: "s1", Slot: 10, DeliveredAt: 1000},
		{DeliveryID: "d2", UserID: 1, Target: "addr", Signature: "s2", Slot: 11, DeliveredAt: 3000},
		{DeliveryID: "d3", UserID: 2, Target: "addr", Signature: "s3", Slot: 12, DeliveredAt: 2000},
		{DeliveryID: "d4", UserID: 1, Target: "addr", Signature: "s4", Slot: 13, DeliveredAt: 2000},
	}
	for _, d := range deliveries {
		require.NoError(t, store.Insert(ctx, d))
	}

	got, err := store.GetByUser(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d2", got[0].DeliveryID)
	assert.Equal(t, "d4", got[1].DeliveryID)
	assert.Equal(t, int64(13), got[1].Slot)

	all, err := store.GetByUser(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeliveryLogStore_DuplicateKey(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDeliveryLogStore(conn)
	ctx := context.Background()

	d := &domain.Delivery{DeliveryID: "dup", UserID: 1, Signature: "s", DeliveredAt: 1}
	require.NoError(t, store.Insert(ctx, d))
	assert.ErrorIs(t, store.Insert(ctx, d), storage.ErrDuplicateKey)
}

func TestDeliveryLogStore_InvalidInput(t *testing.T) {
	store := NewDeliveryLogStore(nil)

	err := store.Insert(context.Background(), &domain.Delivery{UserID: 1})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestParseDSN(t *testing.T) {
	opts, err := parseDSN("clickhouse://user:pw@ch.local/analytics")
	require.NoError(t, err)
	assert.Equal(t, []string{"ch.local:9000"}, opts.Addr)
	assert.Equal(t, "user", opts.Auth.Username)
	assert.Equal(t, "pw", opts.Auth.Password)
	assert.Equal(t, "analytics", opts.Auth.Database)
}
