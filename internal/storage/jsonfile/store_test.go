package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/storage"
	"solana-wallet-tracker/internal/storage/storetest"
)

func TestStore_Suite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(filepath.Join(t.TempDir(), "db.json"))
		require.NoError(t, err)
		return s
	})
}

func TestOpen_CreatesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")

	_, err := Open(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":{},"transactions":{}}`, string(data))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)

	_, err = s.UpdateUser(ctx, 77, func(u *domain.User) error {
		u.CopyTarget = "addr"
		u.Status = domain.StatusActive
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkTransactionSeen(ctx, "sig1"))

	reopened, err := Open(path)
	require.NoError(t, err)

	u, err := reopened.GetUser(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, "addr", u.CopyTarget)
	assert.True(t, u.IsTracking())

	seen, err := reopened.IsTransactionSeen(ctx, "sig1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestOpen_ReadsLegacyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	legacy := `{
		"users": {"12345": {"state": "awaiting_target_address", "copyTarget": "abc", "status": "active", "subscriptionId": 3}},
		"transactions": {"oldSig": true}
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	s, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	u, err := s.GetUser(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), u.ID)
	assert.Equal(t, domain.StateAwaitingTargetAddress, u.State)
	require.NotNil(t, u.SubscriptionID)
	assert.Equal(t, uint64(3), *u.SubscriptionID)

	seen, err := s.IsTransactionSeen(ctx, "oldSig")
	require.NoError(t, err)
	assert.True(t, seen)

	users, err := s.ListTrackingUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(12345), users[0].ID)
}

func TestOpen_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestStore_FailedWriteLeavesStateUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.json")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)

	// Point the store at a directory that does not exist so the temp file cannot be created.
	s.path = filepath.Join(dir, "missing", "db.json")

	_, err = s.UpdateUser(ctx, 1, func(u *domain.User) error { return nil })
	require.Error(t, err)
	assert.Error(t, s.MarkTransactionSeen(ctx, "sig"))

	_, err = s.GetUser(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	seen, err := s.IsTransactionSeen(ctx, "sig")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "db.json"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.MarkTransactionSeen(context.Background(), string(rune('a'+i))))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
