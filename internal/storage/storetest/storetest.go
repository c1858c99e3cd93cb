// Package storetest holds the behavioral suite every storage.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/storage"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetUserNotFound", func(t *testing.T) { testGetUserNotFound(t, newStore(t)) })
	t.Run("UpdateUserCreates", func(t *testing.T) { testUpdateUserCreates(t, newStore(t)) })
	t.Run("UpdateUserMerges", func(t *testing.T) { testUpdateUserMerges(t, newStore(t)) })
	t.Run("UpdateUserAbort", func(t *testing.T) { testUpdateUserAbort(t, newStore(t)) })
	t.Run("UpdateUserConcurrent", func(t *testing.T) { testUpdateUserConcurrent(t, newStore(t)) })
	t.Run("DeleteUser", func(t *testing.T) { testDeleteUser(t, newStore(t)) })
	t.Run("ListTrackingUsers", func(t *testing.T) { testListTrackingUsers(t, newStore(t)) })
	t.Run("SeenTransactions", func(t *testing.T) { testSeenTransactions(t, newStore(t)) })
	t.Run("InvalidInput", func(t *testing.T) { testInvalidInput(t, newStore(t)) })
}

func closeStore(t *testing.T, s storage.Store) {
	t.Cleanup(func() {
		assert.NoError(t, s.Close(context.Background()))
	})
}

func testGetUserNotFound(t *testing.T, s storage.Store) {
	closeStore(t, s)

	_, err := s.GetUser(context.Background(), 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUpdateUserCreates(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	got, err := s.UpdateUser(ctx, 42, func(u *domain.User) error {
		u.SetState(domain.StateAwaitingTargetAddress, time.Now())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)
	assert.False(t, got.CreatedAt.IsZero())

	stored, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingTargetAddress, stored.State)
	require.NotNil(t, stored.StateTimestamp)
}

func testUpdateUserMerges(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	subID := uint64(7)
	_, err := s.UpdateUser(ctx, 1, func(u *domain.User) error {
		u.SubscriptionID = &subID
		u.CopyTarget = "target"
		u.Status = domain.StatusActive
		return nil
	})
	require.NoError(t, err)

	first, err := s.GetUser(ctx, 1)
	require.NoError(t, err)

	// A second update sees the fields written by the first.
	_, err = s.UpdateUser(ctx, 1, func(u *domain.User) error {
		if u.CopyTarget != "target" {
			return errors.New("previous write not visible")
		}
		u.SetState(domain.StateNone, time.Now())
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got.SubscriptionID)
	assert.Equal(t, subID, *got.SubscriptionID)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, domain.StateNone, got.State)
	assert.Nil(t, got.StateTimestamp)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt), "CreatedAt must survive updates")
}

func testUpdateUserAbort(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.UpdateUser(ctx, 5, func(u *domain.User) error {
		u.CopyTarget = "a"
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.UpdateUser(ctx, 5, func(u *domain.User) error {
		u.CopyTarget = "b"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetUser(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "a", got.CopyTarget)
}

func testUpdateUserConcurrent(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateUser(ctx, 9, func(u *domain.User) error {
				var cur uint64
				if u.SubscriptionID != nil {
					cur = *u.SubscriptionID
				}
				cur++
				u.SubscriptionID = &cur
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetUser(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, got.SubscriptionID)
	assert.Equal(t, uint64(n), *got.SubscriptionID, "updates must not be lost")
}

func testDeleteUser(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.UpdateUser(ctx, 3, func(u *domain.User) error { return nil })
	require.NoError(t, err)

	require.NoError(t, s.DeleteUser(ctx, 3))
	_, err = s.GetUser(ctx, 3)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Idempotent.
	assert.NoError(t, s.DeleteUser(ctx, 3))
}

func testListTrackingUsers(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	track := func(id int64, target string, status domain.UserStatus) {
		_, err := s.UpdateUser(ctx, id, func(u *domain.User) error {
			u.CopyTarget = target
			u.Status = status
			return nil
		})
		require.NoError(t, err)
	}
	track(1, "addr1", domain.StatusActive)
	track(2, "", domain.StatusActive)
	track(3, "addr3", domain.StatusNone)
	track(4, "addr4", domain.StatusActive)

	users, err := s.ListTrackingUsers(ctx)
	require.NoError(t, err)

	ids := make(map[int64]string)
	for _, u := range users {
		ids[u.ID] = u.CopyTarget
	}
	assert.Equal(t, map[int64]string{1: "addr1", 4: "addr4"}, ids)
}

func testSeenTransactions(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	seen, err := s.IsTransactionSeen(ctx, "sigA")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkTransactionSeen(ctx, "sigA"))
	require.NoError(t, s.MarkTransactionSeen(ctx, "sigA"))
	require.NoError(t, s.MarkTransactionSeen(ctx, "sigB"))

	seen, err = s.IsTransactionSeen(ctx, "sigA")
	require.NoError(t, err)
	assert.True(t, seen)

	all, err := s.LoadSeenTransactions(ctx, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sigA", "sigB"}, all)

	one, err := s.LoadSeenTransactions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func testInvalidInput(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.GetUser(ctx, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = s.UpdateUser(ctx, 0, func(u *domain.User) error { return nil })
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = s.IsTransactionSeen(ctx, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	assert.ErrorIs(t, s.MarkTransactionSeen(ctx, ""), storage.ErrInvalidInput)
}
