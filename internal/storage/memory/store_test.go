package memory

import (
	"context"
	"errors"
	"testing"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/storage"
	"solana-wallet-tracker/internal/storage/storetest"
)

func TestStore_Suite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return NewStore()
	})
}

func TestStore_LoadSeenTransactionsMostRecentFirst(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for _, sig := range []string{"s1", "s2", "s3"} {
		if err := store.MarkTransactionSeen(ctx, sig); err != nil {
			t.Fatalf("MarkTransactionSeen failed: %v", err)
		}
	}

	got, err := store.LoadSeenTransactions(ctx, 2)
	if err != nil {
		t.Fatalf("LoadSeenTransactions failed: %v", err)
	}
	if len(got) != 2 || got[0] != "s3" || got[1] != "s2" {
		t.Errorf("expected [s3 s2], got %v", got)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	u, err := store.UpdateUser(ctx, 1, func(u *domain.User) error {
		u.CopyTarget = "a"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	u.CopyTarget = "mutated"

	got, _ := store.GetUser(ctx, 1)
	if got.CopyTarget != "a" {
		t.Errorf("stored user changed through returned pointer: %s", got.CopyTarget)
	}
}

func TestDeliveryLogStore_InsertAndGet(t *testing.T) {
	store := NewDeliveryLogStore()
	ctx := context.Background()

	deliveries := []*domain.Delivery{
		{DeliveryID: "d1", UserID: 1, Target: "t", Signature: "s1", DeliveredAt: 1000},
		{DeliveryID: "d2", UserID: 2, Target: "t", Signature: "s2", DeliveredAt: 2000},
		{DeliveryID: "d3", UserID: 1, Target: "t", Signature: "s3", DeliveredAt: 3000},
		{DeliveryID: "d4", UserID: 1, Target: "t", Signature: "s4", DeliveredAt: 2500},
	}
	for _, d := range deliveries {
		if err := store.Insert(ctx, d); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetByUser(ctx, 1, 2)
	if err != nil {
		t.Fatalf("GetByUser failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].DeliveryID != "d3" || got[1].DeliveryID != "d4" {
		t.Errorf("expected newest first [d3 d4], got [%s %s]", got[0].DeliveryID, got[1].DeliveryID)
	}
}

func TestDeliveryLogStore_DuplicateKey(t *testing.T) {
	store := NewDeliveryLogStore()
	ctx := context.Background()

	d := &domain.Delivery{DeliveryID: "d1", UserID: 1, Signature: "s"}
	if err := store.Insert(ctx, d); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, d)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestDeliveryLogStore_InvalidInput(t *testing.T) {
	store := NewDeliveryLogStore()

	err := store.Insert(context.Background(), &domain.Delivery{UserID: 1})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
