// Package dedup decides whether a transaction signature still needs a notification.
//
// Two layers are consulted: a bounded in-memory set of signatures handled by
// this process, then the persisted seen-transactions store. A signature that
// passes ShouldProcess is claimed until MarkSeen or Release; while claimed,
// further ShouldProcess calls for it return false, so a redelivered event
// racing the first cannot be processed twice.
//
// Delivery is at-least-once across restarts: a crash after delivery but
// before MarkSeen persists the signature leads to a repeat notification.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	set "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"solana-wallet-tracker/internal/observability"
	"solana-wallet-tracker/internal/storage"
)

// DefaultCapacity bounds the in-memory set.
const DefaultCapacity = 10000

// ErrEmptySignature is returned for an empty signature.
var ErrEmptySignature = errors.New("empty signature")

// Options configures a Filter.
type Options struct {
	// Capacity is the maximum number of signatures kept in memory; oldest are evicted first.
	Capacity int
	Logger   zerolog.Logger
}

// Filter is the two-layer dedup check. Safe for concurrent use.
type Filter struct {
	store    storage.TransactionStore
	capacity int
	logger   zerolog.Logger

	mu       sync.Mutex
	cache    set.Set[string]
	order    []string // FIFO of cache entries, oldest first
	inFlight set.Set[string]
}

// NewFilter creates a filter over store.
func NewFilter(store storage.TransactionStore, opts Options) *Filter {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Filter{
		store:    store,
		capacity: capacity,
		logger:   opts.Logger.With().Str("component", "dedup").Logger(),
		cache:    set.NewThreadUnsafeSet[string](),
		order:    make([]string, 0, capacity),
		inFlight: set.NewThreadUnsafeSet[string](),
	}
}

// ShouldProcess reports whether signature has not been handled yet. A true
// result claims the signature; the caller must follow with MarkSeen or Release.
// On a store read error the claim is dropped and the error returned.
func (f *Filter) ShouldProcess(ctx context.Context, signature string) (bool, error) {
	if signature == "" {
		return false, ErrEmptySignature
	}

	f.mu.Lock()
	if f.cache.Contains(signature) {
		f.mu.Unlock()
		observability.RecordDedupSkip(observability.DedupLayerMemory)
		return false, nil
	}
	if f.inFlight.Contains(signature) {
		f.mu.Unlock()
		observability.RecordDedupSkip(observability.DedupLayerInFlight)
		return false, nil
	}
	f.inFlight.Add(signature)
	f.mu.Unlock()

	seen, err := f.store.IsTransactionSeen(ctx, signature)
	if err != nil {
		f.Release(signature)
		return false, fmt.Errorf("check seen %s: %w", signature, err)
	}

	if seen {
		f.mu.Lock()
		f.remember(signature)
		f.inFlight.Remove(signature)
		f.mu.Unlock()
		observability.RecordDedupSkip(observability.DedupLayerStore)
		return false, nil
	}

	return true, nil
}

// MarkSeen records signature in memory, then in the store, and drops the claim.
// The in-memory mark stays even if persisting fails, so this process will not
// notify it again.
func (f *Filter) MarkSeen(ctx context.Context, signature string) error {
	if signature == "" {
		return ErrEmptySignature
	}

	f.mu.Lock()
	f.remember(signature)
	f.mu.Unlock()

	err := f.store.MarkTransactionSeen(ctx, signature)

	f.mu.Lock()
	f.inFlight.Remove(signature)
	f.mu.Unlock()

	if err != nil {
		return fmt.Errorf("persist seen %s: %w", signature, err)
	}
	return nil
}

// Release drops a claim without marking the signature seen, so a later
// redelivery is processed again.
func (f *Filter) Release(signature string) {
	f.mu.Lock()
	f.inFlight.Remove(signature)
	f.mu.Unlock()
}

// Warm preloads up to limit persisted signatures into memory.
func (f *Filter) Warm(ctx context.Context, limit int) (int, error) {
	if limit <= 0 || limit > f.capacity {
		limit = f.capacity
	}

	sigs, err := f.store.LoadSeenTransactions(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("load seen transactions: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Oldest first so the most recent survive eviction longest.
	for i := len(sigs) - 1; i >= 0; i-- {
		f.remember(sigs[i])
	}

	f.logger.Info().Int("signatures", len(sigs)).Msg("dedup cache warmed")
	return len(sigs), nil
}

// Len returns the number of signatures held in memory.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache.Cardinality()
}

// remember adds signature to the cache, evicting the oldest entry when full. Caller holds mu.
func (f *Filter) remember(signature string) {
	if !f.cache.Add(signature) {
		return
	}
	f.order = append(f.order, signature)

	for len(f.order) > f.capacity {
		oldest := f.order[0]
		f.order[0] = ""
		f.order = f.order[1:]
		f.cache.Remove(oldest)
	}
}
