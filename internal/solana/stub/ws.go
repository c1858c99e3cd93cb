package stub

import (
	"context"
	"errors"
	"sync"

	"solana-wallet-tracker/internal/solana"
)

// ErrClosed is returned by WSClient after Close.
var ErrClosed = errors.New("stub ws closed")

// WSClient implements solana.WSClient in memory. Tests push notifications with Emit.
type WSClient struct {
	mu     sync.Mutex
	subs   map[string][]*solana.LogSubscription
	closed bool

	// SubscribeErr, when set, fails every SubscribeLogs call.
	SubscribeErr error

	subscribes   int
	unsubscribes int
}

var _ solana.WSClient = (*WSClient)(nil)

// NewWSClient creates an empty stub.
func NewWSClient() *WSClient {
	return &WSClient{subs: make(map[string][]*solana.LogSubscription)}
}

// SubscribeLogs registers a subscription for every mentioned address.
func (c *WSClient) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (*solana.LogSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	c.subscribes++
	sub := solana.NewLogSubscription(64)
	for _, m := range filter.Mentions {
		c.subs[m] = append(c.subs[m], sub)
	}
	return sub, nil
}

// Unsubscribe cancels sub and forgets it.
func (c *WSClient) Unsubscribe(_ context.Context, sub *solana.LogSubscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribes++
	c.remove(sub)
	sub.Cancel()
	return nil
}

func (c *WSClient) remove(sub *solana.LogSubscription) {
	for addr, list := range c.subs {
		kept := list[:0]
		for _, s := range list {
			if s != sub {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(c.subs, addr)
		} else {
			c.subs[addr] = kept
		}
	}
}

// Close cancels every live subscription.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, list := range c.subs {
		for _, s := range list {
			s.Cancel()
		}
	}
	c.subs = make(map[string][]*solana.LogSubscription)
	return nil
}

// Emit publishes n to every subscription mentioning address and reports how many accepted it.
func (c *WSClient) Emit(ctx context.Context, address string, n solana.LogNotification) int {
	c.mu.Lock()
	targets := append([]*solana.LogSubscription(nil), c.subs[address]...)
	c.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if s.Publish(ctx, n) {
			delivered++
		}
	}
	return delivered
}

// Active returns the number of live subscriptions mentioning address.
func (c *WSClient) Active(address string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[address])
}

// Counts returns the number of subscribe and unsubscribe calls.
func (c *WSClient) Counts() (subscribes, unsubscribes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes, c.unsubscribes
}
