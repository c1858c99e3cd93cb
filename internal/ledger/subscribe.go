package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"solana-wallet-tracker/internal/address"
	"solana-wallet-tracker/internal/observability"
	"solana-wallet-tracker/internal/solana"
)

// SubscriptionID identifies a live logs subscription within this process.
type SubscriptionID uint64

// LogEvent is one log notification that mentions a subscribed address.
type LogEvent struct {
	Signature string
	Slot      int64
	Err       interface{} // on-chain error reported with the logs, if any
}

// Handler is invoked once per log event. Invocations for one subscription
// are sequential and in arrival order.
type Handler func(ctx context.Context, ev LogEvent)

type subscription struct {
	id      SubscriptionID
	address string
	sub     *solana.LogSubscription
	handler Handler

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

// begin reports whether a handler call may start and, if so, counts it as
// in flight until end. Once stop has run it never does.
func (s *subscription) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *subscription) end() {
	s.inflight.Done()
}

// stop refuses further handler calls and waits for the running one, if any,
// until ctx is done.
func (s *subscription) stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.sub.Cancel()

	idle := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type subscriptions struct {
	mu     sync.Mutex
	nextID SubscriptionID
	byID   map[SubscriptionID]*subscription
	wg     sync.WaitGroup

	// ctx is handed to handlers; cancelled only by wait so in-flight
	// handlers can finish after an unsubscribe.
	ctx    context.Context
	cancel context.CancelFunc
}

func (r *subscriptions) init() {
	r.byID = make(map[SubscriptionID]*subscription)
	r.ctx, r.cancel = context.WithCancel(context.Background())
}

func (r *subscriptions) add(address string, sub *solana.LogSubscription, h Handler) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s := &subscription{id: r.nextID, address: address, sub: sub, handler: h}
	r.byID[s.id] = s
	observability.SetActiveSubscriptions(len(r.byID))
	return s
}

func (r *subscriptions) remove(id SubscriptionID) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	observability.SetActiveSubscriptions(len(r.byID))
	return s
}

func (r *subscriptions) ids() []SubscriptionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SubscriptionID, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *subscriptions) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// wait blocks until every dispatcher has exited, giving in-flight handlers
// up to a few seconds before their context is cancelled.
func (r *subscriptions) wait() {
	defer r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		r.cancel()
		<-done
	}
}

// SubscribeToLogs streams log events mentioning addr at the given commitment
// (confirmed when empty) to handler. Events without a signature are dropped.
func (c *Client) SubscribeToLogs(ctx context.Context, addr, commitment string, handler Handler) (SubscriptionID, error) {
	if !address.IsValid(addr) {
		return 0, ErrInvalidAddress
	}
	if handler == nil {
		return 0, errors.New("nil handler")
	}
	if c.ws == nil {
		return 0, errors.New("no websocket client configured")
	}
	if commitment == "" {
		commitment = solana.CommitmentConfirmed
	}

	sub, err := c.ws.SubscribeLogs(ctx, solana.LogsFilter{
		Mentions:   []string{addr},
		Commitment: commitment,
	})
	if err != nil {
		observability.RecordSubscriptionError("subscribe")
		return 0, fmt.Errorf("subscribe logs for %s: %w", addr, err)
	}

	s := c.subs.add(addr, sub, handler)
	c.subs.wg.Add(1)
	go c.dispatch(s)

	c.logger.Info().Uint64("subscription", uint64(s.id)).Str("address", addr).Msg("logs subscription opened")
	return s.id, nil
}

// Unsubscribe stops a subscription. No handler call starts after it returns,
// and a call already running has returned unless ctx expired first. It must
// not be called from the subscription's own handler. Unknown ids are ignored.
// The local subscription is released even when the node cannot be told.
func (c *Client) Unsubscribe(ctx context.Context, id SubscriptionID) error {
	s := c.subs.remove(id)
	if s == nil {
		return nil
	}

	if err := s.stop(ctx); err != nil {
		c.logger.Warn().Err(err).Uint64("subscription", uint64(id)).Msg("handler still running after unsubscribe")
	}

	if err := c.ws.Unsubscribe(ctx, s.sub); err != nil {
		observability.RecordSubscriptionError("unsubscribe")
		c.logger.Warn().Err(err).Uint64("subscription", uint64(id)).Msg("node unsubscribe failed")
		return fmt.Errorf("unsubscribe %d: %w", id, err)
	}

	c.logger.Info().Uint64("subscription", uint64(id)).Str("address", s.address).Msg("logs subscription closed")
	return nil
}

// ActiveSubscriptions returns the number of live subscriptions.
func (c *Client) ActiveSubscriptions() int {
	return c.subs.count()
}

// dispatch runs the handler for each notification of one subscription, one at a time.
func (c *Client) dispatch(s *subscription) {
	defer c.subs.wg.Done()

	for {
		select {
		case <-s.sub.Done():
			return
		case n := <-s.sub.C():
			if n.Signature == "" {
				continue
			}
			if !s.begin() {
				return
			}
			observability.RecordLogEvent()
			c.invoke(s, LogEvent{Signature: n.Signature, Slot: n.Slot, Err: n.Err})
		}
	}
}

// invoke runs the handler, containing panics so one bad event cannot kill the stream.
func (c *Client) invoke(s *subscription, ev LogEvent) {
	defer s.end()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Uint64("subscription", uint64(s.id)).
				Str("signature", ev.Signature).
				Msg("log handler panicked")
		}
	}()
	s.handler(c.subs.ctx, ev)
}
