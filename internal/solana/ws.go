package solana

import (
	"context"
	"sync"
)

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to transaction logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (*LogSubscription, error)

	// Unsubscribe cancels a subscription. No notification is published on it afterwards.
	Unsubscribe(ctx context.Context, sub *LogSubscription) error

	// Close closes the WebSocket connection.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these addresses.
	Mentions []string
	// Commitment is the confirmation level; empty means confirmed.
	Commitment string
}

func (f LogsFilter) commitment() string {
	if f.Commitment == "" {
		return CommitmentConfirmed
	}
	return f.Commitment
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}

// LogSubscription is a live logs subscription. Notifications arrive on C in
// the order the node sent them; Done is closed once the subscription is cancelled.
type LogSubscription struct {
	ch   chan LogNotification
	done chan struct{}
	once sync.Once
}

// NewLogSubscription creates a subscription with the given notification buffer.
func NewLogSubscription(buffer int) *LogSubscription {
	return &LogSubscription{
		ch:   make(chan LogNotification, buffer),
		done: make(chan struct{}),
	}
}

// C returns the notification channel.
func (s *LogSubscription) C() <-chan LogNotification {
	return s.ch
}

// Done is closed when the subscription is cancelled.
func (s *LogSubscription) Done() <-chan struct{} {
	return s.done
}

// Publish hands n to the subscriber, blocking until it is accepted or the
// subscription or ctx is done. Returns false if n was not delivered.
func (s *LogSubscription) Publish(ctx context.Context, n LogNotification) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.ch <- n:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Cancel marks the subscription done. Safe to call more than once.
func (s *LogSubscription) Cancel() {
	s.once.Do(func() { close(s.done) })
}
