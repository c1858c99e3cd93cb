package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"solana-wallet-tracker/internal/observability"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// BufferSize is the per-subscription notification buffer.
	BufferSize int
	// ResubscribeInterval is how often subscriptions a reconnect could not
	// restore are retried.
	ResubscribeInterval time.Duration
	// Logger receives connection-level diagnostics.
	Logger zerolog.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:      1 * time.Second,
		MaxReconnectDelay:   30 * time.Second,
		PingInterval:        30 * time.Second,
		ReadTimeout:         60 * time.Second,
		WriteTimeout:        10 * time.Second,
		SubscribeTimeout:    30 * time.Second,
		BufferSize:          1000,
		ResubscribeInterval: 5 * time.Second,
		Logger:              zerolog.Nop(),
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   zerolog.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps subscription IDs issued on the current connection to their
	// subscriptions. IDs from an earlier connection never appear here.
	subs map[int64]*wsSubscription
	// detached holds subscriptions whose connection dropped and that are not
	// yet subscribed on the current one.
	detached map[*wsSubscription]struct{}
	// epoch counts dropped connections. An ID obtained under an older epoch is stale.
	epoch  uint64
	subsMu sync.RWMutex

	// resubMu serializes resubscribe passes.
	resubMu sync.Mutex

	// pendingSubs maps request ID to the subscribe request awaiting its answer
	pendingSubs   map[uint64]*pendingSub
	pendingSubsMu sync.Mutex

	// ctx is cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

type wsSubscription struct {
	sub    *LogSubscription
	filter LogsFilter
}

type subscribeResult struct {
	id  int64
	err error
}

// pendingSub is a logsSubscribe request in flight. The reader installs s
// under the returned ID before it handles the next message, so no
// notification sent right after the confirmation is lost.
type pendingSub struct {
	ch    chan subscribeResult
	s     *wsSubscription
	epoch uint64
	// fresh is set for a new subscription, unset for a resubscribe.
	fresh bool
}

var _ WSClient = (*WSClientImpl)(nil)

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultWSConfig().BufferSize
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultWSConfig().SubscribeTimeout
	}
	if cfg.ResubscribeInterval <= 0 {
		cfg.ResubscribeInterval = DefaultWSConfig().ResubscribeInterval
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		logger:      cfg.Logger.With().Str("component", "solana-ws").Logger(),
		subs:        make(map[int64]*wsSubscription),
		detached:    make(map[*wsSubscription]struct{}),
		pendingSubs: make(map[uint64]*pendingSub),
		ctx:         runCtx,
		cancel:      cancel,
	}

	if err := c.connect(ctx); err != nil {
		cancel()
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	c.wg.Add(1)
	go c.retryLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// SubscribeLogs subscribes to transaction logs matching the filter.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (*LogSubscription, error) {
	s := &wsSubscription{sub: NewLogSubscription(c.config.BufferSize), filter: filter}

	subID, err := c.subscribeLogsInternal(ctx, s, true)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Int64("subscription", subID).Strs("mentions", filter.Mentions).Msg("logs subscribed")
	return s.sub, nil
}

// Unsubscribe removes the subscription locally, cancels it and asks the node
// to drop it. The local removal happens even if the node request fails.
func (c *WSClientImpl) Unsubscribe(ctx context.Context, sub *LogSubscription) error {
	if sub == nil {
		return nil
	}

	var (
		subID int64
		live  bool
	)
	c.subsMu.Lock()
	for id, s := range c.subs {
		if s.sub == sub {
			subID, live = id, true
			delete(c.subs, id)
			break
		}
	}
	if !live {
		for s := range c.detached {
			if s.sub == sub {
				delete(c.detached, s)
				break
			}
		}
	}
	c.subsMu.Unlock()

	sub.Cancel()

	if !live || c.closed.Load() {
		return nil
	}
	return c.sendUnsubscribe(subID)
}

func (c *WSClientImpl) sendUnsubscribe(subID int64) error {
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "logsUnsubscribe",
		Params:  []interface{}{subID},
	}
	if err := c.writeJSON(req); err != nil {
		return fmt.Errorf("write unsubscribe: %w", err)
	}
	return nil
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	c.cancel()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// Cancel all subscriptions
	c.subsMu.Lock()
	for id, s := range c.subs {
		s.sub.Cancel()
		delete(c.subs, id)
	}
	for s := range c.detached {
		s.sub.Cancel()
		delete(c.detached, s)
	}
	c.subsMu.Unlock()

	// Close pending subscription channels
	c.pendingSubsMu.Lock()
	for id, p := range c.pendingSubs {
		close(p.ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.wg.Wait()
	return nil
}

// writeJSON writes a request under the connection lock.
func (c *WSClientImpl) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *WSClientImpl) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > c.config.MaxReconnectDelay {
		d = c.config.MaxReconnectDelay
	}
	return d
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			// A failed reconnect leaves no connection behind; try again.
			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
				reconnectDelay = c.nextDelay(reconnectDelay)
			}
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			c.logger.Warn().Err(err).Dur("delay", reconnectDelay).Msg("read failed, reconnecting")

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
				reconnectDelay = c.nextDelay(reconnectDelay)
			}

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect replaces the connection and resubscribes everything that was live on it.
func (c *WSClientImpl) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.ctx.Done():
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.detachAll()

	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("reconnect failed")
		return
	}

	if left := c.resubscribeDetached(); left > 0 {
		c.logger.Error().
			Int("pending", left).
			Dur("retry_in", c.config.ResubscribeInterval).
			Msg("subscriptions not restored after reconnect")
	}
}

// detachAll moves every subscription off the dropped connection. The next
// connection hands out its own IDs, which may reuse numbers the old one gave
// to other subscriptions.
func (c *WSClientImpl) detachAll() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	c.epoch++
	for id, s := range c.subs {
		c.detached[s] = struct{}{}
		delete(c.subs, id)
	}
}

// resubscribeDetached subscribes every detached subscription on the current
// connection and returns how many remain detached. Each new ID is installed
// only if the connection has not dropped since the request was sent.
func (c *WSClientImpl) resubscribeDetached() int {
	c.resubMu.Lock()
	defer c.resubMu.Unlock()

	c.subsMu.RLock()
	pending := make([]*wsSubscription, 0, len(c.detached))
	for s := range c.detached {
		pending = append(pending, s)
	}
	c.subsMu.RUnlock()

	for _, s := range pending {
		if !c.isDetached(s) {
			continue
		}
		ctx, cancel := context.WithTimeout(c.ctx, c.config.SubscribeTimeout)
		_, err := c.subscribeLogsInternal(ctx, s, false)
		cancel()

		if err != nil {
			observability.RecordSubscriptionError("resubscribe")
			c.logger.Warn().Err(err).Strs("mentions", s.filter.Mentions).Msg("resubscribe failed")
		}
	}
	return c.detachedCount()
}

// retryLoop retries subscriptions a reconnect could not restore.
func (c *WSClientImpl) retryLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.ResubscribeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.reconnecting.Load() || c.detachedCount() == 0 {
				continue
			}
			if left := c.resubscribeDetached(); left > 0 {
				c.logger.Warn().Int("pending", left).Msg("subscriptions still awaiting resubscribe")
			}
		}
	}
}

func (c *WSClientImpl) isDetached(s *wsSubscription) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.detached[s]
	return ok
}

func (c *WSClientImpl) detachedCount() int {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return len(c.detached)
}

// subscribeLogsInternal sends logsSubscribe for s and waits until the reader
// has installed it under the node's subscription ID.
func (c *WSClientImpl) subscribeLogsInternal(ctx context.Context, s *wsSubscription, fresh bool) (int64, error) {
	if c.closed.Load() {
		return 0, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)

	mentionsFilter := make(map[string]interface{})
	if len(s.filter.Mentions) > 0 {
		mentionsFilter["mentions"] = s.filter.Mentions
	} else {
		mentionsFilter["all"] = nil
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []interface{}{
			mentionsFilter,
			map[string]string{"commitment": s.filter.commitment()},
		},
	}

	c.subsMu.RLock()
	p := &pendingSub{ch: make(chan subscribeResult, 1), s: s, epoch: c.epoch, fresh: fresh}
	c.subsMu.RUnlock()

	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = p
	c.pendingSubsMu.Unlock()

	// abandon withdraws the request. An answer that was already handled wins,
	// since its subscription is installed by then.
	abandon := func(err error) (int64, error) {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()

		select {
		case r, ok := <-p.ch:
			if ok && r.err == nil {
				return r.id, nil
			}
		default:
		}
		return 0, err
	}

	if err := c.writeJSON(req); err != nil {
		return abandon(fmt.Errorf("write subscribe: %w", err))
	}

	select {
	case r, ok := <-p.ch:
		if !ok {
			return 0, fmt.Errorf("client closed")
		}
		if r.err != nil {
			return 0, fmt.Errorf("logsSubscribe: %w", r.err)
		}
		return r.id, nil
	case <-time.After(c.config.SubscribeTimeout):
		return abandon(fmt.Errorf("subscription timeout after %v", c.config.SubscribeTimeout))
	case <-c.ctx.Done():
		return 0, fmt.Errorf("client closed")
	case <-ctx.Done():
		return abandon(ctx.Err())
	}
}

// handleMessage processes incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	// Try to parse as subscription response first
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		c.resolvePending(resp.ID, subscribeResult{id: resp.Result})
		return
	}

	// Try to parse as notification
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "logsNotification" {
		c.handleLogsNotification(&notif)
		return
	}

	var errResp struct {
		ID    uint64    `json:"id"`
		Error *RPCError `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		if c.resolvePending(errResp.ID, subscribeResult{err: errResp.Error}) {
			return
		}
		c.logger.Warn().
			Uint64("request_id", errResp.ID).
			Int("code", errResp.Error.Code).
			Str("message", errResp.Error.Message).
			Msg("error response")
	}
}

// resolvePending answers the subscribe request waiting on id, if any,
// installing its subscription first when r carries an ID.
func (c *WSClientImpl) resolvePending(id uint64, r subscribeResult) bool {
	var stale bool

	c.pendingSubsMu.Lock()
	p, ok := c.pendingSubs[id]
	if ok {
		delete(c.pendingSubs, id)
		if r.err == nil {
			stale = !c.install(p, r.id)
		}
		p.ch <- r
	}
	c.pendingSubsMu.Unlock()

	if stale {
		if err := c.sendUnsubscribe(r.id); err != nil {
			c.logger.Debug().Err(err).Int64("subscription", r.id).Msg("drop stale subscription")
		}
	}
	return ok
}

// install maps subID to p's subscription. It reports false when the node
// subscription is not wanted any more and should be dropped.
func (c *WSClientImpl) install(p *pendingSub, subID int64) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.epoch != p.epoch {
		// Confirmed on a connection that has since dropped.
		if p.fresh {
			c.detached[p.s] = struct{}{}
		}
		return true
	}
	if !p.fresh {
		if _, ok := c.detached[p.s]; !ok {
			// Unsubscribed while the resubscribe was in flight.
			return false
		}
		delete(c.detached, p.s)
	}
	c.subs[subID] = p.s
	return true
}

// handleLogsNotification dispatches log notification to subscriber.
func (c *WSClientImpl) handleLogsNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	subID := notif.Params.Subscription
	value := notif.Params.Result.Value

	logNotif := LogNotification{
		Signature: value.Signature,
		Logs:      value.Logs,
		Err:       value.Err,
	}

	// Get slot from context if available
	if notif.Params.Result.Context != nil {
		logNotif.Slot = notif.Params.Result.Context.Slot
	}

	c.subsMu.RLock()
	s, ok := c.subs[subID]
	c.subsMu.RUnlock()

	if ok {
		// Block until accepted; never drop events for a live subscription
		s.sub.Publish(c.ctx, logNotif)
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection is detected by the reader.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
