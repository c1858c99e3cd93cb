package server

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-tracker/internal/observability"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
}

func (d *recordingDispatcher) Dispatch(_ context.Context, u tgbotapi.Update) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, u)
}

func newTestServer() (*Server, *recordingDispatcher) {
	d := &recordingDispatcher{}
	return New(Options{Dispatcher: d, WebhookPath: "/botTOKEN"}), d
}

func body(t *testing.T, s *Server, method, path, payload string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	if payload != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestRoot(t *testing.T) {
	s, _ := newTestServer()
	code, b := body(t, s, "GET", "/", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, "Bot is running", b)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer()
	code, b := body(t, s, "GET", "/health", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, "ok", b)
}

func TestMetrics(t *testing.T) {
	observability.RecordUpdate("command")

	s, _ := newTestServer()
	code, b := body(t, s, "GET", "/metrics", "")
	assert.Equal(t, 200, code)
	assert.Contains(t, b, "wallet_tracker_bot_updates_handled_total")
}

func TestWebhookDispatchesUpdate(t *testing.T) {
	s, d := newTestServer()

	code, _ := body(t, s, "POST", "/botTOKEN",
		`{"update_id":5,"message":{"message_id":1,"chat":{"id":42,"type":"private"},"text":"/start"}}`)
	assert.Equal(t, 200, code)

	require.Len(t, d.updates, 1)
	assert.Equal(t, 5, d.updates[0].UpdateID)
	require.NotNil(t, d.updates[0].Message)
	assert.Equal(t, "/start", d.updates[0].Message.Text)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	s, d := newTestServer()

	code, _ := body(t, s, "POST", "/botTOKEN", `{not json`)
	assert.Equal(t, 400, code)
	assert.Empty(t, d.updates)
}

func TestWebhookWrongPath(t *testing.T) {
	s, d := newTestServer()

	code, _ := body(t, s, "POST", "/botOTHER", `{"update_id":1}`)
	assert.Equal(t, 404, code)
	assert.Empty(t, d.updates)
}

func TestNoWebhookWithoutDispatcher(t *testing.T) {
	s := New(Options{WebhookPath: "/botTOKEN"})
	code, _ := body(t, s, "POST", "/botTOKEN", `{"update_id":1}`)
	assert.Equal(t, 404, code)
}
