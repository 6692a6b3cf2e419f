package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebhookServer(t *testing.T, status int, got chan<- *http.Request, bodies chan<- []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- r
		bodies <- body
		w.WriteHeader(status)
	}))
	t.Cleanup(func() {
		srv.Client().CloseIdleConnections()
		srv.Close()
	})
	return srv
}

func testAlert() Alert {
	return Alert{
		ID:            "alert-1",
		IntegrationID: uuid.MustParse("6f1c2c55-4a4e-4b7e-9f57-1f0f3b7d2a10"),
		Provider:      "breeze",
		Type:          AlertTypeStatus,
		Severity:      SeverityHigh,
		Message:       "Integration error detected for breeze",
		Timestamp:     t0,
	}
}

func TestWebhookNotifier_Generic(t *testing.T) {
	got, bodies := make(chan *http.Request, 1), make(chan []byte, 1)
	srv := newWebhookServer(t, http.StatusNoContent, got, bodies)

	n := NewWebhookNotifier(srv.URL, WebhookFormatGeneric,
		WithWebhookClient(srv.Client()),
		WithWebhookHeader("Authorization", "Bearer hook-token"),
	)
	require.NoError(t, n.Notify(context.Background(), testAlert()))

	req := <-got
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "Bearer hook-token", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var decoded Alert
	require.NoError(t, json.Unmarshal(<-bodies, &decoded))
	assert.Equal(t, testAlert(), decoded)
	assert.Equal(t, "webhook:generic", n.Name())
}

func TestWebhookNotifier_Slack(t *testing.T) {
	got, bodies := make(chan *http.Request, 1), make(chan []byte, 1)
	srv := newWebhookServer(t, http.StatusOK, got, bodies)

	n := NewWebhookNotifier(srv.URL, WebhookFormatSlack, WithWebhookClient(srv.Client()))
	require.NoError(t, n.Notify(context.Background(), testAlert()))
	<-got

	var msg map[string]any
	require.NoError(t, json.Unmarshal(<-bodies, &msg))
	assert.Equal(t, "Integration alert (status, high): Integration error detected for breeze", msg["text"])
	assert.Len(t, msg["blocks"], 3)
}

func TestWebhookNotifier_FailureStatus(t *testing.T) {
	got, bodies := make(chan *http.Request, 1), make(chan []byte, 1)
	srv := newWebhookServer(t, http.StatusBadGateway, got, bodies)

	n := NewWebhookNotifier(srv.URL, "teams", WithWebhookClient(srv.Client()))
	err := n.Notify(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.Equal(t, "webhook:generic", n.Name(), "unknown formats fall back to generic")
}
