package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WebhookFormat selects the request body sent by a WebhookNotifier
type WebhookFormat string

const (
	// WebhookFormatGeneric posts the Alert as JSON
	WebhookFormatGeneric WebhookFormat = "generic"
	// WebhookFormatSlack posts a Slack incoming-webhook message
	WebhookFormatSlack WebhookFormat = "slack"
)

// WebhookNotifier posts alerts to an operator-configured URL
type WebhookNotifier struct {
	url     string
	format  WebhookFormat
	headers http.Header
	client  *http.Client
}

var _ Notifier = (*WebhookNotifier)(nil)

// WebhookOption configures a WebhookNotifier
type WebhookOption func(*WebhookNotifier)

// WithWebhookHeader adds a header to every request, e.g. an auth token
func WithWebhookHeader(key, value string) WebhookOption {
	return func(n *WebhookNotifier) {
		n.headers.Add(key, value)
	}
}

// WithWebhookClient overrides the HTTP client
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(n *WebhookNotifier) {
		n.client = c
	}
}

// NewWebhookNotifier creates a webhook notifier. Unknown formats fall back to generic.
func NewWebhookNotifier(url string, format WebhookFormat, opts ...WebhookOption) *WebhookNotifier {
	if format != WebhookFormatSlack {
		format = WebhookFormatGeneric
	}
	n := &WebhookNotifier{
		url:     url,
		format:  format,
		headers: http.Header{},
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements Notifier
func (n *WebhookNotifier) Name() string { return "webhook:" + string(n.format) }

// Notify implements Notifier
func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(n.payload(alert))
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range n.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded HTTP %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) payload(alert Alert) any {
	if n.format != WebhookFormatSlack {
		return alert
	}
	return map[string]any{
		"text": fmt.Sprintf("Integration alert (%s, %s): %s", alert.Type, alert.Severity, alert.Message),
		"blocks": []map[string]any{
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": "*Integration:*\n" + alert.IntegrationID.String()},
					{"type": "mrkdwn", "text": "*Severity:*\n" + string(alert.Severity)},
				},
			},
			{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": "*Message:*\n" + alert.Message},
			},
			{
				"type": "context",
				"elements": []map[string]string{
					{"type": "mrkdwn", "text": alert.Timestamp.UTC().Format(time.RFC3339)},
				},
			},
		},
	}
}
