package chms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// maxResponseSize is the maximum allowed response size from a provider API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// defaultTimeoutSeconds is the per-request HTTP timeout when none is configured
const defaultTimeoutSeconds = 30

// NewHTTPClient returns an HTTP client whose transport emits client spans
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// apiClient issues authenticated REST calls for one adapter instance.
// Every call is rate limited, retried by the Retrier, and classified.
type apiClient struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	auth       AuthStrategy
	retrier    *Retrier
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// tokenRefresher is implemented by auth strategies that cache a credential
// which the provider may revoke before its reported expiry.
type tokenRefresher interface {
	Invalidate()
}

// rejectedTokenError marks a 401 returned by the API itself, as opposed to
// a failure at the token endpoint.
type rejectedTokenError struct {
	err error
}

func (e *rejectedTokenError) Error() string { return e.err.Error() }
func (e *rejectedTokenError) Unwrap() error { return e.err }

// get fetches an absolute URL through the retrier. When the provider rejects
// a cached token, the token is dropped and the request is sent once more.
func (c *apiClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	body, err := c.getWithRetry(ctx, rawURL)
	var rejected *rejectedTokenError
	if !errors.As(err, &rejected) {
		return body, err
	}
	refresher, ok := c.auth.(tokenRefresher)
	if !ok {
		return nil, rejected.err
	}

	c.logger.Info("Provider rejected the cached token, requesting a new one")
	refresher.Invalidate()
	body, err = c.getWithRetry(ctx, rawURL)
	if errors.As(err, &rejected) {
		return nil, rejected.err
	}
	return body, err
}

func (c *apiClient) getWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	return Retry(ctx, c.retrier, func(ctx context.Context) ([]byte, error) {
		return c.doOnce(ctx, http.MethodGet, rawURL, nil)
	})
}

// resolve joins the base URL, path and query
func (c *apiClient) resolve(path string, query url.Values) string {
	u := strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		if strings.Contains(u, "?") {
			u += "&" + query.Encode()
		} else {
			u += "?" + query.Encode()
		}
	}
	return u
}

// doOnce performs a single attempt
func (c *apiClient) doOnce(ctx context.Context, method, rawURL string, payload any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, integration.NewRateLimitError(c.provider, "local rate limit wait aborted", err)
		}
	}

	headers, err := c.auth.AuthHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, integration.NewValidationError(c.provider, "failed to encode request", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, integration.NewConfigurationError(c.provider, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	body, err := doHTTP(c.httpClient, req, c.provider)
	var status *statusError
	if errors.As(err, &status) && status.code == http.StatusUnauthorized {
		return nil, &rejectedTokenError{err: err}
	}
	return body, err
}

// statusError is the HTTP status behind a classified provider failure
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("HTTP %d", e.code) }

// doHTTP executes req, enforces the response size limit, and classifies failures
func doHTTP(client *http.Client, req *http.Request, provider string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, integration.NewSyncError(provider, "provider unavailable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, integration.NewSyncError(provider, "failed to read response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(provider, resp.StatusCode, body)
	}
	return body, nil
}

// classifyStatus maps an HTTP failure status into the error taxonomy
func classifyStatus(provider string, status int, body []byte) error {
	detail := errorDetail(body)
	cause := &statusError{code: status}
	msg := func(def string) string {
		if detail != "" {
			return def + ": " + detail
		}
		return def
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return integration.NewAuthenticationError(provider, msg("invalid or expired credentials"), cause)
	case status == http.StatusTooManyRequests:
		return integration.NewRateLimitError(provider, msg("rate limit exceeded"), cause)
	case status == http.StatusNotFound:
		return integration.NewNotFoundError(provider, msg("resource not found"), cause)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return integration.NewValidationError(provider, msg("request rejected"), cause)
	default:
		return integration.NewSyncError(provider, msg(fmt.Sprintf("provider error (HTTP %d)", status)), cause)
	}
}

// errorDetail extracts a human-readable message from common error payloads
func errorDetail(body []byte) string {
	var payload struct {
		Message          string `json:"message"`
		Error            any    `json:"error"`
		ErrorDescription string `json:"error_description"`
		Errors           []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return ""
	}
	switch {
	case payload.ErrorDescription != "":
		return payload.ErrorDescription
	case payload.Message != "":
		return payload.Message
	case len(payload.Errors) > 0:
		if payload.Errors[0].Detail != "" {
			return payload.Errors[0].Detail
		}
		return payload.Errors[0].Title
	}
	if s, ok := payload.Error.(string); ok {
		return s
	}
	return ""
}
