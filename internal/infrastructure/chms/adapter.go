package chms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// Options carries the collaborators shared by every adapter built by a Factory
type Options struct {
	HTTPClient  *http.Client
	RetryPolicy RetryPolicy
	Sleeper     Sleeper
	Logger      *zap.Logger
	// DisableRateLimit turns off the per-provider token bucket (tests)
	DisableRateLimit bool
	// AllowedHosts extends the per-provider endpoint host allowlist,
	// e.g. for a self-hosted CCB instance.
	AllowedHosts []string
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = NewHTTPClient(0)
	}
	if o.RetryPolicy == (RetryPolicy{}) {
		o.RetryPolicy = DefaultRetryPolicy()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// endpoints names the list path for each capability plus the credential check
type endpoints struct {
	people        string
	groups        string
	events        string
	contributions string
	check         string
	checkQuery    url.Values
}

// defaultMaxPages bounds one list walk. Reaching it fails the capability
// instead of returning a truncated list.
const defaultMaxPages = 10000

// listDecoder extracts raw records and an optional next-page URL from a response body
type listDecoder func(body []byte) (records []RawRecord, next string, err error)

// baseAdapter holds the mechanics common to every provider: one API client,
// one pipeline, capability endpoints and a payload decoder.
type baseAdapter struct {
	provider  string
	client    *apiClient
	pipeline  *Pipeline
	endpoints endpoints
	decode    listDecoder
	logger    *zap.Logger
	maxPages  int
}

func newBaseAdapter(provider, baseURL string, auth AuthStrategy, eps endpoints, decode listDecoder, opts Options) *baseAdapter {
	opts = opts.withDefaults()
	logger := opts.Logger.With(zap.String("provider", provider))

	retryOpts := []RetrierOption{WithRetryProvider(provider), WithRetryLogger(logger)}
	if opts.Sleeper != nil {
		retryOpts = append(retryOpts, WithSleeper(opts.Sleeper))
	}

	client := &apiClient{
		provider:   provider,
		baseURL:    baseURL,
		httpClient: opts.HTTPClient,
		auth:       auth,
		retrier:    NewRetrier(opts.RetryPolicy, retryOpts...),
		logger:     logger,
	}
	if !opts.DisableRateLimit {
		client.limiter = RateLimitFor(provider).NewLimiter()
	}

	return &baseAdapter{
		provider:  provider,
		client:    client,
		pipeline:  NewPipeline(),
		endpoints: eps,
		decode:    decode,
		logger:    logger,
		maxPages:  defaultMaxPages,
	}
}

// ProviderID implements integration.ProviderAdapter
func (a *baseAdapter) ProviderID() string {
	return a.provider
}

// fetchAll walks pages starting at path until the decoder reports no next page.
// A next link that was already visited, or a walk longer than maxPages, is a
// sync error; a partial list is never returned.
func (a *baseAdapter) fetchAll(ctx context.Context, path string) ([]RawRecord, error) {
	var all []RawRecord
	next := a.client.resolve(path, nil)
	visited := make(map[string]struct{})
	for page := 0; next != ""; page++ {
		if page >= a.maxPages {
			return nil, integration.NewSyncError(a.provider,
				fmt.Sprintf("pagination exceeded %d pages", a.maxPages), nil)
		}
		if _, seen := visited[next]; seen {
			return nil, integration.NewSyncError(a.provider, "pagination loop detected", nil)
		}
		visited[next] = struct{}{}

		body, err := a.client.get(ctx, next)
		if err != nil {
			return nil, err
		}
		records, nextURL, err := a.decode(body)
		if err != nil {
			return nil, integration.NewValidationError(a.provider, "unexpected response shape: "+err.Error(), err)
		}
		all = append(all, records...)
		next = nextURL
	}
	return all, nil
}

// syncList fetches a capability's raw list, transforms every record, and logs
// invalid ones without dropping them.
func syncList[T any](
	ctx context.Context,
	a *baseAdapter,
	capability integration.Capability,
	path string,
	process func(RawRecord) (T, ValidationResult),
) (*integration.SyncResult, error) {
	raws, err := a.fetchAll(ctx, path)
	if err != nil {
		a.logger.Error("Failed to sync capability",
			zap.String("capability", capability.String()),
			zap.Error(err),
		)
		return nil, err
	}

	records := make([]T, 0, len(raws))
	invalid := 0
	for _, raw := range raws {
		record, verdict := process(raw)
		if !verdict.IsValid {
			invalid++
			a.logger.Warn("Invalid record from provider",
				zap.String("capability", capability.String()),
				zap.String("external_id", str(raw, "id")),
				zap.Strings("errors", verdict.Errors),
			)
		}
		records = append(records, record)
	}

	a.logger.Info("Synced capability",
		zap.String("capability", capability.String()),
		zap.Int("count", len(records)),
		zap.Int("invalid", invalid),
	)
	return integration.NewSyncResult(capability, records, invalid), nil
}

// SyncPeople implements integration.ProviderAdapter
func (a *baseAdapter) SyncPeople(ctx context.Context) (*integration.SyncResult, error) {
	return syncList(ctx, a, integration.CapabilityPeople, a.endpoints.people, a.pipeline.Person)
}

// SyncGroups implements integration.ProviderAdapter
func (a *baseAdapter) SyncGroups(ctx context.Context) (*integration.SyncResult, error) {
	return syncList(ctx, a, integration.CapabilityGroups, a.endpoints.groups, a.pipeline.Group)
}

// SyncEvents implements integration.ProviderAdapter
func (a *baseAdapter) SyncEvents(ctx context.Context) (*integration.SyncResult, error) {
	return syncList(ctx, a, integration.CapabilityEvents, a.endpoints.events, a.pipeline.Event)
}

// SyncContributions implements integration.ProviderAdapter
func (a *baseAdapter) SyncContributions(ctx context.Context) (*integration.SyncResult, error) {
	return syncList(ctx, a, integration.CapabilityContributions, a.endpoints.contributions, a.pipeline.Contribution)
}

// ValidateCredentials implements integration.ProviderAdapter with a one-record
// list call. The body must decode as a record list, so a 200 that reports a
// failure in its payload does not pass.
func (a *baseAdapter) ValidateCredentials(ctx context.Context) error {
	body, err := a.client.get(ctx, a.client.resolve(a.endpoints.check, a.endpoints.checkQuery))
	if err != nil {
		return err
	}
	if _, _, err := a.decode(body); err != nil {
		return integration.NewValidationError(a.provider, "unexpected response shape: "+err.Error(), err)
	}
	return nil
}

// GetIntegrationStatus implements integration.ProviderAdapter. Check failures
// are reported in the status rather than returned.
func (a *baseAdapter) GetIntegrationStatus(ctx context.Context) (*integration.ProviderStatus, error) {
	status := &integration.ProviderStatus{Status: integration.ProviderHealthActive, LastSync: time.Time{}}
	if err := a.ValidateCredentials(ctx); err != nil {
		status.Status = integration.ProviderHealthError
		status.Error = err.Error()
	}
	return status, nil
}

// ---------------------------------------------------------------------------
// payload decoders
// ---------------------------------------------------------------------------

// errNoRecordList is returned for a JSON object that carries no list
var errNoRecordList = errors.New("response has no record list")

// decodeArrayOrEnvelope accepts a bare JSON array or an object wrapping the
// list under one of the common envelope keys. An object without a list is an
// error, reported with the provider's own failure message when it sent one.
func decodeArrayOrEnvelope(body []byte) ([]RawRecord, string, error) {
	var list []RawRecord
	if err := json.Unmarshal(body, &list); err == nil {
		return list, "", nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, "", err
	}
	for _, key := range []string{"data", "results", "items", "records"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, "", err
		}
		return list, "", nil
	}
	return nil, "", listFailure(envelope)
}

// listFailure explains an object response that carried no record list
func listFailure(envelope map[string]json.RawMessage) error {
	if msg := envelopeFailure(envelope); msg != "" {
		return fmt.Errorf("provider reported failure: %s", msg)
	}
	return errNoRecordList
}

// envelopeFailure reads the error fields of a 200 response that reports a failure,
// such as Breeze's {"success":false,"errors":["..."]}.
func envelopeFailure(envelope map[string]json.RawMessage) string {
	var messages []string
	if raw, ok := envelope["errors"]; ok {
		var items []json.RawMessage
		if json.Unmarshal(raw, &items) == nil {
			for _, item := range items {
				var text string
				if json.Unmarshal(item, &text) == nil {
					messages = append(messages, text)
					continue
				}
				var obj struct {
					Message string `json:"message"`
					Detail  string `json:"detail"`
					Title   string `json:"title"`
				}
				if json.Unmarshal(item, &obj) == nil {
					for _, s := range []string{obj.Message, obj.Detail, obj.Title} {
						if s != "" {
							messages = append(messages, s)
							break
						}
					}
				}
			}
		}
	}
	if raw, ok := envelope["error"]; ok {
		var text string
		if json.Unmarshal(raw, &text) == nil && text != "" {
			messages = append(messages, text)
		}
	}
	if len(messages) > 0 {
		return strings.Join(messages, "; ")
	}

	var success bool
	if raw, ok := envelope["success"]; ok && json.Unmarshal(raw, &success) == nil && !success {
		return "request was not successful"
	}
	return ""
}
