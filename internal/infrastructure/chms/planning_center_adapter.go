package chms

import (
	"encoding/json"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

const (
	// PlanningCenterAPIURL is the production API endpoint
	PlanningCenterAPIURL = "https://api.planningcenteronline.com"
	// PlanningCenterTokenURL is the OAuth token endpoint
	PlanningCenterTokenURL = "https://api.planningcenteronline.com/oauth/token"
)

// PlanningCenterConfig holds credentials for the Planning Center API
type PlanningCenterConfig struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string
	TokenURL     string
}

// NewPlanningCenterConfig reads credentials (clientId, clientSecret, apiUrl, tokenUrl)
func NewPlanningCenterConfig(c integration.Credentials) *PlanningCenterConfig {
	return &PlanningCenterConfig{
		ClientID:     c.Get("clientId"),
		ClientSecret: c.Get("clientSecret"),
		APIBaseURL:   c.Get("apiUrl"),
		TokenURL:     c.Get("tokenUrl"),
	}
}

// Validate checks required fields and applies defaults
func (c *PlanningCenterConfig) Validate() error {
	if c.ClientID == "" {
		return integration.NewConfigurationError(integration.ProviderPlanningCenter, "client id is required", nil)
	}
	if c.ClientSecret == "" {
		return integration.NewConfigurationError(integration.ProviderPlanningCenter, "client secret is required", nil)
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = PlanningCenterAPIURL
	}
	if c.TokenURL == "" {
		c.TokenURL = PlanningCenterTokenURL
	}
	if err := requireHTTPS(integration.ProviderPlanningCenter, "api url", c.APIBaseURL); err != nil {
		return err
	}
	return requireHTTPS(integration.ProviderPlanningCenter, "token url", c.TokenURL)
}

// PlanningCenterAdapter implements ProviderAdapter for Planning Center Online.
// Responses follow JSON:API: records live under data[].attributes and pages
// are linked through links.next.
type PlanningCenterAdapter struct {
	*baseAdapter
}

var _ integration.ProviderAdapter = (*PlanningCenterAdapter)(nil)

// NewPlanningCenterAdapter creates an adapter with its own OAuth token cache
func NewPlanningCenterAdapter(cfg *PlanningCenterConfig, opts Options) (*PlanningCenterAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if err := checkEndpointHosts(integration.ProviderPlanningCenter, opts.AllowedHosts, cfg.APIBaseURL, cfg.TokenURL); err != nil {
		return nil, err
	}

	auth := NewOAuthAuth(integration.ProviderPlanningCenter, OAuthConfig{
		TokenURL:     cfg.TokenURL,
		Grant:        GrantClientCredentials,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, opts.HTTPClient, tokenRetrier(integration.ProviderPlanningCenter, opts))

	eps := endpoints{
		people:        "/people/v2/people",
		groups:        "/groups/v2/groups",
		events:        "/calendar/v2/events",
		contributions: "/giving/v2/donations",
		check:         "/people/v2/people",
		checkQuery:    url.Values{"per_page": {"1"}},
	}
	return &PlanningCenterAdapter{
		baseAdapter: newBaseAdapter(integration.ProviderPlanningCenter, cfg.APIBaseURL, auth, eps, decodePlanningCenterList, opts),
	}, nil
}

// planningCenterResource is one JSON:API resource object
type planningCenterResource struct {
	ID            string                               `json:"id"`
	Type          string                               `json:"type"`
	Attributes    map[string]any                       `json:"attributes"`
	Relationships map[string]planningCenterRelationship `json:"relationships"`
}

type planningCenterRelationship struct {
	Data json.RawMessage `json:"data"`
}

type planningCenterList struct {
	Data  []planningCenterResource `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

// decodePlanningCenterList flattens JSON:API resources into raw records.
// To-one relationships become <name>_id fields and amount_cents becomes amount.
func decodePlanningCenterList(body []byte) ([]RawRecord, string, error) {
	var list planningCenterList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, "", err
	}
	if list.Data == nil {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, "", err
		}
		return nil, "", listFailure(envelope)
	}

	records := make([]RawRecord, 0, len(list.Data))
	for _, res := range list.Data {
		raw := RawRecord{}
		for k, v := range res.Attributes {
			raw[k] = v
		}
		raw["id"] = res.ID

		for name, rel := range res.Relationships {
			var one struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(rel.Data, &one) == nil && one.ID != "" {
				raw[name+"_id"] = one.ID
			}
		}

		if cents, ok := raw["amount_cents"].(float64); ok {
			raw["amount"] = decimal.NewFromFloat(cents).Shift(-2).String()
		}
		records = append(records, raw)
	}
	return records, list.Links.Next, nil
}

// tokenRetrier builds the retrier used for token endpoint calls
func tokenRetrier(provider string, opts Options) *Retrier {
	retryOpts := []RetrierOption{WithRetryProvider(provider), WithRetryLogger(opts.Logger)}
	if opts.Sleeper != nil {
		retryOpts = append(retryOpts, WithSleeper(opts.Sleeper))
	}
	return NewRetrier(opts.RetryPolicy, retryOpts...)
}
