package chms

import (
	"net/url"
	"strings"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// FellowshipOneAPIURL is the default FellowshipOne API endpoint
const FellowshipOneAPIURL = "https://api.fellowshiponeapi.com/v1"

// FellowshipOneConfig holds credentials for the FellowshipOne API
type FellowshipOneConfig struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string
	TokenURL     string
}

// NewFellowshipOneConfig reads credentials (clientId, clientSecret, apiUrl, tokenUrl)
func NewFellowshipOneConfig(c integration.Credentials) *FellowshipOneConfig {
	return &FellowshipOneConfig{
		ClientID:     c.Get("clientId"),
		ClientSecret: c.Get("clientSecret"),
		APIBaseURL:   c.Get("apiUrl"),
		TokenURL:     c.Get("tokenUrl"),
	}
}

// Validate checks required fields and applies defaults
func (c *FellowshipOneConfig) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return integration.NewConfigurationError(integration.ProviderFellowshipOne, "client id and client secret are required", nil)
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = FellowshipOneAPIURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.TokenURL == "" {
		c.TokenURL = c.APIBaseURL + "/oauth/token"
	}
	if err := requireHTTPS(integration.ProviderFellowshipOne, "api url", c.APIBaseURL); err != nil {
		return err
	}
	return requireHTTPS(integration.ProviderFellowshipOne, "token url", c.TokenURL)
}

// FellowshipOneAdapter implements ProviderAdapter for FellowshipOne.
// Payloads use camelCase field names (firstName, startDate, personId).
type FellowshipOneAdapter struct {
	*baseAdapter
}

var _ integration.ProviderAdapter = (*FellowshipOneAdapter)(nil)

// NewFellowshipOneAdapter creates an adapter with its own OAuth token cache
func NewFellowshipOneAdapter(cfg *FellowshipOneConfig, opts Options) (*FellowshipOneAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if err := checkEndpointHosts(integration.ProviderFellowshipOne, opts.AllowedHosts, cfg.APIBaseURL, cfg.TokenURL); err != nil {
		return nil, err
	}

	auth := NewOAuthAuth(integration.ProviderFellowshipOne, OAuthConfig{
		TokenURL:     cfg.TokenURL,
		Grant:        GrantClientCredentials,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, opts.HTTPClient, tokenRetrier(integration.ProviderFellowshipOne, opts))

	eps := endpoints{
		people:        "/people",
		groups:        "/groups",
		events:        "/events",
		contributions: "/contributions",
		check:         "/people",
		checkQuery:    url.Values{"pageSize": {"1"}},
	}
	return &FellowshipOneAdapter{
		baseAdapter: newBaseAdapter(integration.ProviderFellowshipOne, cfg.APIBaseURL, auth, eps, decodeArrayOrEnvelope, opts),
	}, nil
}
