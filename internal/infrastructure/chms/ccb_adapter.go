package chms

import (
	"net/url"
	"strings"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// CCBAPIURL is the default Church Community Builder API endpoint
const CCBAPIURL = "https://api.ccbchurch.com/api"

// CCBAuthMode selects how CCB credentials are presented
type CCBAuthMode string

const (
	// CCBAuthModeOAuth exchanges username/password for a bearer token (password grant)
	CCBAuthModeOAuth CCBAuthMode = "oauth"
	// CCBAuthModeBasic sends username:password as HTTP basic credentials
	CCBAuthModeBasic CCBAuthMode = "basic"
)

// CCBConfig holds credentials for the Church Community Builder API
type CCBConfig struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	APIBaseURL   string
	AuthMode     CCBAuthMode
}

// NewCCBConfig reads credentials (clientId, clientSecret, username, password, apiUrl, authMode)
func NewCCBConfig(c integration.Credentials) *CCBConfig {
	return &CCBConfig{
		ClientID:     c.Get("clientId"),
		ClientSecret: c.Get("clientSecret"),
		Username:     c.Get("username"),
		Password:     c.Get("password"),
		APIBaseURL:   c.Get("apiUrl"),
		AuthMode:     CCBAuthMode(strings.ToLower(c.Get("authMode"))),
	}
}

// Validate checks required fields and applies defaults
func (c *CCBConfig) Validate() error {
	if c.AuthMode == "" {
		c.AuthMode = CCBAuthModeOAuth
	}
	if c.AuthMode != CCBAuthModeOAuth && c.AuthMode != CCBAuthModeBasic {
		return integration.NewConfigurationError(integration.ProviderCCB, "unsupported auth mode "+string(c.AuthMode), nil)
	}
	if c.Username == "" || c.Password == "" {
		return integration.NewConfigurationError(integration.ProviderCCB, "username and password are required", nil)
	}
	if c.AuthMode == CCBAuthModeOAuth && (c.ClientID == "" || c.ClientSecret == "") {
		return integration.NewConfigurationError(integration.ProviderCCB, "client id and client secret are required", nil)
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = CCBAPIURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	return requireHTTPS(integration.ProviderCCB, "api url", c.APIBaseURL)
}

// TokenURL returns the password grant endpoint
func (c *CCBConfig) TokenURL() string {
	return c.APIBaseURL + "/oauth/token"
}

// CCBAdapter implements ProviderAdapter for Church Community Builder
type CCBAdapter struct {
	*baseAdapter
}

var _ integration.ProviderAdapter = (*CCBAdapter)(nil)

// NewCCBAdapter creates an adapter using the configured auth mode
func NewCCBAdapter(cfg *CCBConfig, opts Options) (*CCBAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if err := checkEndpointHosts(integration.ProviderCCB, opts.AllowedHosts, cfg.APIBaseURL); err != nil {
		return nil, err
	}

	var auth AuthStrategy
	switch cfg.AuthMode {
	case CCBAuthModeBasic:
		auth = NewBasicAuth(cfg.Username, cfg.Password)
	default:
		auth = NewOAuthAuth(integration.ProviderCCB, OAuthConfig{
			TokenURL:     cfg.TokenURL(),
			Grant:        GrantPassword,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Username:     cfg.Username,
			Password:     cfg.Password,
		}, opts.HTTPClient, tokenRetrier(integration.ProviderCCB, opts))
	}

	eps := endpoints{
		people:        "/individuals",
		groups:        "/groups",
		events:        "/events",
		contributions: "/contributions",
		check:         "/individuals",
		checkQuery:    url.Values{"per_page": {"1"}},
	}
	return &CCBAdapter{
		baseAdapter: newBaseAdapter(integration.ProviderCCB, cfg.APIBaseURL, auth, eps, decodeArrayOrEnvelope, opts),
	}, nil
}
