package chms

import (
	"net/url"
	"strings"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// BreezeAPIURL is the default Breeze ChMS API endpoint
const BreezeAPIURL = "https://api.breezechms.com/api"

// BreezeConfig holds credentials for the Breeze API
type BreezeConfig struct {
	APIKey     string
	APIBaseURL string
}

// NewBreezeConfig reads credentials (apiKey, apiUrl)
func NewBreezeConfig(c integration.Credentials) *BreezeConfig {
	return &BreezeConfig{
		APIKey:     c.Get("apiKey"),
		APIBaseURL: c.Get("apiUrl"),
	}
}

// Validate checks required fields and applies defaults
func (c *BreezeConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return integration.NewConfigurationError(integration.ProviderBreeze, "api key is required", nil)
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = BreezeAPIURL
	}
	return requireHTTPS(integration.ProviderBreeze, "api url", c.APIBaseURL)
}

// BreezeAdapter implements ProviderAdapter for Breeze ChMS. Breeze
// authenticates every request with a static Api-Key header.
type BreezeAdapter struct {
	*baseAdapter
}

var _ integration.ProviderAdapter = (*BreezeAdapter)(nil)

// NewBreezeAdapter creates a Breeze adapter
func NewBreezeAdapter(cfg *BreezeConfig, opts Options) (*BreezeAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if err := checkEndpointHosts(integration.ProviderBreeze, opts.AllowedHosts, cfg.APIBaseURL); err != nil {
		return nil, err
	}

	eps := endpoints{
		people:        "/people",
		groups:        "/groups",
		events:        "/events",
		contributions: "/contributions",
		check:         "/people",
		checkQuery:    url.Values{"limit": {"1"}},
	}
	auth := NewStaticKeyAuth("Api-Key", cfg.APIKey)
	return &BreezeAdapter{
		baseAdapter: newBaseAdapter(integration.ProviderBreeze, cfg.APIBaseURL, auth, eps, decodeBreezeList, opts),
	}, nil
}

// decodeBreezeList flattens Breeze's person layout, which nests contact
// details under "details" and splits the address into top-level fields.
func decodeBreezeList(body []byte) ([]RawRecord, string, error) {
	records, next, err := decodeArrayOrEnvelope(body)
	if err != nil {
		return nil, "", err
	}
	for _, raw := range records {
		details, ok := raw["details"].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range details {
			if _, exists := raw[k]; !exists {
				raw[k] = v
			}
		}
	}
	return records, next, nil
}
