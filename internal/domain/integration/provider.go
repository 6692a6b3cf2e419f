package integration

import (
	"context"
	"encoding/json"
	"slices"
)

// ---------------------------------------------------------------------------
// ProviderAdapter Port Interface
// ---------------------------------------------------------------------------

// ProviderAdapter defines the contract every external ChMS adapter implements.
// An adapter instance is owned by exactly one sync invocation and holds its
// own token cache; it is never shared across tenants.
type ProviderAdapter interface {
	// ProviderID returns the registry id of the provider
	ProviderID() string

	// SyncPeople fetches and normalizes person records
	SyncPeople(ctx context.Context) (*SyncResult, error)

	// SyncGroups fetches and normalizes group records
	SyncGroups(ctx context.Context) (*SyncResult, error)

	// SyncEvents fetches and normalizes event records
	SyncEvents(ctx context.Context) (*SyncResult, error)

	// SyncContributions fetches and normalizes contribution records
	SyncContributions(ctx context.Context) (*SyncResult, error)

	// ValidateCredentials performs a cheap authenticated read and returns a
	// classified error if the credentials are unusable
	ValidateCredentials(ctx context.Context) error

	// GetIntegrationStatus checks the provider without mutating persisted state
	GetIntegrationStatus(ctx context.Context) (*ProviderStatus, error)
}

// SyncCapability dispatches one capability to the matching adapter method
func SyncCapability(ctx context.Context, adapter ProviderAdapter, c Capability) (*SyncResult, error) {
	switch c {
	case CapabilityPeople:
		return adapter.SyncPeople(ctx)
	case CapabilityGroups:
		return adapter.SyncGroups(ctx)
	case CapabilityEvents:
		return adapter.SyncEvents(ctx)
	case CapabilityContributions:
		return adapter.SyncContributions(ctx)
	default:
		return nil, ErrUnsupportedCapability
	}
}

// Credentials is the decrypted credential object for one provider.
// Keys are provider specific (apiKey, clientId, clientSecret, username, password, apiUrl, ...).
type Credentials map[string]string

// Get returns a credential value or the empty string
func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// MarshalCredentials serializes credentials for encryption
func MarshalCredentials(c Credentials) ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalCredentials parses decrypted credentials
func UnmarshalCredentials(data []byte) (Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return c, nil
}

// AdapterFactory builds a fresh adapter for a provider from decrypted credentials.
// It returns ErrUnknownProvider for ids with no adapter, and a configuration
// error when required credential fields are missing.
type AdapterFactory interface {
	NewAdapter(providerID string, credentials Credentials) (ProviderAdapter, error)
}

// CredentialCipher encrypts credential blobs at rest
type CredentialCipher interface {
	EncryptAuthData(plain []byte) (string, error)
	DecryptAuthData(opaque string) ([]byte, error)
}

// ---------------------------------------------------------------------------
// Provider catalog
// ---------------------------------------------------------------------------

// AuthType is the authentication scheme a provider uses
type AuthType string

const (
	AuthTypeOAuth       AuthType = "oauth"
	AuthTypeAPIKey      AuthType = "apikey"
	AuthTypeCredentials AuthType = "credentials"
)

// Tier is the minimum subscription tier that may connect a provider
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// rank orders tiers from lowest to highest
func (t Tier) rank() int {
	switch t {
	case TierBasic:
		return 1
	case TierPro:
		return 2
	case TierEnterprise:
		return 3
	default:
		return 0
	}
}

// Allows returns true if a tenant on tier t may use a provider requiring min
func (t Tier) Allows(min Tier) bool {
	return t.rank() >= min.rank() && min.rank() > 0
}

// ProviderDefinition is an immutable registry entry
type ProviderDefinition struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Capabilities     []Capability `json:"capabilities"`
	MinimumTier      Tier         `json:"minimumTier"`
	AuthType         AuthType     `json:"authType"`
	DocumentationURL string       `json:"documentationUrl"`
}

// Supports returns true if the provider declares the capability
func (d ProviderDefinition) Supports(c Capability) bool {
	return slices.Contains(d.Capabilities, c)
}

// ProviderRegistry looks up provider definitions
type ProviderRegistry interface {
	Get(id string) (ProviderDefinition, bool)
	List() []ProviderDefinition
}
