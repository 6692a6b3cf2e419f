package integration

import "slices"

// Provider ids
const (
	ProviderPlanningCenter = "planning_center"
	ProviderCCB            = "ccb"
	ProviderBreeze         = "breeze"
	ProviderFellowshipOne  = "fellowship_one"
)

var allCapabilities = []Capability{
	CapabilityPeople,
	CapabilityGroups,
	CapabilityEvents,
	CapabilityContributions,
}

// builtinProviders is the versioned provider catalog. Adding a provider means
// adding an entry here and a matching adapter.
var builtinProviders = []ProviderDefinition{
	{
		ID:               ProviderPlanningCenter,
		Name:             "Planning Center",
		Capabilities:     allCapabilities,
		MinimumTier:      TierBasic,
		AuthType:         AuthTypeOAuth,
		DocumentationURL: "https://developer.planning.center/docs",
	},
	{
		ID:               ProviderCCB,
		Name:             "Church Community Builder",
		Capabilities:     allCapabilities,
		MinimumTier:      TierPro,
		AuthType:         AuthTypeCredentials,
		DocumentationURL: "https://designccb.s3.amazonaws.com/helpdesk/files/official_docs/api.html",
	},
	{
		ID:               ProviderBreeze,
		Name:             "Breeze ChMS",
		Capabilities:     allCapabilities,
		MinimumTier:      TierBasic,
		AuthType:         AuthTypeAPIKey,
		DocumentationURL: "https://app.breezechms.com/api",
	},
	{
		ID:               ProviderFellowshipOne,
		Name:             "FellowshipOne",
		Capabilities:     allCapabilities,
		MinimumTier:      TierPro,
		AuthType:         AuthTypeOAuth,
		DocumentationURL: "https://developer.fellowshipone.com/docs/",
	},
}

// StaticRegistry is an in-memory, read-only ProviderRegistry
type StaticRegistry struct {
	byID  map[string]ProviderDefinition
	order []string
}

var _ ProviderRegistry = (*StaticRegistry)(nil)

// NewStaticRegistry builds a registry from definitions. Later duplicates replace earlier ones.
func NewStaticRegistry(defs ...ProviderDefinition) *StaticRegistry {
	r := &StaticRegistry{byID: make(map[string]ProviderDefinition, len(defs))}
	for _, d := range defs {
		if _, exists := r.byID[d.ID]; !exists {
			r.order = append(r.order, d.ID)
		}
		d.Capabilities = slices.Clone(d.Capabilities)
		r.byID[d.ID] = d
	}
	return r
}

// DefaultRegistry returns the built-in provider catalog
func DefaultRegistry() *StaticRegistry {
	return NewStaticRegistry(builtinProviders...)
}

// Get returns the definition for id
func (r *StaticRegistry) Get(id string) (ProviderDefinition, bool) {
	d, ok := r.byID[id]
	if !ok {
		return ProviderDefinition{}, false
	}
	d.Capabilities = slices.Clone(d.Capabilities)
	return d, true
}

// List returns all definitions in registration order
func (r *StaticRegistry) List() []ProviderDefinition {
	out := make([]ProviderDefinition, 0, len(r.order))
	for _, id := range r.order {
		d, _ := r.Get(id)
		out = append(out, d)
	}
	return out
}

// ProvidersForTier returns the providers a tenant on tier may connect
func ProvidersForTier(r ProviderRegistry, tier Tier) []ProviderDefinition {
	var out []ProviderDefinition
	for _, d := range r.List() {
		if tier.Allows(d.MinimumTier) {
			out = append(out, d)
		}
	}
	return out
}
