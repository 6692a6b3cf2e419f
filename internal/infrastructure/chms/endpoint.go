package chms

import (
	"net/url"
	"strings"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// providerHosts lists the hosts each provider serves its API and token
// endpoints from. A host matches itself and any subdomain, so per-church
// subdomains such as grace.ccbchurch.com are accepted.
var providerHosts = map[string][]string{
	integration.ProviderPlanningCenter: {"planningcenteronline.com"},
	integration.ProviderCCB:            {"ccbchurch.com"},
	integration.ProviderBreeze:         {"breezechms.com"},
	integration.ProviderFellowshipOne:  {"fellowshiponeapi.com"},
}

// requireHTTPS rejects tenant-supplied endpoints that are not absolute https URLs
func requireHTTPS(provider, field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return integration.NewConfigurationError(provider, field+" is not a valid URL", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return integration.NewConfigurationError(provider, field+" must be an https URL", nil)
	}
	if u.User != nil {
		return integration.NewConfigurationError(provider, field+" must not embed credentials", nil)
	}
	return nil
}

// checkEndpointHosts rejects endpoints outside the provider's known hosts and
// the operator-configured extras.
func checkEndpointHosts(provider string, extra []string, rawURLs ...string) error {
	allowed := append(append([]string{}, providerHosts[provider]...), extra...)
	for _, raw := range rawURLs {
		u, err := url.Parse(raw)
		if err != nil {
			return integration.NewConfigurationError(provider, "endpoint is not a valid URL", err)
		}
		if !hostAllowed(u.Hostname(), allowed) {
			return integration.NewConfigurationError(provider, "endpoint host "+u.Hostname()+" is not allowed", nil)
		}
	}
	return nil
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}
