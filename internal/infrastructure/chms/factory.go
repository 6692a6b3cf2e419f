package chms

import (
	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// Factory builds a fresh ProviderAdapter per call. This is the single point
// where a provider id is turned into a concrete adapter type.
type Factory struct {
	opts Options
}

var _ integration.AdapterFactory = (*Factory)(nil)

// NewFactory creates an adapter factory sharing opts across adapters.
// Only stateless collaborators (HTTP client, logger, policy) are shared;
// token caches and rate limiters are created per adapter.
func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts.withDefaults()}
}

// NewAdapter implements integration.AdapterFactory
func (f *Factory) NewAdapter(providerID string, creds integration.Credentials) (integration.ProviderAdapter, error) {
	var (
		adapter integration.ProviderAdapter
		err     error
	)
	switch providerID {
	case integration.ProviderPlanningCenter:
		adapter, err = asAdapter(NewPlanningCenterAdapter(NewPlanningCenterConfig(creds), f.opts))
	case integration.ProviderCCB:
		adapter, err = asAdapter(NewCCBAdapter(NewCCBConfig(creds), f.opts))
	case integration.ProviderBreeze:
		adapter, err = asAdapter(NewBreezeAdapter(NewBreezeConfig(creds), f.opts))
	case integration.ProviderFellowshipOne:
		adapter, err = asAdapter(NewFellowshipOneAdapter(NewFellowshipOneConfig(creds), f.opts))
	default:
		return nil, integration.ErrUnknownProvider
	}
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// asAdapter avoids wrapping a typed nil pointer in the interface
func asAdapter[T integration.ProviderAdapter](a T, err error) (integration.ProviderAdapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}
