package chms

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// RateLimit is a provider's published request allowance
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
}

var defaultRateLimit = RateLimit{MaxRequests: 60, Window: time.Minute}

var providerRateLimits = map[string]RateLimit{
	integration.ProviderPlanningCenter: {MaxRequests: 100, Window: 20 * time.Second},
	integration.ProviderCCB:            {MaxRequests: 100, Window: time.Minute},
	integration.ProviderBreeze:         {MaxRequests: 150, Window: time.Minute},
}

// RateLimitFor returns the allowance for a provider, falling back to 60 per minute
func RateLimitFor(providerID string) RateLimit {
	if rl, ok := providerRateLimits[providerID]; ok {
		return rl
	}
	return defaultRateLimit
}

// NewLimiter builds a token bucket that spreads the allowance evenly over the
// window and permits a burst of the full allowance.
func (rl RateLimit) NewLimiter() *rate.Limiter {
	if rl.MaxRequests <= 0 || rl.Window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(rl.Window/time.Duration(rl.MaxRequests)), rl.MaxRequests)
}
