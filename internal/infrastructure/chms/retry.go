package chms

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// RetryPolicy bounds how a single outbound call is retried.
// MaxRetries counts retries after the first attempt, so a call runs at most
// MaxRetries+1 times.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       float64 // randomization factor in [0, 1)
}

// DefaultRetryPolicy returns 3 retries starting at 1s, doubling, capped at 5s, with 10% jitter
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Factor:       2,
		Jitter:       0.1,
	}
}

// normalized fills zero fields with defaults
func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// contextSleep is the production Sleeper
func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier executes one outbound call with bounded, strictly sequential retries.
// Only retryable error kinds (rate limit, sync, unclassified network errors) are retried.
type Retrier struct {
	policy   RetryPolicy
	sleep    Sleeper
	logger   *zap.Logger
	provider string
}

// RetrierOption configures a Retrier
type RetrierOption func(*Retrier)

// WithSleeper replaces the backoff sleep, mainly for tests
func WithSleeper(s Sleeper) RetrierOption {
	return func(r *Retrier) {
		r.sleep = s
	}
}

// WithRetryLogger sets the logger used for retry diagnostics
func WithRetryLogger(logger *zap.Logger) RetrierOption {
	return func(r *Retrier) {
		r.logger = logger
	}
}

// WithRetryProvider tags errors and logs with the provider id
func WithRetryProvider(provider string) RetrierOption {
	return func(r *Retrier) {
		r.provider = provider
	}
}

// NewRetrier creates a Retrier for the given policy
func NewRetrier(policy RetryPolicy, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		policy: policy.normalized(),
		sleep:  contextSleep,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the effective policy
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// newBackOff builds the exponential schedule for one call
func (r *Retrier) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.policy.InitialDelay,
		RandomizationFactor: r.policy.Jitter,
		Multiplier:          r.policy.Factor,
		MaxInterval:         r.policy.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Do runs op until it succeeds, fails with a terminal error, or retries are exhausted.
// The returned error is always classified.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	b := r.newBackOff()
	var (
		lastErr   error
		lastDelay time.Duration
	)

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = integration.Classify(r.provider, err)

		if !integration.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == r.policy.MaxRetries {
			break
		}

		// Delays never shrink and never exceed MaxDelay, whatever the jitter.
		delay := b.NextBackOff()
		if delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
		if delay < lastDelay {
			delay = lastDelay
		}
		lastDelay = delay

		r.logger.Debug("Retrying provider call",
			zap.String("provider", r.provider),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", r.policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		if err := r.sleep(ctx, delay); err != nil {
			return integration.NewSyncError(r.provider, "retry aborted", errors.Join(err, lastErr))
		}
	}

	r.logger.Warn("Provider call failed after retries",
		zap.String("provider", r.provider),
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return lastErr
}

// Retry is the value-returning form of Retrier.Do
func Retry[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
