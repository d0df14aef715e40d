// Package retry provides the single retry-with-backoff helper shared by the
// lock service and the external provider client.
package retry

import (
	"context"
	"time"

	"github.com/facturio/invoicing-engine/shared/common"
)

// Policy describes bounded exponential backoff: the delay starts at
// InitialInterval, doubles by Multiplier per attempt and never exceeds
// MaxInterval. Attempts are bounded by MaxAttempts.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy matches the engine-wide defaults for external calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// FromConfig builds a Policy from shared retry configuration.
func FromConfig(cfg common.RetryConfig) Policy {
	p := Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 100 * time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay returns the backoff delay for a zero-based attempt number.
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.InitialInterval
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxInterval > 0 && delay >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && delay > p.MaxInterval {
		delay = p.MaxInterval
	}
	return delay
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or the
// context is cancelled. The last error is returned on exhaustion. A non
// retryable error aborts immediately.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !common.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}

	return lastErr
}
