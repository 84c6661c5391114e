// Package retry implements backoff policies for transient upload failures.
package retry

import (
	"context"
	"time"

	"git.home.luguber.info/inful/imbed/internal/config"
	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

// Policy holds retry/backoff settings. It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // retry attempts after the first failure
}

// DefaultPolicy returns exponential backoff from 1s capped at 30s with 3 retries.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffExponential, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 3}
}

// FromConfig builds a policy from the retry section; zero or invalid values
// fall back to defaults.
func FromConfig(c config.RetryConfig) Policy {
	p := DefaultPolicy()
	if c.MaxRetries >= 0 {
		p.MaxRetries = c.MaxRetries
	}
	if c.Initial > 0 {
		p.Initial = c.Initial
	}
	if c.Max > 0 {
		p.Max = c.Max
	}
	if mode := config.NormalizeRetryBackoff(string(c.Mode)); mode != "" {
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt (1-based).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case config.RetryBackoffFixed:
		d = p.Initial
	case config.RetryBackoffExponential:
		shift := retryCount - 1
		if shift > 30 {
			shift = 30
		}
		d = p.Initial * (1 << shift)
	default:
		d = time.Duration(retryCount) * p.Initial
	}
	if d > p.Max || d <= 0 {
		return p.Max
	}
	return d
}

// Validate ensures the policy can be applied.
func (p Policy) Validate() error {
	switch {
	case p.Initial <= 0:
		return ferrors.ValidationError("retry initial delay must be >0").Build()
	case p.Max <= 0:
		return ferrors.ValidationError("retry max delay must be >0").Build()
	case p.MaxRetries < 0:
		return ferrors.ValidationError("retry count cannot be negative").Build()
	}
	return nil
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// retries are exhausted or ctx is done. onRetry, when set, is called before
// each wait with the upcoming retry number and the error that caused it.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !ferrors.IsRetryable(err) || attempt >= p.MaxRetries {
			return err
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		timer := time.NewTimer(p.Delay(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "retry canceled").
				WithContext("last_error", err.Error()).
				Build()
		case <-timer.C:
		}
	}
}
