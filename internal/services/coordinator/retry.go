package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
)

// errInterrupted is returned by Execute when the stop context ends between attempts
var errInterrupted = errors.New("interrupted between attempts")

// permanentError marks an error that must not be retried
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Execute returns it without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryPolicy defines per-item retry behavior with exponential backoff
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewRetryPolicy builds a policy from coordinator configuration.
// max_retry_per_item is the total number of attempts; zero still allows one.
func NewRetryPolicy(config *common.CoordinatorConfig) RetryPolicy {
	multiplier := config.RetryMultiplier
	if multiplier < 1 {
		multiplier = 2.0
	}
	return RetryPolicy{
		MaxAttempts:       max(1, config.MaxRetryPerItem),
		InitialBackoff:    common.ParseDuration(config.RetryInitialBackoff, time.Second),
		MaxBackoff:        common.ParseDuration(config.RetryMaxBackoff, 30*time.Second),
		BackoffMultiplier: multiplier,
	}
}

// CalculateBackoff returns the wait before the attempt following attempt (1-based), with ±25% jitter
func (p RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}

	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if p.MaxBackoff > 0 && backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter
	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}

	return time.Duration(backoff)
}

// Execute runs fn until it succeeds, returns a fatal or permanent error, or attempts run out.
// stop is only consulted between attempts; an attempt in flight always runs to completion.
// It returns the number of attempts made.
func (p RetryPolicy) Execute(stop context.Context, logger arbor.ILogger, fn func(attempt int) error) (int, error) {
	maxAttempts := max(1, p.MaxAttempts)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return attempt, nil
		}

		var permanent *permanentError
		if errors.As(lastErr, &permanent) {
			return attempt, permanent.err
		}
		if interfaces.IsFatal(lastErr) {
			return attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		backoff := p.CalculateBackoff(attempt)
		logger.Debug().
			Int("attempt", attempt).
			Err(lastErr).
			Dur("backoff", backoff).
			Msg("Retrying after backoff")

		if err := wait(stop, backoff); err != nil {
			return attempt, fmt.Errorf("%w: %v", errInterrupted, lastErr)
		}
	}

	logger.Warn().
		Int("max_attempts", maxAttempts).
		Err(lastErr).
		Msg("All retry attempts exhausted")

	return maxAttempts, lastErr
}

func wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
