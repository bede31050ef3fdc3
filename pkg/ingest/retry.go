package ingest

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/civiclens/mitds/pkg/model"
)

// RetryPolicy describes exponential backoff for transient failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Base       float64
}

// DefaultRetry is the policy adapters get unless a source overrides it:
// delays of 1s, 2s, 4s capped at 60s.
var DefaultRetry = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   60 * time.Second,
	Base:       2.0,
}

// Delay returns the wait before retry attempt n (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Base, float64(attempt)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retryable reports whether err is worth retrying: transient I/O and
// rate limiting retry, everything else fails fast.
func Retryable(err error) bool {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == model.CodeTransientIO || apiErr.Code == model.CodeRateLimited
	}
	// Unclassified errors from network plumbing count as transient.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do runs fn with the policy's backoff. A rate-limited error carrying a
// Retry-After hint waits that long instead of the computed delay, and
// the wait does not consume a retry.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempt := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}

		delay := p.Delay(attempt)
		consumed := true
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.CodeRateLimited && apiErr.RetryAfter > 0 {
			delay = apiErr.RetryAfter
			consumed = false
		}
		if consumed {
			if attempt >= p.MaxRetries {
				return err
			}
			attempt++
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
