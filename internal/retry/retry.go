// Package retry implements the one shared backoff policy
// {max_attempts, base_delay, jitter} consumed by the downloader and the
// uploader, so neither carries its own ad-hoc retry loop.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy is {max_attempts, base_delay, jitter} verbatim.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	JitterFrac  float64 // 0..1, fraction of the computed delay added as jitter
}

// Delay returns the exponential backoff delay for the given 1-indexed
// attempt, base * 2^(attempt-1), plus 0..JitterFrac of that value.
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.JitterFrac > 0 {
		base += base * p.JitterFrac * rand.Float64()
	}
	return time.Duration(base)
}

// Classifier decides whether an error observed on a given attempt is worth
// retrying. Callers supply one per remote system (HTTP status vs subprocess
// exit code vs network error) since "retryable" means different things to
// a downloader than to an aligner call.
type Classifier func(err error) bool

// Do runs fn up to p.MaxAttempts times, sleeping p.Delay between attempts,
// stopping early if ctx is cancelled or classify reports the error is not
// retryable. Returns the last error if every attempt is exhausted.
func Do(ctx context.Context, p Policy, classify Classifier, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if classify != nil && !classify(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return lastErr
}

// AlwaysRetryable treats every error as retryable; the uploader uses it for
// every sink error, with no transient/permanent distinction.
func AlwaysRetryable(error) bool { return true }
