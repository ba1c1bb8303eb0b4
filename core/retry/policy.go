// Package retry provides the bounded retry policy injected into the answer
// gate and the ticket assembler.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const minBackoff = time.Millisecond

// Policy bounds how often and how quickly a failing collaborator call is
// repeated. The zero value performs a single attempt.
type Policy struct {
	// MaxRetries is the number of attempts made after the first one.
	MaxRetries uint64
	// Backoff is the wait before the first retry.
	Backoff time.Duration
	// MaxBackoff caps the wait between retries. Zero leaves it uncapped.
	MaxBackoff time.Duration
	// Exponential doubles the wait after every retry.
	Exponential bool
	// JitterPercent randomizes every wait by up to this share.
	JitterPercent uint64
}

// Attempts returns the total number of calls the policy allows.
func (p Policy) Attempts() uint64 { return p.MaxRetries + 1 }

func (p Policy) backoff() goretry.Backoff {
	base := max(p.Backoff, minBackoff)

	var b goretry.Backoff
	if p.Exponential {
		b = goretry.NewExponential(base)
	} else {
		b = goretry.NewConstant(base)
	}
	if p.JitterPercent > 0 {
		b = goretry.WithJitterPercent(p.JitterPercent, b)
	}
	if p.MaxBackoff > 0 {
		b = goretry.WithCappedDuration(p.MaxBackoff, b)
	}
	return goretry.WithMaxRetries(p.MaxRetries, b)
}

// Do calls fn until it succeeds, returns an error retryable rejects, the
// retry budget runs out, or ctx is done. attempt starts at 1. The last error
// from fn is returned on exhaustion.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error, retryable func(error) bool) error {
	attempt := 0
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if retryable == nil || retryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}

// Always treats every error as retryable.
func Always(error) bool { return true }
