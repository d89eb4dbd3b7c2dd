package inference

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryPolicy controls how many times a call is repeated and how long to
// wait in between. Only failures classified as transient are retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  5 * time.Second,
		Multiplier: 2,
		MaxDelay:   time.Minute,
	}
}

func (p RetryPolicy) MaxAttempts() int {
	return max(p.MaxRetries, 0) + 1
}

// Delay is the wait before retry number n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(n-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// TotalBackoff is the minimum time spent waiting when every attempt fails.
func (p RetryPolicy) TotalBackoff() time.Duration {
	var total time.Duration
	for n := 1; n <= p.MaxRetries; n++ {
		total += p.Delay(n)
	}
	return total
}

// Do runs op until it succeeds, fails with a non-transient error or the
// attempts are exhausted. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, clock clockwork.Clock, op func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts()

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		if ctx.Err() != nil {
			return attempt, err
		}
		if !IsTransient(err) || attempt == maxAttempts {
			return attempt, err
		}

		delay := p.Delay(attempt)
		slog.Debug("Retrying after transient failure", "attempt", attempt, "max_attempts", maxAttempts, "delay", delay, "error", err)

		timer := clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.Chan():
		}
	}

	return maxAttempts, err
}
