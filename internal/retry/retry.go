// Package retry implements the single backoff policy shared by every
// provider call: exponential backoff with jitter, a bounded attempt budget,
// and provider-supplied retry-after hints.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Defaults for Policy fields left zero.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultMultiplier  = 2.0
	DefaultJitter      = 0.25
)

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// HintFunc extracts a server-suggested delay from an error.
type HintFunc func(error) (time.Duration, bool)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy is an immutable retry configuration. The zero value is usable and
// retries nothing until Retryable is set.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64

	Retryable  Classifier
	RetryAfter HintFunc
	Sleep      SleepFunc
	Logger     *slog.Logger
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. It returns the number of attempts made and the last error.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	p = p.withDefaults()

	var err error

	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}

		if p.Retryable == nil || !p.Retryable(err) {
			return attempt, err
		}

		if attempt >= p.MaxAttempts {
			return attempt, fmt.Errorf("retry: %s: giving up after %d attempts: %w", op, attempt, err)
		}

		delay := p.Backoff(attempt - 1)
		if p.RetryAfter != nil {
			if hint, ok := p.RetryAfter(err); ok {
				delay = hint
			}
		}

		p.Logger.Warn("retrying after transient error",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
			return attempt, fmt.Errorf("retry: %s: %w", op, sleepErr)
		}
	}
}

// Backoff computes the delay before retry number n (0-based) with jitter.
func (p Policy) Backoff(n int) time.Duration {
	p = p.withDefaults()

	backoff := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n))
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}

	backoff += backoff * p.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(backoff)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}

	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}

	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}

	if p.Multiplier <= 0 {
		p.Multiplier = DefaultMultiplier
	}

	if p.Jitter < 0 {
		p.Jitter = 0
	}

	if p.Sleep == nil {
		p.Sleep = TimeSleep
	}

	if p.Logger == nil {
		p.Logger = slog.New(slog.DiscardHandler)
	}

	return p
}

// TimeSleep waits for d, returning early with ctx.Err() on cancellation.
func TimeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
