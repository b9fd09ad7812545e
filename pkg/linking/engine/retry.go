package engine

import (
	"context"
	"time"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
)

// RetryPolicy is the retry budget for engine calls: a fixed number of
// attempts separated by a short pause.
type RetryPolicy struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	Delay         time.Duration `yaml:"delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// DefaultRetryPolicy returns two attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   2,
		Delay:         time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 1.0,
	}
}

// CalculateBackoff returns the pause after the given failed attempt (1-based).
func (p RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := p.Delay
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * factor)
		if p.MaxDelay > 0 && backoff > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return backoff
}

// ShouldRetry reports whether err after attempt warrants another try.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.attempts() {
		return false
	}
	return pferrors.IsUnavailable(err)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, returns a non-retryable error, or the budget
// is spent. Pauses honour ctx.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(attempt); !p.ShouldRetry(err, attempt) {
			return err
		}
		timer := time.NewTimer(p.CalculateBackoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
