// Package retry runs operations under an explicit exponential backoff policy.
//
//	p := retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
//	attempts, err := retry.Do(ctx, p, func(attempt int) error {
//		return send()
//	})
//
// Waits happen only between attempts, so three attempts wait 1s then 2s.
// Wrap an error with Stop to end the loop early.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy describes how many attempts to make and how long to wait between them
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultPolicy is three attempts with a 1s base delay doubling each time
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
	}
}

// Delay returns the wait before the given attempt (1-based). The first
// attempt never waits.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt-2)))
}

// Func is a single attempt. attempt starts at 1.
type Func func(attempt int) error

// ErrExhausted wraps the last error once every attempt failed
var ErrExhausted = errors.New("retry attempts exhausted")

// Do runs fn until it succeeds, returns a Stop error, the context ends or the
// policy is exhausted. It returns the number of attempts made.
func Do(ctx context.Context, p Policy, fn Func) (int, error) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if delay := p.Delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt - 1, fmt.Errorf("retry cancelled by context: %w", ctx.Err())
			case <-timer.C:
			}
		}

		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		var stopErr StopError
		if errors.As(err, &stopErr) {
			return attempt, stopErr.Err
		}
	}

	return max, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, max, lastErr)
}

// StopError wraps an error to indicate that retries should stop immediately
type StopError struct {
	Err error
}

func (s StopError) Error() string {
	return s.Err.Error()
}

func (s StopError) Unwrap() error {
	return s.Err
}

// Stop wraps an error to indicate that retries should stop immediately
func Stop(err error) error {
	return StopError{Err: err}
}

// IsStopError checks if an error is a StopError
func IsStopError(err error) bool {
	var stopErr StopError
	return errors.As(err, &stopErr)
}
