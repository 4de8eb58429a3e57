package caresync

import (
	"context"
	"time"
)

// BackoffStrategy defines how to space out reconnection attempts.
type BackoffStrategy interface {
	// NextDelay returns the delay before the next attempt
	NextDelay(attempt int) time.Duration

	// Reset resets the strategy after a successful attempt
	Reset()
}

// ExponentialBackoff implements exponential backoff with a capped delay.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(eb.InitialDelay)

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= eb.Multiplier
	}

	result := time.Duration(delay * multiplier)

	if result > eb.MaxDelay {
		result = eb.MaxDelay
	}

	return result
}

func (eb *ExponentialBackoff) Reset() {}

// defaultBackoff matches the backing store's native reconnect cadence.
func defaultBackoff() BackoffStrategy {
	return &ExponentialBackoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// WaitFunc suspends until the delay elapses or ctx is done. Injectable so
// tests can run retry paths without wall-clock timers.
type WaitFunc func(ctx context.Context, d time.Duration) error

// timerWait is the production WaitFunc.
func timerWait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff runs operation up to maxAttempts times, waiting per the
// strategy between attempts. It gives up after the budget is spent and
// returns the last error; callers surface a disconnected state from there.
func retryWithBackoff(ctx context.Context, maxAttempts int, backoff BackoffStrategy, wait WaitFunc, operation func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if backoff == nil {
		backoff = defaultBackoff()
	}
	if wait == nil {
		wait = timerWait
	}

	err := operation()
	if err == nil {
		backoff.Reset()
		return nil
	}

	for attempt := 1; attempt < maxAttempts; attempt++ {
		if werr := wait(ctx, backoff.NextDelay(attempt-1)); werr != nil {
			return werr
		}

		err = operation()
		if err == nil {
			backoff.Reset()
			return nil
		}
	}

	return err
}
