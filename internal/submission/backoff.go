package submission

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default spacing of automatic follow-up drains.
const (
	DefaultRetryInitial = 5 * time.Second
	DefaultRetryMax     = 2 * time.Minute
)

// Backoff decides how long to wait before the next automatic drain after a
// cycle that ended with retryable failures. Reset is called after a cycle
// with none. *backoff.ExponentialBackOff satisfies it; the worker only calls
// it under its lifecycle lock.
type Backoff interface {
	NextBackOff() time.Duration
	Reset()
}

// NewExponentialBackoff doubles the delay from initial for every consecutive
// failed cycle, capped at maxDelay, with 10% jitter. It never gives up.
func NewExponentialBackoff(initial, maxDelay time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
