package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffOptions bounds the wait between session requests refused for
// capacity.
type BackoffOptions struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (o BackoffOptions) withDefaults() BackoffOptions {
	if o.Initial <= 0 {
		o.Initial = 500 * time.Millisecond
	}
	if o.Max <= 0 {
		o.Max = 10 * time.Second
	}
	if o.Max < o.Initial {
		o.Max = o.Initial
	}
	if o.Multiplier < 1 {
		o.Multiplier = 2
	}
	return o
}

func newCapacityBackoff(o BackoffOptions) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.Initial
	b.MaxInterval = o.Max
	b.Multiplier = o.Multiplier
	b.RandomizationFactor = 0.5
	b.Reset()
	return b
}
