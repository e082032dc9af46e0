package queue

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy decides when a failed operation is retried and when it is given up on
type Policy struct {
	// MaxAttempts is the number of failed replays before dead-lettering; zero retries forever
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultPolicy retries up to 8 times, starting at 2s and capping at 10 minutes
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         8,
		InitialInterval:     2 * time.Second,
		MaxInterval:         10 * time.Minute,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

// Delay returns the wait before the next replay of an operation that has failed attempts times
func (p Policy) Delay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Exhausted reports whether an operation with this many failures should be dead-lettered
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
