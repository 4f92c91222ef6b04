// Package health tracks the availability of downstream services with an
// adaptive poll interval: exponential backoff with jitter while a service is
// failing, the base poll interval while it is healthy.
package health

import (
	"math/rand/v2"
	"time"
)

const (
	MinPollInterval     = 500 * time.Millisecond
	DefaultPollInterval = 2 * time.Second
	DefaultFactor       = 2.0
	DefaultMaxBackoff   = 30 * time.Second
	DefaultJitter       = 250 * time.Millisecond
	DefaultFloor        = 500 * time.Millisecond
)

// Policy is the backoff configuration. Its methods are pure.
type Policy struct {
	PollInterval time.Duration
	Factor       float64
	MaxBackoff   time.Duration
	Jitter       time.Duration
	Floor        time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		PollInterval: DefaultPollInterval,
		Factor:       DefaultFactor,
		MaxBackoff:   DefaultMaxBackoff,
		Jitter:       DefaultJitter,
		Floor:        DefaultFloor,
	}
}

// Normalize clamps out-of-range values: the poll interval is at least
// MinPollInterval, the maximum is never below the poll interval and the
// factor never shrinks the interval.
func (p Policy) Normalize() Policy {
	if p.PollInterval < MinPollInterval {
		p.PollInterval = MinPollInterval
	}
	if p.MaxBackoff < p.PollInterval {
		p.MaxBackoff = p.PollInterval
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	if p.Jitter < 0 {
		p.Jitter = -p.Jitter
	}
	if p.Floor < 0 {
		p.Floor = 0
	}
	return p
}

// Next returns the backoff interval after a probe. Success resets it to the
// poll interval; failure grows it by Factor, bounded by [PollInterval, MaxBackoff].
func (p Policy) Next(backoff time.Duration, healthy bool) time.Duration {
	if healthy {
		return p.PollInterval
	}
	grown := time.Duration(float64(backoff) * p.Factor)
	return min(p.MaxBackoff, max(p.PollInterval, grown))
}

// Delay returns how long to wait before the next probe given the current
// backoff and a jitter offset in [-Jitter, +Jitter]. It is never below Floor.
func (p Policy) Delay(backoff, jitter time.Duration) time.Duration {
	return max(p.Floor, backoff+jitter)
}

// JitterFunc returns a uniformly distributed integer in [0, n)
type JitterFunc func(n int64) int64

// DefaultJitterFunc draws from math/rand/v2
func DefaultJitterFunc(n int64) int64 {
	return rand.Int64N(n)
}

// draw returns a jitter offset in [-p.Jitter, +p.Jitter] at millisecond resolution
func (p Policy) draw(source JitterFunc) time.Duration {
	ms := p.Jitter.Milliseconds()
	if ms <= 0 || source == nil {
		return 0
	}
	return time.Duration(source(2*ms+1)-ms) * time.Millisecond
}
