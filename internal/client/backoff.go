package client

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig spaces the retries of ECHO and READ after a timeout.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 50 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Jitter:       true,
	}
}

// ceiling is the un-jittered wait before retry n (1-based).
func (b BackoffConfig) ceiling(retry int) time.Duration {
	if retry < 1 || b.InitialDelay <= 0 {
		return 0
	}
	mult := math.Max(b.Multiplier, 1.0)
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(retry-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	return time.Duration(delay)
}

// longest is the largest wait Delay can return for retry n.
func (b BackoffConfig) longest(retry int) time.Duration {
	d := b.ceiling(retry)
	if b.Jitter {
		d += d / 2
	}
	return d
}

// Delay returns the wait before retry n. With Jitter set and a non-nil rng it
// is scaled into [0.5, 1.5) of the ceiling.
func (b BackoffConfig) Delay(retry int, rng *rand.Rand) time.Duration {
	d := b.ceiling(retry)
	if !b.Jitter || rng == nil {
		return d
	}
	return time.Duration(float64(d) * (0.5 + rng.Float64()))
}

// Budget is the longest one call with these options can run: the stale-reply
// drain, every attempt timing out and the longest wait before each retry.
func (o Options) Budget() time.Duration {
	total := drainWait + time.Duration(o.Retries+1)*o.Timeout
	for retry := 1; retry <= o.Retries; retry++ {
		total += o.Backoff.longest(retry)
	}
	return total
}
