package remote

import (
	"math/rand/v2"
	"time"
)

const (
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMaxDelay = 10 * time.Second
)

// Backoff computes the delay before the next attempt: base * 2^(attempt-1),
// capped at max, with 0.7..1.3 jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter disables randomisation when false.
	Jitter bool
}

// Delay returns the wait after attempt (1-based) failed.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultRetryBase
	}
	maxD := b.Max
	if maxD <= 0 {
		maxD = defaultRetryMaxDelay
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	if b.Jitter {
		d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	}
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
