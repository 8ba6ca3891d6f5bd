package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponentially growing delays with an upper bound and
// random jitter.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction of the computed delay that is randomized,
	// in [0, 1].
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// Next returns the delay before the given retry attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1.5
	}

	delay := float64(base) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	jitter := math.Min(math.Max(b.Jitter, 0), 1)
	if jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		// Spread the delay over [delay*(1-jitter), delay].
		delay -= delay * jitter * r()
	}

	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
