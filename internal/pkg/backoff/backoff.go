package backoff

import (
	"math/rand/v2"
	"time"
)

// Policy computes exponential retry delays with jitter. The zero value is
// not usable; construct with Default or fill all fields.
type Policy struct {
	// Base is the delay before the second attempt.
	Base time.Duration
	// Cap bounds the un-jittered delay.
	Cap time.Duration
	// Jitter is the symmetric jitter fraction, e.g. 0.2 for +/-20%.
	Jitter float64
}

// Default is the pipeline redelivery policy: exponential, base 1s, cap 60s,
// jitter +/-20%.
func Default() Policy {
	return Policy{
		Base:   1 * time.Second,
		Cap:    60 * time.Second,
		Jitter: 0.2,
	}
}

// Delay returns the wait before redelivering a message that has already been
// delivered attempt times (attempt >= 1). With jitter <= 0.33 successive
// delays are non-decreasing until the cap.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			d = p.Cap
			break
		}
	}

	if p.Jitter > 0 {
		// Scale by a factor uniformly drawn from [1-jitter, 1+jitter].
		factor := 1 + p.Jitter*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * factor)
	}

	return d
}
