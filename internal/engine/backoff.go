package engine

import (
	"math/rand"
	"time"
)

// jitterFraction spreads retries ±20% around the exponential delay so a
// burst of failures against one receiver doesn't retry in lockstep.
const jitterFraction = 0.2

// NextRetryDelay computes the delay before retrying after the given failed
// attempt (1-indexed): base * 2^(attempt-1), capped, with deterministic
// jitter derived from seed. Pure function so retry timing is testable
// without sleeping.
func NextRetryDelay(attempt int, base, cap time.Duration, seed int64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap || delay <= 0 {
			delay = cap
			break
		}
	}
	if delay > cap {
		delay = cap
	}

	rng := rand.New(rand.NewSource(seed))
	factor := 1 + jitterFraction*(2*rng.Float64()-1)
	return time.Duration(float64(delay) * factor)
}
