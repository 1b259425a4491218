package peer

import (
	"math/rand"
	"time"
)

// NextBackoffDelay returns the wait before retry number attempt (1-based).
// The first retry waits InitialDelay and each later one grows by Multiplier,
// capped at MaxDelay. Jitter scales the result into [0.5, 1.5).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	growth := max(cfg.Multiplier, 1)
	limit := float64(cfg.MaxDelay)
	d := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= growth
		if limit > 0 && d >= limit {
			d = limit
			break
		}
	}
	if cfg.Jitter {
		d *= jitterFactor(rng)
	}
	return time.Duration(d)
}

func jitterFactor(rng *rand.Rand) float64 {
	if rng == nil {
		return 0.5
	}
	return 0.5 + rng.Float64()
}
