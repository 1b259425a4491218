package peer

import (
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/binlink/internal/testutil/testlog"
)

func TestNextBackoffDelay(t *testing.T) {
	testlog.Start(t)
	growing := BackoffConfig{InitialDelay: 200 * time.Millisecond, Multiplier: 3, MaxDelay: 4 * time.Second}
	cases := []struct {
		name    string
		cfg     BackoffConfig
		attempt int
		want    time.Duration
	}{
		{"first retry", growing, 1, 200 * time.Millisecond},
		{"second retry", growing, 2, 600 * time.Millisecond},
		{"third retry", growing, 3, 1800 * time.Millisecond},
		{"capped", growing, 9, 4 * time.Second},
		{"flat multiplier", BackoffConfig{InitialDelay: 75 * time.Millisecond, Multiplier: 0.25}, 5, 75 * time.Millisecond},
		{"no initial delay", BackoffConfig{Multiplier: 2}, 4, 0},
		{"jitter without rng", BackoffConfig{InitialDelay: time.Second, Jitter: true}, 1, 500 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := NextBackoffDelay(tc.cfg, tc.attempt, nil); got != tc.want {
			t.Fatalf("%s: got=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestNextBackoffDelayJitterStaysInBand(t *testing.T) {
	testlog.Start(t)
	plain := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 3 * time.Second}
	jittered := plain
	jittered.Jitter = true
	rng := rand.New(rand.NewSource(11))
	for attempt := 1; attempt <= 10; attempt++ {
		base := NextBackoffDelay(plain, attempt, nil)
		got := NextBackoffDelay(jittered, attempt, rng)
		if got < base/2 || got >= base+base/2 {
			t.Fatalf("attempt %d: %v outside band around %v", attempt, got, base)
		}
	}
}
