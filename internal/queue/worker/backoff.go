package worker

import (
	"math/rand/v2"
	"time"
)

// Backoff spaces out retries of a failed job: Base doubled for every attempt
// already made, capped at Max, plus up to Jitter so failures that happened
// together do not retry together.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// DefaultBackoff gives 2s, 4s, 8s ... up to five minutes.
var DefaultBackoff = Backoff{
	Base:   2 * time.Second,
	Max:    5 * time.Minute,
	Jitter: 250 * time.Millisecond,
}

func (b Backoff) Delay(attempts int) time.Duration {
	delay := b.Max
	if attempts < 0 {
		attempts = 0
	}
	if attempts < 32 {
		if d := b.Base << attempts; d > 0 && d < b.Max {
			delay = d
		}
	}

	if b.Jitter > 0 {
		delay += rand.N(b.Jitter)
	}
	return delay
}
