package notifications

import (
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// breaker counts consecutive failures. After threshold it opens and rejects
// calls for cooldown, then lets maxTrials calls probe the provider.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	maxTrials int
	now       func() time.Time

	state    BreakerState
	failures int
	openedAt time.Time
	trials   int

	// onChange runs with mu held; it must not call back into the breaker.
	onChange func(from, to BreakerState)
}

func (b *breaker) setState(to BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	switch to {
	case BreakerOpen:
		b.openedAt = b.now()
	case BreakerHalfOpen:
		b.trials = 0
	case BreakerClosed:
		b.failures = 0
	}
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// allow reports whether a call may go out now.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.setState(BreakerHalfOpen)
	}

	switch b.state {
	case BreakerOpen:
		return false
	case BreakerHalfOpen:
		if b.trials >= b.maxTrials {
			return false
		}
		b.trials++
	}
	return true
}

// done records the outcome of a call that allow let through.
func (b *breaker) done(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen && b.trials > 0 {
		b.trials--
	}

	if ok {
		b.failures = 0
		b.setState(BreakerClosed)
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.setState(BreakerOpen)
	}
}

// release returns a probe slot without judging the provider.
func (b *breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen && b.trials > 0 {
		b.trials--
	}
}

func (b *breaker) current() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
