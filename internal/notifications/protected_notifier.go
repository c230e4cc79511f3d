package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrCircuitOpen = errors.New("notification provider circuit open")

type ProtectedNotifierConfig struct {
	// Timeout bounds each send.
	Timeout time.Duration
	// FailureThreshold is the run of consecutive failures that opens the circuit.
	FailureThreshold int
	Cooldown         time.Duration
	// HalfOpenMaxCalls is how many probes may run once the cooldown ends.
	HalfOpenMaxCalls int
	Logger           *slog.Logger
}

// ProtectedNotifier keeps a failing provider from stalling the worker: each
// send gets a deadline, and after repeated failures sends fail fast with
// ErrCircuitOpen so the job is rescheduled instead.
type ProtectedNotifier struct {
	inner   Notifier
	timeout time.Duration
	br      *breaker
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig) *ProtectedNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &ProtectedNotifier{
		inner:   inner,
		timeout: cfg.Timeout,
		br: &breaker{
			threshold: cfg.FailureThreshold,
			cooldown:  cfg.Cooldown,
			maxTrials: cfg.HalfOpenMaxCalls,
			now:       time.Now,
			state:     BreakerClosed,
			onChange: func(from, to BreakerState) {
				log.Warn("notifier circuit changed", "from", from, "to", to)
			},
		},
	}
}

func (n *ProtectedNotifier) NotifyTrade(ctx context.Context, ev TradeEvent) error {
	if !n.br.allow() {
		return ErrCircuitOpen
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err := n.inner.NotifyTrade(sendCtx, ev)

	// a caller that gave up says nothing about the provider
	if err != nil && ctx.Err() != nil {
		n.br.release()
		return err
	}
	n.br.done(err == nil)
	return err
}

func (n *ProtectedNotifier) State() BreakerState {
	return n.br.current()
}
