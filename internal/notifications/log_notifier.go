package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LogNotifierOptions lets local runs simulate a slow or failing provider.
type LogNotifierOptions struct {
	Delay time.Duration
	Fail  bool
}

type LogNotifier struct {
	log  *slog.Logger
	opts LogNotifierOptions
}

func NewLogNotifier(log *slog.Logger, opts LogNotifierOptions) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log, opts: opts}
}

func (n *LogNotifier) NotifyTrade(ctx context.Context, ev TradeEvent) error {
	if n.opts.Delay > 0 {
		select {
		case <-time.After(n.opts.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n.opts.Fail {
		return errors.New("provider down (simulated)")
	}

	n.log.InfoContext(ctx, "notification.trade",
		"event", ev.Event,
		"trade_id", ev.TradeID,
		"user_id", ev.UserID,
		"proposer_id", ev.ProposerID,
		"recipient_id", ev.RecipientID,
	)
	return nil
}

// NewDefault is the notifier both binaries run: the log provider behind the circuit breaker.
func NewDefault(log *slog.Logger, opts LogNotifierOptions) *ProtectedNotifier {
	return NewProtectedNotifier(NewLogNotifier(log, opts), ProtectedNotifierConfig{
		Timeout:          2 * time.Second,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
		Logger:           log,
	})
}
