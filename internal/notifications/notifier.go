package notifications

import (
	"context"
	"time"
)

// TradeEvent tells one user that something happened to a trade they are part of.
type TradeEvent struct {
	TradeID     string
	Event       string
	UserID      string
	ProposerID  string
	RecipientID string
	OccurredAt  time.Time
}

type Notifier interface {
	NotifyTrade(ctx context.Context, ev TradeEvent) error
}
