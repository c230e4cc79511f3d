package jobs

import (
	"strings"
	"time"
)

// Payload is implemented by every job body; Kind ties it to its job type.
type Payload interface {
	Kind() JobType
	Validate() error
}

// Trade events carried by TradeNotificationPayload.
const (
	EventTradeProposed = "trade.proposed"
	EventTradeAccepted = "trade.accepted"
	EventTradeRejected = "trade.rejected"
)

// ImageCleanupPayload carries the stored reference itself, since the item
// row is gone by the time the job runs.
type ImageCleanupPayload struct {
	ItemID   string `json:"itemId"`
	ImageURL string `json:"imageUrl"`
	TradeID  string `json:"tradeId,omitempty"`
}

func (ImageCleanupPayload) Kind() JobType { return JobImageCleanup }

func (p ImageCleanupPayload) Validate() error {
	if blank(p.ItemID) || blank(p.ImageURL) {
		return ErrInvalidJobPayload
	}
	return nil
}

type TradeNotificationPayload struct {
	TradeID     string    `json:"tradeId"`
	Event       string    `json:"event"`
	ProposerID  string    `json:"proposerId"`
	RecipientID string    `json:"recipientId"`
	OccurredAt  time.Time `json:"occurredAt"`
	RequestID   string    `json:"requestId,omitempty"`
}

func (TradeNotificationPayload) Kind() JobType { return JobTradeNotification }

func (p TradeNotificationPayload) Validate() error {
	if blank(p.TradeID) || blank(p.ProposerID) || blank(p.RecipientID) {
		return ErrInvalidJobPayload
	}
	switch p.Event {
	case EventTradeProposed, EventTradeAccepted, EventTradeRejected:
		return nil
	}
	return ErrInvalidJobPayload
}

// NotifyUserID is the party that did not cause the event.
func (p TradeNotificationPayload) NotifyUserID() string {
	if p.Event == EventTradeProposed {
		return p.RecipientID
	}
	return p.ProposerID
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
