package jobs

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDecode_ImageCleanup(t *testing.T) {
	payload := ImageCleanupPayload{
		ItemID:   "item-123",
		ImageURL: "/uploads/abc.jpg",
		TradeID:  "trade-1",
	}

	b, err := EncodePayload(JobImageCleanup, payload)
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}

	decoded, err := DecodePayload(JobImageCleanup, b)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}

	p, ok := decoded.(ImageCleanupPayload)
	if !ok {
		t.Fatalf("expected ImageCleanupPayload, got %T", decoded)
	}

	if p.ImageURL != payload.ImageURL {
		t.Fatalf("expected imageUrl %s, got %s", payload.ImageURL, p.ImageURL)
	}
}

func TestEncodePayload_TypeMismatch(t *testing.T) {
	_, err := EncodePayload(JobImageCleanup, TradeNotificationPayload{
		TradeID:     "t1",
		Event:       EventTradeAccepted,
		ProposerID:  "u1",
		RecipientID: "u2",
	})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if err != ErrPayloadTypeMismatch {
		t.Fatalf("expected ErrPayloadTypeMismatch, got %v", err)
	}
}

func TestValidatePayload_RequiredIDs(t *testing.T) {
	err := ValidatePayload(JobImageCleanup, ImageCleanupPayload{ItemID: "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidatePayload_UnknownTradeEvent(t *testing.T) {
	err := ValidatePayload(JobTradeNotification, TradeNotificationPayload{
		TradeID:     "t1",
		Event:       "trade.exploded",
		ProposerID:  "u1",
		RecipientID: "u2",
	})
	if !errors.Is(err, ErrInvalidJobPayload) {
		t.Fatalf("expected ErrInvalidJobPayload, got %v", err)
	}
}

func TestNewTradeNotification_TargetsOtherParty(t *testing.T) {
	tests := []struct {
		event string
		want  string
	}{
		{EventTradeProposed, "recipient"},
		{EventTradeAccepted, "proposer"},
		{EventTradeRejected, "proposer"},
	}

	for _, tt := range tests {
		req, err := NewTradeNotification(TradeNotificationPayload{
			TradeID:     "t1",
			Event:       tt.event,
			ProposerID:  "proposer",
			RecipientID: "recipient",
			OccurredAt:  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.event, err)
		}
		if req.UserID == nil || *req.UserID != tt.want {
			t.Fatalf("%s: expected user %q, got %v", tt.event, tt.want, req.UserID)
		}
		if req.IdempotencyKey == nil || *req.IdempotencyKey != "trade:notify:t1:"+tt.event {
			t.Fatalf("%s: unexpected idempotency key %v", tt.event, req.IdempotencyKey)
		}
	}
}

func TestIsMalformed(t *testing.T) {
	_, err := DecodePayload(JobTradeNotification, []byte(`{"tradeId":`))
	if !IsMalformed(err) {
		t.Fatalf("truncated payload should be malformed, got %v", err)
	}
	if IsMalformed(errors.New("smtp timeout")) {
		t.Fatalf("transient errors must stay retryable")
	}
}
