package jobs

import (
	"encoding/json"
	"fmt"
)

// EncodePayload validates payload for job type t and returns the row body.
func EncodePayload(t JobType, payload any) ([]byte, error) {
	p, err := asPayload(t, payload)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}
	return b, nil
}

func decodeAs[P Payload](raw []byte) (Payload, error) {
	var p P
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}
	return p, nil
}

// DecodePayload turns a stored body back into the typed payload for t.
// It does not validate; callers run ValidatePayload on the result.
func DecodePayload(t JobType, raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidJobPayload
	}

	switch t {
	case JobImageCleanup:
		return decodeAs[ImageCleanupPayload](raw)
	case JobTradeNotification:
		return decodeAs[TradeNotificationPayload](raw)
	}
	return nil, ErrInvalidJobType
}
