package jobs

// asPayload accepts a payload value or a pointer to one and checks that it
// belongs to job type t.
func asPayload(t JobType, v any) (Payload, error) {
	if !t.IsValid() {
		return nil, ErrInvalidJobType
	}

	var p Payload
	switch v := v.(type) {
	case *ImageCleanupPayload:
		if v != nil {
			p = *v
		}
	case *TradeNotificationPayload:
		if v != nil {
			p = *v
		}
	case Payload:
		p = v
	}
	if p == nil || p.Kind() != t {
		return nil, ErrPayloadTypeMismatch
	}
	return p, nil
}

// ValidatePayload checks a payload against the rules of job type t.
func ValidatePayload(t JobType, payload any) error {
	p, err := asPayload(t, payload)
	if err != nil {
		return err
	}
	return p.Validate()
}
