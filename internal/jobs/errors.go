package jobs

import "errors"

var (
	ErrInvalidJobType      = errors.New("invalid job type")
	ErrInvalidJobPayload   = errors.New("invalid job payload")
	ErrPayloadTypeMismatch = errors.New("payload type mismatch for job type")
)

// IsMalformed reports errors no retry can fix: the row itself is bad.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrInvalidJobType) ||
		errors.Is(err, ErrInvalidJobPayload) ||
		errors.Is(err, ErrPayloadTypeMismatch)
}
