package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// JobCursor is the (updated_at, id) of the last job on a page. Job pages are
// ordered newest first, so the next page holds rows strictly below it.
type JobCursor struct {
	UpdatedAt time.Time `json:"u"`
	ID        string    `json:"i"`
}

// FirstJobPage sorts above every real row.
func FirstJobPage() JobCursor {
	return JobCursor{
		UpdatedAt: time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
		ID:        "ffffffff-ffff-ffff-ffff-ffffffffffff",
	}
}

func EncodeJobCursor(updatedAt time.Time, id string) (string, error) {
	b, err := json.Marshal(JobCursor{UpdatedAt: updatedAt.UTC(), ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeJobCursor accepts only cursors this package produced; anything else
// is ErrInvalidCursor.
func DecodeJobCursor(cursor string) (JobCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(raw) == 0 {
		return JobCursor{}, ErrInvalidCursor
	}

	var c JobCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return JobCursor{}, ErrInvalidCursor
	}
	if c.UpdatedAt.IsZero() || !IsUUID(c.ID) {
		return JobCursor{}, ErrInvalidCursor
	}
	return c, nil
}
