package job

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is where a job sits in the outbox lifecycle:
// pending -> processing -> done, or back to pending on a retry, or failed
// once attempts run out.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// ParseStatus accepts only the four known statuses.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed:
		return st, true
	}
	return "", false
}

const DefaultMaxAttempts = 25

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobNotFailed = errors.New("job is not failed")
)

type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	RunAt       time.Time       `json:"runAt"`

	LockedAt *time.Time `json:"lockedAt,omitempty"`
	LockedBy *string    `json:"lockedBy,omitempty"`

	LastError      *string `json:"lastError,omitempty"`
	IdempotencyKey *string `json:"idempotencyKey,omitempty"`
	// UserID is the account the job acts for, when there is one.
	UserID *string `json:"userId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateRequest is what producers hand to the outbox. Zero RunAt means now
// and zero MaxAttempts means DefaultMaxAttempts.
type CreateRequest struct {
	Type           string
	Payload        json.RawMessage
	RunAt          time.Time
	MaxAttempts    int
	IdempotencyKey *string
	Priority       int
	UserID         *string
}

// New builds the pending row for req.
func New(req CreateRequest) Job {
	now := time.Now().UTC()

	j := Job{
		ID:             uuid.NewString(),
		Type:           req.Type,
		Payload:        req.Payload,
		Status:         StatusPending,
		Priority:       req.Priority,
		MaxAttempts:    req.MaxAttempts,
		RunAt:          req.RunAt,
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	return j
}
