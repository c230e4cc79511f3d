package trade

import (
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/barterhub/internal/domain/item"
	"github.com/geocoder89/barterhub/internal/domain/user"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

var (
	ErrNotFound        = errors.New("trade not found")
	ErrForbidden       = errors.New("not allowed to act on this trade")
	ErrInvalidState    = errors.New("trade is no longer pending")
	ErrItemUnavailable = errors.New("a traded item is no longer available")
	ErrValidation      = errors.New("invalid trade proposal")
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	default:
		return false
	}
}

// CanTransition encodes pending -> {accepted, rejected}; nothing leaves a terminal state.
func (s Status) CanTransition(to Status) bool {
	return s == StatusPending && (to == StatusAccepted || to == StatusRejected)
}

type Trade struct {
	ID              string    `json:"id"`
	ProposerID      string    `json:"proposerId"`
	RecipientID     string    `json:"recipientId"`
	OfferedItemID   string    `json:"offeredItemId"`
	RequestedItemID string    `json:"requestedItemId"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (t *Trade) Transition(to Status) error {
	if !t.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (t Trade) Involves(userID string) bool {
	return t.ProposerID == userID || t.RecipientID == userID
}

func (t Trade) ItemIDs() []string {
	return []string{t.OfferedItemID, t.RequestedItemID}
}

// View is a trade hydrated with its participants and items. Items are nil once consumed or deleted.
type View struct {
	Trade
	Proposer      user.Summary `json:"proposer"`
	Recipient     user.Summary `json:"recipient"`
	OfferedItem   *item.Item   `json:"offeredItem"`
	RequestedItem *item.Item   `json:"requestedItem"`
}

// ProposeRequest keeps the field names the web client already sends.
type ProposeRequest struct {
	ProposedTo    string `json:"proposedTo" binding:"required,uuid"`
	ProposedItem  string `json:"proposedItem" binding:"required,uuid"`
	RequestedItem string `json:"requestedItem" binding:"required,uuid"`
}

// Settlement describes what an accepted trade consumed.
type Settlement struct {
	Trade         Trade
	OfferedItem   item.Item
	RequestedItem item.Item
}

func New(proposerID string, req ProposeRequest) Trade {
	now := time.Now().UTC()

	return Trade{
		ID:              uuid.NewString(),
		ProposerID:      proposerID,
		RecipientID:     req.ProposedTo,
		OfferedItemID:   req.ProposedItem,
		RequestedItemID: req.RequestedItem,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// VerifyItems checks the items still belong to the two parties, in the right direction.
func (t Trade) VerifyItems(offered, requested item.Item) error {
	if offered.OwnerID != t.ProposerID || requested.OwnerID != t.RecipientID {
		return ErrItemUnavailable
	}
	return nil
}
