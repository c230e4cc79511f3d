package item

import (
	"errors"
	"io"
	"time"

	"github.com/geocoder89/barterhub/internal/domain/user"
	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("item not found")
	ErrForbidden  = errors.New("only the owner may modify this item")
	ErrValidation = errors.New("invalid item")
	ErrBadImage   = errors.New("unsupported image")
)

type Item struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Size        string        `json:"size"`
	Condition   string        `json:"condition"`
	Preferences string        `json:"preferences"`
	ImageURL    string        `json:"imageUrl"`
	OwnerID     string        `json:"ownerId"`
	Owner       *user.Summary `json:"owner,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Fields holds the mandatory listing attributes.
type Fields struct {
	Title       string `form:"title" json:"title" binding:"required,max=120"`
	Size        string `form:"size" json:"size" binding:"required,max=40"`
	Condition   string `form:"condition" json:"condition" binding:"required,max=60"`
	Preferences string `form:"preferences" json:"preferences" binding:"required,max=500"`
}

// Image is an uploaded file as handed over by the transport layer.
type Image struct {
	Filename string
	Body     io.Reader
}

// Patch is a partial update: nil fields are left untouched.
type Patch struct {
	Title       *string `form:"title" json:"title" binding:"omitempty,min=1,max=120"`
	Size        *string `form:"size" json:"size" binding:"omitempty,min=1,max=40"`
	Condition   *string `form:"condition" json:"condition" binding:"omitempty,min=1,max=60"`
	Preferences *string `form:"preferences" json:"preferences" binding:"omitempty,min=1,max=500"`
	ImageURL    *string `form:"-" json:"-"`
}

func (p Patch) Apply(it *Item) {
	if p.Title != nil {
		it.Title = *p.Title
	}
	if p.Size != nil {
		it.Size = *p.Size
	}
	if p.Condition != nil {
		it.Condition = *p.Condition
	}
	if p.Preferences != nil {
		it.Preferences = *p.Preferences
	}
	if p.ImageURL != nil {
		it.ImageURL = *p.ImageURL
	}
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Size == nil && p.Condition == nil && p.Preferences == nil && p.ImageURL == nil
}

// A factory to build an Item owned by ownerID.
func New(ownerID string, f Fields, imageURL string) Item {
	now := time.Now().UTC()

	return Item{
		ID:          uuid.NewString(),
		Title:       f.Title,
		Size:        f.Size,
		Condition:   f.Condition,
		Preferences: f.Preferences,
		ImageURL:    imageURL,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Actor is the authenticated identity attempting a mutation.
type Actor struct {
	UserID string
	Role   string
}

// CanModify is the ownership predicate evaluated before every item mutation.
func (a Actor) CanModify(it Item) bool {
	return a.Role == user.RoleAdmin || (a.UserID != "" && a.UserID == it.OwnerID)
}
