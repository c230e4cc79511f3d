package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/barterhub/internal/config"
	"github.com/geocoder89/barterhub/internal/domain/item"
	"github.com/geocoder89/barterhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type ItemService interface {
	CreateItem(ctx context.Context, ownerID string, f item.Fields, img *item.Image) (item.Item, error)
	ListItems(ctx context.Context, viewerID string) ([]item.Item, error)
	ListOwnedItems(ctx context.Context, ownerID string) ([]item.Item, error)
	GetItem(ctx context.Context, id string) (item.Item, error)
	UpdateItem(ctx context.Context, actor item.Actor, id string, patch item.Patch, img *item.Image) (item.Item, error)
	DeleteItem(ctx context.Context, actor item.Actor, id string) error
}

type ItemsHandler struct {
	items ItemService
}

func NewItemsHandler(items ItemService) *ItemsHandler {
	return &ItemsHandler{items: items}
}

func actorFrom(ctx *gin.Context) item.Actor {
	id, _ := middlewares.UserIDFromContext(ctx)
	role, _ := middlewares.RoleFromContext(ctx)
	return item.Actor{UserID: id, Role: role}
}

// uploadedImage returns nil when the request carries no "image" part.
func uploadedImage(ctx *gin.Context) (*item.Image, func(), error) {
	fh, err := ctx.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, func() {}, nil
		}
		return nil, func() {}, err
	}

	f, err := fh.Open()
	if err != nil {
		return nil, func() {}, err
	}
	return &item.Image{Filename: fh.Filename, Body: f}, func() { closeQuietly(f) }, nil
}

func closeQuietly(f multipart.File) { _ = f.Close() }

func isMultipart(ctx *gin.Context) bool {
	return strings.HasPrefix(ctx.ContentType(), "multipart/")
}

// POST /items/create (multipart)
func (h *ItemsHandler) CreateItem(ctx *gin.Context) {
	var fields item.Fields
	if !BindForm(ctx, &fields) {
		return
	}

	img, done, err := uploadedImage(ctx)
	if err != nil {
		if RespondTooLarge(ctx, err) {
			return
		}
		RespondBadRequest(ctx, "Could not read uploaded image", gin.H{"reason": err.Error()})
		return
	}
	defer done()

	ownerID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 10*time.Second)
	defer cancel()

	created, err := h.items.CreateItem(cctx, ownerID, fields, img)
	if err != nil {
		RespondDomainError(ctx, err, "Failed to create item")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Item created successfully",
		"item":    created,
	})
}

// GET /items/my-items
func (h *ItemsHandler) MyItems(ctx *gin.Context) {
	ownerID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	items, err := h.items.ListOwnedItems(cctx, ownerID)
	if err != nil {
		RespondDomainError(ctx, err, "Failed to fetch your items")
		return
	}

	ctx.JSON(http.StatusOK, items)
}

// GET /items lists everyone else's items.
func (h *ItemsHandler) ListItems(ctx *gin.Context) {
	viewerID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	items, err := h.items.ListItems(cctx, viewerID)
	if err != nil {
		RespondDomainError(ctx, err, "Failed to fetch items")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, items)
}

// GET /items/:id
func (h *ItemsHandler) GetItem(ctx *gin.Context) {
	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	it, err := h.items.GetItem(cctx, ctx.Param("id"))
	if err != nil {
		RespondDomainError(ctx, err, "Failed to fetch item")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, it)
}

// PUT /items/:id accepts multipart (with an optional new image) or JSON.
func (h *ItemsHandler) UpdateItem(ctx *gin.Context) {
	var patch item.Patch
	img, done := (*item.Image)(nil), func() {}

	if isMultipart(ctx) {
		if !BindForm(ctx, &patch) {
			return
		}
		var err error
		if img, done, err = uploadedImage(ctx); err != nil {
			if RespondTooLarge(ctx, err) {
				return
			}
			RespondBadRequest(ctx, "Could not read uploaded image", gin.H{"reason": err.Error()})
			return
		}
	} else if !BindJSON(ctx, &patch) {
		return
	}
	defer done()

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 10*time.Second)
	defer cancel()

	updated, err := h.items.UpdateItem(cctx, actorFrom(ctx), ctx.Param("id"), patch, img)
	if err != nil {
		RespondDomainError(ctx, err, "Failed to update item")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Item updated successfully",
		"item":    updated,
	})
}

// DELETE /items/:id
func (h *ItemsHandler) DeleteItem(ctx *gin.Context) {
	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.items.DeleteItem(cctx, actorFrom(ctx), ctx.Param("id")); err != nil {
		RespondDomainError(ctx, err, "Failed to delete item")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Item deleted successfully"})
}
