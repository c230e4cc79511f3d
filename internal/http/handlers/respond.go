package handlers

import (
	"errors"
	"net/http"

	"github.com/geocoder89/barterhub/internal/domain/item"
	"github.com/geocoder89/barterhub/internal/domain/trade"
	"github.com/geocoder89/barterhub/internal/domain/user"
	"github.com/geocoder89/barterhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get(middlewares.CtxRequestID)

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondUnAuthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

func RespondForbidden(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusForbidden, "forbidden", message, nil)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

// RespondDomainError maps domain sentinels to the HTTP contract. fallback is the 500 message.
func RespondDomainError(ctx *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, item.ErrValidation),
		errors.Is(err, trade.ErrValidation),
		errors.Is(err, user.ErrValidation):
		RespondBadRequest(ctx, err.Error(), nil)
	case errors.Is(err, item.ErrBadImage):
		RespondError(ctx, http.StatusBadRequest, "invalid_image", "Image must be a JPEG or PNG", nil)
	case errors.Is(err, user.ErrEmailTaken):
		RespondError(ctx, http.StatusBadRequest, "email_taken", "Email is already in use.", nil)
	case errors.Is(err, user.ErrInvalidCredential):
		RespondError(ctx, http.StatusBadRequest, "invalid_credentials", "Invalid password", nil)
	case errors.Is(err, item.ErrForbidden), errors.Is(err, trade.ErrForbidden):
		RespondForbidden(ctx, err.Error())
	case errors.Is(err, item.ErrNotFound):
		RespondNotFound(ctx, "Item not found")
	case errors.Is(err, trade.ErrNotFound):
		RespondNotFound(ctx, "Trade not found")
	case errors.Is(err, user.ErrNotFound):
		RespondNotFound(ctx, "User not found")
	case errors.Is(err, trade.ErrItemUnavailable):
		RespondConflict(ctx, "item_unavailable", err.Error())
	case errors.Is(err, trade.ErrInvalidState):
		RespondConflict(ctx, "invalid_state", err.Error())
	default:
		_ = ctx.Error(err)
		RespondInternal(ctx, fallback)
	}
}
