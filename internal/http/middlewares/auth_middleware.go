package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/geocoder89/barterhub/internal/actorctx"
	"github.com/geocoder89/barterhub/internal/auth"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type TokenVerifier interface {
	VerifySessionToken(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	jwt        TokenVerifier
	denylist   auth.Denylist
	cookieName string
}

func NewAuthMiddleware(jwt TokenVerifier, denylist auth.Denylist, cookieName string) *AuthMiddleware {
	if cookieName == "" {
		cookieName = "token"
	}
	return &AuthMiddleware{jwt: jwt, denylist: denylist, cookieName: cookieName}
}

// TokenFromRequest prefers the session cookie and falls back to a bearer header.
func TokenFromRequest(c *gin.Context, cookieName string) string {
	if raw, err := c.Cookie(cookieName); err == nil && raw != "" {
		return raw
	}

	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

func abortJSON(c *gin.Context, status int, code, message string) {
	reqID, _ := c.Get(CtxRequestID)
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":      code,
			"message":   message,
			"requestId": reqID,
		},
	})
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := TokenFromRequest(c, m.cookieName)
		if raw == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Missing session token")
			return
		}

		claims, err := m.jwt.VerifySessionToken(raw)
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "invalid_token", "Invalid or expired session token")
			return
		}

		if err := auth.CheckRevoked(c.Request.Context(), m.denylist, claims); err != nil {
			if errors.Is(err, auth.ErrRevokedToken) {
				abortJSON(c, http.StatusUnauthorized, "invalid_token", "Session has been revoked")
				return
			}
			abortJSON(c, http.StatusServiceUnavailable, "unavailable", "Could not verify session")
			return
		}

		// Stash useful bits of identity on the context
		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxRole, claims.Role)

		ctx := actorctx.WithUserID(c.Request.Context(), claims.UserID)
		ctx = actorctx.WithRole(ctx, claims.Role)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// Optional helpers so handlers don’t need to know the magic keys.

func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

func RoleFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxRole)
	if !ok {
		return "", false
	}
	role, ok := v.(string)
	return role, ok
}
