package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/barterhub/internal/auth"
	"github.com/geocoder89/barterhub/internal/config"
	"github.com/geocoder89/barterhub/internal/domain/user"
	"github.com/geocoder89/barterhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type Identity interface {
	Register(ctx context.Context, req user.SignUpRequest) (user.User, error)
	Authenticate(ctx context.Context, email, password string) (user.User, error)
}

type SessionIssuer interface {
	GenerateSessionToken(userID, role string) (string, time.Time, error)
	VerifySessionToken(token string) (*auth.Claims, error)
}

type CookieConfig struct {
	Name   string
	Secure bool
}

type AuthHandler struct {
	identity Identity
	jwt      SessionIssuer
	denylist auth.Denylist
	cookie   CookieConfig
}

func NewAuthHandler(identity Identity, jwt SessionIssuer, denylist auth.Denylist, cookie CookieConfig) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "token"
	}
	return &AuthHandler{
		identity: identity,
		jwt:      jwt,
		denylist: denylist,
		cookie:   cookie,
	}
}

// POST /auth/signup
func (h *AuthHandler) SignUp(ctx *gin.Context) {
	var req user.SignUpRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if _, err := h.identity.Register(cctx, req); err != nil {
		RespondDomainError(ctx, err, "Could not create user")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"status":  true,
		"message": "User created successfully",
	})
}

// POST /auth/login
func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// short timeout for DB lookup
	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	u, err := h.identity.Authenticate(cctx, req.Email, req.Password)
	if err != nil {
		RespondDomainError(ctx, err, "Could not log in")
		return
	}

	raw, expiresAt, err := h.jwt.GenerateSessionToken(u.ID, u.Role)
	if err != nil {
		RespondInternal(ctx, "Could not create session")
		return
	}

	h.setSessionCookie(ctx, raw, expiresAt)

	ctx.JSON(http.StatusOK, gin.H{
		"status":  true,
		"message": "Login successful",
		"role":    u.Role,
	})
}

// GET /auth/verify, behind RequireAuth
func (h *AuthHandler) Verify(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":  true,
		"message": "Authorized",
	})
}

// GET /auth/me, behind RequireAuth
func (h *AuthHandler) Me(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Not logged in")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status": true,
		"userId": userID,
	})
}

// GET /auth/logout always clears the cookie; a valid token is also revoked
// so copies of it stop working before they expire.
func (h *AuthHandler) Logout(ctx *gin.Context) {
	raw := middlewares.TokenFromRequest(ctx, h.cookie.Name)

	if raw != "" && h.denylist != nil {
		if claims, err := h.jwt.VerifySessionToken(raw); err == nil {
			cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 2*time.Second)
			defer cancel()

			if err := h.denylist.Revoke(cctx, claims.JTI, claims.TTLRemaining()); err != nil {
				slog.Default().WarnContext(ctx.Request.Context(), "session revoke failed",
					"user_id", claims.UserID,
					"err", err,
				)
			}
		}
	}

	h.clearSessionCookie(ctx)

	ctx.JSON(http.StatusOK, gin.H{
		"status":  true,
		"message": "Logged out successfully",
	})
}

// Helper functions

func (h *AuthHandler) setSessionCookie(ctx *gin.Context, raw string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(
		h.cookie.Name,
		raw,
		maxAge,
		"/",
		"",
		h.cookie.Secure,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearSessionCookie(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(
		h.cookie.Name,
		"",
		-1,
		"/",
		"",
		h.cookie.Secure,
		true,
	)
}
