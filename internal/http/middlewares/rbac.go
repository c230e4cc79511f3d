package middlewares

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireRole lets the request through when the session role is one of
// allowed. It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(allowed ...string) gin.HandlerFunc {
	msg := strings.Join(allowed, " or ") + " role required"

	return func(c *gin.Context) {
		role, ok := RoleFromContext(c)
		if !ok || role == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Missing identity context")
			return
		}
		if !slices.Contains(allowed, role) {
			abortJSON(c, http.StatusForbidden, "forbidden", msg)
			return
		}
		c.Next()
	}
}
