package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origins is the set of browser origins allowed to call the API with the
// session cookie. The CORS middleware and the websocket upgrader share it.
type Origins map[string]struct{}

func NewOrigins(list []string) Origins {
	o := make(Origins, len(list))
	for _, origin := range list {
		o[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return o
}

// Allows treats a missing Origin as same-origin or non-browser.
func (o Origins) Allows(origin string) bool {
	if origin == "" {
		return true
	}
	_, ok := o[origin]
	return ok
}

var (
	corsMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	}, ",")
	corsHeaders = "Authorization,Content-Type,If-None-Match,X-Request-Id"
	corsExposed = "ETag,Retry-After,X-Request-Id"
)

// CORS answers preflights itself and marks allowed responses as
// credentialed. Unknown origins get no CORS headers, which the browser
// treats as a refusal.
func (o Origins) CORS() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Header("Vary", "Origin")

		if origin := ctx.GetHeader("Origin"); origin != "" && o.Allows(origin) {
			ctx.Header("Access-Control-Allow-Origin", origin)
			ctx.Header("Access-Control-Allow-Credentials", "true")
			ctx.Header("Access-Control-Expose-Headers", corsExposed)

			if ctx.Request.Method == http.MethodOptions {
				ctx.Header("Access-Control-Allow-Methods", corsMethods)
				ctx.Header("Access-Control-Allow-Headers", corsHeaders)
				ctx.Header("Access-Control-Max-Age", "600")
			}
		}

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	}
}
