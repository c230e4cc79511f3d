package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// bodyless reports a write with nothing to parse. A chunked request has no
// length up front, so an absent Content-Type is what marks it empty.
func bodyless(r *http.Request) bool {
	if r.ContentLength == 0 {
		return true
	}
	return r.ContentLength < 0 && r.Header.Get("Content-Type") == ""
}

// RequireJSON rejects non-JSON bodies on writes. Bodyless writes (accept/reject) pass.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if bodyless(c.Request) {
				break
			}
			ct := c.GetHeader("Content-Type")
			// allow "application/json; charset=utf-8"
			if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
				abortJSON(c, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
				return
			}
		}
		c.Next()
	}
}
