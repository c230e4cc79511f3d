package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	apiCSP = "default-src 'none'; frame-ancestors 'none'"
	// Swagger UI loads its bundle from unpkg and bootstraps inline.
	swaggerCSP = "default-src 'self'; base-uri 'none'; frame-ancestors 'none'; object-src 'none'; connect-src 'self'; img-src 'self' data: https:; font-src 'self' https://unpkg.com data:; style-src 'self' 'unsafe-inline' https://unpkg.com; script-src 'self' 'unsafe-inline' https://unpkg.com"
	imageCSP   = "default-src 'none'; img-src 'self'; sandbox"
)

// SecurityHeaders sets the hardening headers for every response. hsts should
// only be on when the API is served over TLS.
func SecurityHeaders(hsts bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-XSS-Protection", "0")
		if hsts {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		path := c.Request.URL.Path
		switch {
		case strings.HasPrefix(path, "/swagger"):
			h.Set("Content-Security-Policy", swaggerCSP)
		case strings.HasPrefix(path, "/uploads/"):
			// item images are embedded by the SPA on another origin
			h.Set("Content-Security-Policy", imageCSP)
			h.Set("Cross-Origin-Resource-Policy", "cross-origin")
		default:
			h.Set("Content-Security-Policy", apiCSP)
		}
		c.Next()
	}
}
