package middlewares

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// LimitBody caps the request body at limit bytes. A declared Content-Length
// over the cap is refused before the handler runs; chunked bodies fail with
// *http.MaxBytesError when the handler reads past it.
func LimitBody(limit int64) gin.HandlerFunc {
	msg := "Request body must not exceed " + strconv.FormatInt(limit, 10) + " bytes"

	return func(ctx *gin.Context) {
		if ctx.Request.ContentLength > limit {
			abortJSON(ctx, http.StatusRequestEntityTooLarge, "payload_too_large", msg)
			return
		}
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, limit)
		ctx.Next()
	}
}
