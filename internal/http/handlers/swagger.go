package handlers

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed openapi.yaml
var openAPIDoc []byte

// The document only changes with a new build, so its tag is computed once.
var openAPIETag = func() string {
	sum := sha256.Sum256(openAPIDoc)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}()

const openAPIPath = "/docs/openapi.yaml"

var swaggerPage = []byte(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>BarterHub API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="docs"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
SwaggerUIBundle({
  url: "` + openAPIPath + `",
  dom_id: "#docs",
  withCredentials: true,
  tryItOutEnabled: true
});
</script>
</body>
</html>`)

// RegisterDocs mounts the Swagger UI and the raw OpenAPI document.
func RegisterDocs(r gin.IRoutes) {
	r.GET("/swagger", func(ctx *gin.Context) {
		ctx.Data(http.StatusOK, "text/html; charset=utf-8", swaggerPage)
	})
	r.GET(openAPIPath, func(ctx *gin.Context) {
		ctx.Header("ETag", openAPIETag)
		ctx.Header("Cache-Control", "public, max-age=300")
		if etagMatches(ctx.GetHeader("If-None-Match"), openAPIETag) {
			ctx.Status(http.StatusNotModified)
			return
		}
		ctx.Data(http.StatusOK, "application/yaml", openAPIDoc)
	})
}
