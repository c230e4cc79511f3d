package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/barterhub/internal/auth"
	"github.com/geocoder89/barterhub/internal/domain/user"
	"github.com/geocoder89/barterhub/internal/http/handlers"
	"github.com/geocoder89/barterhub/internal/http/middlewares"
	"github.com/geocoder89/barterhub/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Deps struct {
	Log *slog.Logger

	Identity handlers.Identity
	Sessions *auth.Manager
	Denylist auth.Denylist
	Items    handlers.ItemService
	Trades   handlers.TradeService
	Stream   handlers.StreamServer
	Jobs     handlers.AdminJobsRepo

	// Ping backs /readyz.
	Ping func(ctx context.Context) error

	Prom     *observability.Prom
	Gatherer prometheus.Gatherer

	Env                string
	CookieName         string
	AllowedOrigins     []string
	RateLimitPerMinute int
	MaxUploadBytes     int64
	// UploadDir is served under /uploads; empty when images live in S3.
	UploadDir string
	Tracing   bool
}

func NewRouter(d Deps) *gin.Engine {
	if d.Env != "dev" && d.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	if d.Tracing {
		r.Use(otelgin.Middleware("barterhub-api"))
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders(d.Env == "prod"))
	origins := middlewares.NewOrigins(d.AllowedOrigins)
	r.Use(origins.CORS())
	if d.Prom != nil {
		r.Use(d.Prom.HTTPMiddleware())
	}

	// health
	h := handlers.NewHealthHandler(d.Ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	handlers.RegisterDocs(r)

	if d.UploadDir != "" {
		r.Static("/uploads", d.UploadDir)
	}

	authMW := middlewares.NewAuthMiddleware(d.Sessions, d.Denylist, d.CookieName)

	perMinute := d.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	// credential endpoints get a tighter budget than the rest of the API
	authLimiter := middlewares.NewRateLimiter(max(perMinute/6, 5), time.Minute)
	apiLimiter := middlewares.NewRateLimiter(perMinute, time.Minute)

	jsonBody := middlewares.LimitBody(1 << 20)
	// room for the form fields around the image part
	uploadBody := middlewares.LimitBody(d.MaxUploadBytes + 1<<20)

	// auth
	authHandler := handlers.NewAuthHandler(d.Identity, d.Sessions, d.Denylist, handlers.CookieConfig{
		Name:   d.CookieName,
		Secure: d.Env == "prod",
	})

	a := r.Group("/auth")
	{
		a.POST("/signup", authLimiter.RateLimiterMiddleware(middlewares.KeyByIP), jsonBody, middlewares.RequireJSON(), authHandler.SignUp)
		a.POST("/login", authLimiter.RateLimiterMiddleware(middlewares.KeyByIP), jsonBody, middlewares.RequireJSON(), authHandler.Login)
		a.GET("/verify", authMW.RequireAuth(), authHandler.Verify)
		a.GET("/me", authMW.RequireAuth(), authHandler.Me)
		a.GET("/logout", authHandler.Logout)
	}

	// items and trades answer on both the short and the /api prefixed paths
	itemsHandler := handlers.NewItemsHandler(d.Items)
	tradesHandler := handlers.NewTradesHandler(d.Trades)
	streamHandler := handlers.NewStreamHandler(d.Stream, origins)

	userLimit := apiLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP)

	for _, prefix := range []string{"", "/api"} {
		items := r.Group(prefix + "/items")
		{
			items.GET("", authMW.RequireAuth(), userLimit, itemsHandler.ListItems)
			items.GET("/my-items", authMW.RequireAuth(), userLimit, itemsHandler.MyItems)
			items.POST("/create", authMW.RequireAuth(), userLimit, uploadBody, itemsHandler.CreateItem)
			items.GET("/:id", itemsHandler.GetItem)
			items.PUT("/:id", authMW.RequireAuth(), userLimit, uploadBody, itemsHandler.UpdateItem)
			items.DELETE("/:id", authMW.RequireAuth(), userLimit, itemsHandler.DeleteItem)
		}

		trades := r.Group(prefix+"/trades", authMW.RequireAuth())
		{
			trades.GET("/stream", streamHandler.Stream)

			trades.Use(userLimit, jsonBody, middlewares.RequireJSON())
			trades.POST("/propose", tradesHandler.Propose)
			trades.GET("/my-trades", tradesHandler.MyTrades)
			trades.PUT("/:id/accept", tradesHandler.Accept)
			trades.PUT("/:id/reject", tradesHandler.Reject)
		}
	}

	// admin
	if d.Jobs != nil {
		adminJobs := handlers.NewAdminJobsHandler(d.Jobs)

		admin := r.Group("/admin", authMW.RequireAuth(), authMW.RequireRole(user.RoleAdmin))
		{
			admin.GET("/jobs", adminJobs.List)
			admin.GET("/jobs/:id", adminJobs.GetByID)
			admin.POST("/jobs/:id/retry", adminJobs.Retry)
			admin.POST("/jobs/reprocess-dead", adminJobs.ReprocessDead)
		}
	}

	r.NoRoute(func(ctx *gin.Context) {
		handlers.RespondError(ctx, http.StatusNotFound, "not_found", "Route not found", nil)
	})

	return r
}
