package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/geocoder89/barterhub/internal/auth"
	"github.com/geocoder89/barterhub/internal/cache"
	"github.com/geocoder89/barterhub/internal/catalog"
	"github.com/geocoder89/barterhub/internal/config"
	"github.com/geocoder89/barterhub/internal/db"
	httpx "github.com/geocoder89/barterhub/internal/http"
	"github.com/geocoder89/barterhub/internal/http/handlers"
	"github.com/geocoder89/barterhub/internal/identity"
	"github.com/geocoder89/barterhub/internal/notifications"
	"github.com/geocoder89/barterhub/internal/observability"
	"github.com/geocoder89/barterhub/internal/queue/redisclient"
	"github.com/geocoder89/barterhub/internal/queue/worker"
	"github.com/geocoder89/barterhub/internal/realtime"
	"github.com/geocoder89/barterhub/internal/repo/memory"
	"github.com/geocoder89/barterhub/internal/repo/postgres"
	"github.com/geocoder89/barterhub/internal/storage"
	"github.com/geocoder89/barterhub/internal/trading"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// stores is whichever persistence backend STORE selected.
type stores struct {
	users  identity.UserStore
	items  catalog.ItemStore
	trades trading.TradeStore
	jobs   jobsStore
	ping   func(ctx context.Context) error
	close  func()
}

type jobsStore interface {
	catalog.Outbox
	handlers.AdminJobsRepo
	worker.JobsRepository
}

func main() {
	// Load the config set up
	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(observability.LoggerOptions{Service: "barterhub-api", Env: cfg.Env, Level: cfg.LogLevel})
	slog.SetDefault(log)

	if cfg.IsProd() && cfg.JWTSecret == "dev-secret-change-me" {
		log.Error("JWT_SECRET must be set in prod")
		os.Exit(1)
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	if cfg.OTelEnabled {
		shutdownTracer, err := observability.InitTracer(rootCtx, observability.TracerConfig{
			ServiceName: "barterhub-api",
			Endpoint:    cfg.OTelEndpoint,
			Env:         cfg.Env,
			SampleRatio: float64(cfg.OTelSamplePercent) / 100,
		})
		if err != nil {
			log.Error("tracer init failed", "err", err)
		} else {
			defer func() {
				ctx, cancel := config.WithTimeout(5 * time.Second)
				defer cancel()
				_ = shutdownTracer(ctx)
			}()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	st, err := openStores(rootCtx, cfg, prom)
	if err != nil {
		log.Error("store init failed", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer st.close()

	// redis backs the feed cache and the session denylist when configured
	var (
		feed     cache.Store = cache.New(cfg.FeedCacheTTL)
		denylist auth.Denylist
	)
	denylist = auth.NewMemoryDenylist()

	if cfg.RedisAddr != "" {
		rc, err := redisclient.Connect(rootCtx, redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Error("redis unreachable", "err", err)
			os.Exit(1)
		}
		defer rc.Close()

		feed = cache.NewRedis(rc.Raw(), cfg.FeedCacheTTL)
		denylist = auth.NewRedisDenylist(rc.Raw())
		log.Info("redis connected", "addr", cfg.RedisAddr)
	}

	images, err := openImageStore(rootCtx, cfg)
	if err != nil {
		log.Error("image store init failed", "err", err)
		os.Exit(1)
	}

	users, err := identity.NewService(st.users, cfg.UserCacheSize, log)
	if err != nil {
		log.Error("identity init failed", "err", err)
		os.Exit(1)
	}

	seedCtx, cancelSeed := config.WithTimeout(5 * time.Second)
	err = users.EnsureAdmin(seedCtx, identity.AdminSeed{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	})
	cancelSeed()
	if err != nil {
		log.Error("admin seed failed", "err", err)
	}

	cat := catalog.NewService(catalog.Deps{
		Items:          st.items,
		Users:          users,
		Images:         images,
		Feed:           feed,
		Outbox:         st.jobs,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Prom:           prom,
		Logger:         log,
	})

	hub := realtime.NewHub(log)
	go hub.Run(rootCtx)

	trades := trading.NewService(trading.Deps{
		Trades:   st.trades,
		Catalog:  cat,
		Users:    users,
		Realtime: hub,
		Prom:     prom,
		Logger:   log,
	})

	// the memory store has no other process to drain its outbox
	workerDone := make(chan struct{})
	if cfg.Store == "memory" || cfg.WorkerInProcess {
		w := worker.New(worker.Config{
			WorkerID:     "api-" + strconv.Itoa(os.Getpid()),
			PollInterval: cfg.WorkerPollInterval,
			Concurrency:  cfg.WorkerConcurrency,
			LockTTL:      cfg.WorkerLockTTL,
		}, worker.Deps{
			Repo:     st.jobs,
			Images:   images,
			Notifier: notifications.NewDefault(log, notifications.LogNotifierOptions{
				Delay: cfg.NotifierDelay,
				Fail:  cfg.NotifierFail,
			}),
			Prom:     prom,
			Logger:   log,
		})

		go func() {
			defer close(workerDone)
			if err := w.Run(rootCtx); err != nil {
				log.Error("in-process worker stopped", "err", err)
			}
		}()
	} else {
		close(workerDone)
	}

	uploadDir := cfg.UploadDir
	if cfg.UsesS3() {
		uploadDir = ""
	}

	// set up routers with the log
	router := httpx.NewRouter(httpx.Deps{
		Log:                log,
		Identity:           users,
		Sessions:           auth.NewManager(cfg.JWTSecret, cfg.SessionTTL),
		Denylist:           denylist,
		Items:              cat,
		Trades:             trades,
		Stream:             hub,
		Jobs:               st.jobs,
		Ping:               st.ping,
		Prom:               prom,
		Gatherer:           reg,
		Env:                cfg.Env,
		CookieName:         cfg.CookieName,
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		UploadDir:          uploadDir,
		Tracing:            cfg.OTelEnabled,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.Store)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}

		// stops the hub and the in-process worker
		cancelRoot()
		<-workerDone
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(15 * time.Second):
		log.Error("shutdown timed out")
	}
}

func openStores(ctx context.Context, cfg config.Config, prom *observability.Prom) (stores, error) {
	switch cfg.Store {
	case "memory":
		m := memory.NewStore()
		return stores{
			users:  m.Users(),
			items:  m.Items(),
			trades: m.Trades(),
			jobs:   m.Jobs(),
			ping:   m.Items().Ping,
			close:  func() {},
		}, nil

	case "postgres":
		pool, err := db.NewPool(ctx, cfg.PoolOptions())
		if err != nil {
			return stores{}, fmt.Errorf("connect postgres: %w", err)
		}

		schemaCtx, cancel := config.WithTimeoutFrom(ctx, 10*time.Second)
		defer cancel()
		if err := db.EnsureSchema(schemaCtx, pool); err != nil {
			pool.Close()
			return stores{}, fmt.Errorf("ensure schema: %w", err)
		}

		jobs := postgres.NewJobsRepo(pool, prom)
		items := postgres.NewItemsRepo(pool, prom)
		return stores{
			users:  postgres.NewUsersRepo(pool, prom),
			items:  items,
			trades: postgres.NewTradesRepo(pool, prom, jobs),
			jobs:   jobs,
			ping:   items.Ping,
			close:  pool.Close,
		}, nil

	default:
		return stores{}, fmt.Errorf("unknown STORE %q, want postgres or memory", cfg.Store)
	}
}

func openImageStore(ctx context.Context, cfg config.Config) (storage.ImageStore, error) {
	if cfg.UsesS3() {
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
	}
	return storage.NewDiskStore(cfg.UploadDir, "/uploads")
}
