package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/geocoder89/barterhub/internal/config"
	"github.com/geocoder89/barterhub/internal/db"
	"github.com/geocoder89/barterhub/internal/notifications"
	"github.com/geocoder89/barterhub/internal/observability"
	"github.com/geocoder89/barterhub/internal/queue/worker"
	"github.com/geocoder89/barterhub/internal/repo/postgres"
	"github.com/geocoder89/barterhub/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(observability.LoggerOptions{Service: "barterhub-worker", Env: cfg.Env, Level: cfg.LogLevel})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if cfg.OTelEnabled {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName: "barterhub-worker",
			Endpoint:    cfg.OTelEndpoint,
			Env:         cfg.Env,
			SampleRatio: float64(cfg.OTelSamplePercent) / 100,
		})
		if err != nil {
			log.Error("tracer init failed", "err", err)
		} else {
			defer func() {
				c, cancel := config.WithTimeout(5 * time.Second)
				defer cancel()
				_ = shutdownTracer(c)
			}()
		}
	}

	if cfg.Store != "postgres" {
		log.Error("the standalone worker needs STORE=postgres, use WORKER_IN_PROCESS with the memory store", "store", cfg.Store)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.PoolOptions())
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	// the health server exposes the default registry
	prom := observability.NewProm(prometheus.DefaultRegisterer)
	jobsRepo := postgres.NewJobsRepo(pool, prom)

	var images storage.ImageStore
	if cfg.UsesS3() {
		images, err = storage.NewS3Store(ctx, storage.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
	} else {
		images, err = storage.NewDiskStore(cfg.UploadDir, "/uploads")
	}
	if err != nil {
		log.Error("image store init failed", "err", err)
		os.Exit(1)
	}

	host, _ := os.Hostname()
	workerID := host + "-" + strconv.Itoa(os.Getpid())

	w := worker.New(worker.Config{
		WorkerID:      workerID,
		PollInterval:  cfg.WorkerPollInterval,
		Concurrency:   cfg.WorkerConcurrency,
		LockTTL:       cfg.WorkerLockTTL,
		ShutdownGrace: 10 * time.Second,
	}, worker.Deps{
		Repo:   jobsRepo,
		Images: images,
		Notifier: notifications.NewDefault(log, notifications.LogNotifierOptions{
			Delay: cfg.NotifierDelay,
			Fail:  cfg.NotifierFail,
		}),
		Pinger: pool,
		Prom:   prom,
		Logger: log,
	})

	healthSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerHealthPort),
		Handler:           w.HealthHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("worker health server starting", "port", cfg.WorkerHealthPort)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker health server failed", "err", err)
		}
	}()

	log.Info("worker has started", "worker_id", workerID, "concurrency", cfg.WorkerConcurrency)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	log.Info("worker shutdown complete")
}
