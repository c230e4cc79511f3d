package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/notifications"
	"github.com/geocoder89/barterhub/internal/observability"
	"github.com/geocoder89/barterhub/internal/storage"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

// Pinger reports whether the job store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	WorkerID     string
	PollInterval time.Duration
	Concurrency  int
	// LockTTL is how long a job may stay processing before another worker reclaims it.
	LockTTL       time.Duration
	ShutdownGrace time.Duration
	// Retry spaces out attempts of failing jobs, DefaultBackoff when zero.
	Retry Backoff
}

type Deps struct {
	Repo     JobsRepository
	Images   storage.ImageStore
	Notifier notifications.Notifier
	// optional
	Pinger  Pinger
	Metrics *observability.JobMetrics
	Prom    *observability.Prom
	Logger  *slog.Logger
}

type Worker struct {
	cfg      Config
	repo     JobsRepository
	images   storage.ImageStore
	notifier notifications.Notifier
	pinger   Pinger
	metrics  *observability.JobMetrics
	prom     *observability.Prom
	log      *slog.Logger

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, d Deps) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.Retry.Base <= 0 || cfg.Retry.Max <= 0 {
		cfg.Retry = DefaultBackoff
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}

	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := d.Metrics
	if metrics == nil {
		metrics = observability.NewJobMetrics()
	}

	return &Worker{
		cfg:      cfg,
		repo:     d.Repo,
		images:   d.Images,
		notifier: d.Notifier,
		pinger:   d.Pinger,
		metrics:  metrics,
		prom:     d.Prom,
		log:      log.With("worker_id", cfg.WorkerID),
	}
}

func (w *Worker) Metrics() *observability.JobMetrics {
	return w.metrics
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

// Run polls for jobs until ctx is cancelled, keeping at most Concurrency jobs in flight.
// In-flight jobs get ShutdownGrace to finish on a context detached from ctx.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		"concurrency", w.cfg.Concurrency,
		"poll_interval", w.cfg.PollInterval.String(),
	)

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	slots := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()

	reap := time.NewTicker(w.cfg.LockTTL)
	defer reap.Stop()

	w.requeueStale(ctx)
	w.setReady(true)

	for {
		select {
		case <-ctx.Done():
			w.setReady(false)
			w.log.Info("worker received shutdown signal")
			return w.drain(&wg, cancelJobs)

		case <-reap.C:
			w.requeueStale(ctx)

		case <-poll.C:
			w.dispatch(ctx, jobCtx, slots, &wg)
		}
	}
}

// dispatch claims jobs until the queue is empty or every slot is busy.
func (w *Worker) dispatch(ctx, jobCtx context.Context, slots chan struct{}, wg *sync.WaitGroup) {
	for {
		select {
		case slots <- struct{}{}:
		default:
			return
		}

		j, ok, err := w.claim(ctx)
		if err != nil || !ok {
			<-slots
			if err != nil && ctx.Err() == nil {
				w.log.Error("claim failed", "err", err)
			}
			return
		}

		wg.Add(1)
		go func(j job.Job) {
			defer wg.Done()
			defer func() { <-slots }()
			_ = w.process(jobCtx, j)
		}(j)
	}
}

func (w *Worker) drain(wg *sync.WaitGroup, cancel context.CancelFunc) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(w.cfg.ShutdownGrace):
		cancel()
		<-done
		w.log.Warn("shutdown grace elapsed, in-flight jobs were cancelled")
		return context.DeadlineExceeded
	}
}

func (w *Worker) requeueStale(ctx context.Context) {
	n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.LockTTL)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("requeue stale jobs failed", "err", err)
		}
		return
	}
	if n > 0 {
		w.log.Warn("requeued stale jobs", "count", n)
	}
}
