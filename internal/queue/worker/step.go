package worker

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

func (w *Worker) claim(ctx context.Context) (job.Job, bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return job.Job{}, false, nil
		}
		return job.Job{}, false, err
	}

	w.metrics.IncClaimed()
	return j, true, nil
}

// ProcessOne claims and runs a single job. It reports whether a job was found.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	j, ok, err := w.claim(ctx)
	if err != nil || !ok {
		return false, err
	}

	return true, w.process(ctx, j)
}

func (w *Worker) process(ctx context.Context, j job.Job) error {
	defer w.prom.JobStarted()()

	log := w.log.With("job_id", j.ID, "job_type", j.Type, "attempt", j.Attempts+1)
	start := time.Now()

	spanCtx, span := observability.StartSpan(ctx, "jobs.execute",
		attribute.String("job.id", j.ID),
		attribute.String("job.type", j.Type),
		attribute.Int("job.attempt", j.Attempts+1),
	)
	err := w.execute(spanCtx, j)
	observability.EndSpan(span, err)
	elapsed := time.Since(start)
	w.metrics.ObserveDuration(elapsed)

	if err != nil {
		result := w.handleFailure(ctx, j, err)
		w.prom.ObserveJob(j.Type, result, elapsed)
		log.Warn("job failed", "err", err, "result", result, "duration_ms", elapsed.Milliseconds())
		return nil
	}

	if err := w.repo.MarkDone(ctx, j.ID); err != nil {
		log.Error("mark done failed", "err", err)
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		return err
	}

	w.metrics.IncDone(j.Type)
	w.prom.ObserveJob(j.Type, "done", elapsed)
	log.Info("job done", "duration_ms", elapsed.Milliseconds())
	return nil
}

// handleFailure reschedules with backoff, or fails the job for good once
// attempts are used up or the error cannot be fixed by retrying.
func (w *Worker) handleFailure(ctx context.Context, j job.Job, jobErr error) string {
	w.metrics.IncFailed(j.Type)

	msg := jobErr.Error()
	attempt := j.Attempts + 1

	if isPermanent(jobErr) || attempt >= j.MaxAttempts {
		w.metrics.IncDeadLettered(j.Type)
		if err := w.repo.MarkFailed(ctx, j.ID, msg); err != nil {
			w.log.Error("mark failed failed", "job_id", j.ID, "err", err)
		}
		return "failed"
	}

	w.metrics.IncRetried()
	runAt := time.Now().UTC().Add(w.cfg.Retry.Delay(j.Attempts))
	if err := w.repo.Reschedule(ctx, j.ID, runAt, msg); err != nil {
		w.log.Error("reschedule failed", "job_id", j.ID, "err", err)
	}
	return "retry"
}
