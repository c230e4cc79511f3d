package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/observability"
	"github.com/geocoder89/barterhub/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobsRepo is the outbox table. The api enqueues into it, inside the same
// transaction as the change that caused the job when there is one, and the
// worker claims from it.
type JobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *JobsRepo {
	return &JobsRepo{pool: pool, prom: prom}
}

func (r *JobsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// execer is what both the pool and an open transaction offer.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const jobColumns = `id, type, payload, status, attempts, max_attempts,
	run_at, locked_at, locked_by, last_error, idempotency_key, priority, user_id,
	created_at, updated_at`

func scanJob(row pgx.Row) (job.Job, error) {
	var j job.Job
	var status string
	err := row.Scan(
		&j.ID, &j.Type, &j.Payload, &status, &j.Attempts, &j.MaxAttempts,
		&j.RunAt, &j.LockedAt, &j.LockedBy, &j.LastError, &j.IdempotencyKey, &j.Priority, &j.UserID,
		&j.CreatedAt, &j.UpdatedAt,
	)
	j.Status = job.Status(status)
	return j, err
}

// insert writes a new job. A request whose idempotency key is already taken
// resolves to the job that holds it, so replays never fail a transaction.
func (r *JobsRepo) insert(ctx context.Context, q execer, op string, req job.CreateRequest) (job.Job, error) {
	j := job.New(req)

	var stored job.Job
	err := r.observe(op, func() error {
		var e error
		stored, e = scanJob(q.QueryRow(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING `+jobColumns,
			j.ID, j.Type, j.Payload, string(j.Status), j.Attempts, j.MaxAttempts,
			j.RunAt, j.LockedAt, j.LockedBy, j.LastError, req.IdempotencyKey, j.Priority, j.UserID,
			j.CreatedAt, j.UpdatedAt,
		))
		return e
	})
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || req.IdempotencyKey == nil {
		return job.Job{}, err
	}
	return r.byKey(ctx, q, *req.IdempotencyKey)
}

// Enqueue stores a job outside any transaction.
func (r *JobsRepo) Enqueue(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	return r.insert(ctx, r.pool, "jobs.enqueue", req)
}

// CreateTx stores a job as part of tx; it is only visible once tx commits.
func (r *JobsRepo) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
	return r.insert(ctx, tx, "jobs.enqueue_tx", req)
}

func (r *JobsRepo) GetByIdempotencyKey(ctx context.Context, key string) (job.Job, error) {
	return r.byKey(ctx, r.pool, key)
}

func (r *JobsRepo) byKey(ctx context.Context, q execer, key string) (job.Job, error) {
	var j job.Job
	err := r.observe("jobs.get_by_idempotency_key", func() error {
		var e error
		j, e = scanJob(q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key))
		return e
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, err
}

// release moves a job out of processing. set is the extra assignments for
// the target state, starting at $2.
func (r *JobsRepo) release(ctx context.Context, op, id, set string, args ...any) error {
	var tag pgconn.CommandTag
	err := r.observe(op, func() error {
		var e error
		tag, e = r.pool.Exec(ctx, `
		UPDATE jobs
		SET `+set+`,
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE id = $1`, append([]any{id}, args...)...)
		return e
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

func (r *JobsRepo) MarkDone(ctx context.Context, id string) error {
	return r.release(ctx, "jobs.mark_done", id, `status = 'done', last_error = NULL`)
}

func (r *JobsRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.release(ctx, "jobs.mark_failed", id, `status = 'failed', last_error = $2`, errMsg)
}

// Reschedule puts the job back in the queue after a failed attempt.
func (r *JobsRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	return r.release(ctx, "jobs.reschedule", id,
		`status = 'pending', attempts = attempts + 1, run_at = $2, last_error = $3`, runAt, errMsg)
}

// ClaimNext locks the most urgent runnable job for workerID. Concurrent
// workers skip rows another worker already holds.
func (r *JobsRepo) ClaimNext(ctx context.Context, workerID string) (job.Job, error) {
	var j job.Job
	err := r.observe("jobs.claim_next", func() error {
		var e error
		j, e = scanJob(r.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id
			FROM jobs
			WHERE status = 'pending'
			  AND run_at <= NOW()
			  AND attempts < max_attempts
			ORDER BY priority DESC, run_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs
		SET status = 'processing',
		    locked_at = NOW(),
		    locked_by = $1,
		    updated_at = NOW()
		WHERE id = (SELECT id FROM next)
		RETURNING `+jobColumns, workerID))
		return e
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, err
}

// RequeueStaleProcessing returns jobs whose worker stopped renewing the lock
// for longer than lockTTL.
func (r *JobsRepo) RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error) {
	secs := int64(lockTTL.Seconds())
	if secs <= 0 {
		secs = 30
	}

	var tag pgconn.CommandTag
	err := r.observe("jobs.requeue_stale", func() error {
		var e error
		tag, e = r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending',
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE status = 'processing'
		  AND locked_at < NOW() - ($1 * INTERVAL '1 second')
	`, secs)
		return e
	})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListCursor pages jobs newest first using the (updated_at, id) keyset.
func (r *JobsRepo) ListCursor(
	ctx context.Context,
	status *string,
	limit int,
	afterUpdatedAt time.Time,
	afterID string,
) (items []job.Job, nextCursor *string, hasMore bool, err error) {
	args := []any{afterUpdatedAt, afterID}
	where := []string{"(updated_at, id) < ($1, $2)"}
	if status != nil {
		args = append(args, *status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, limit+1)

	q := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", len(args))

	var rows pgx.Rows
	err = r.observe("jobs.admin.list_cursor", func() error {
		var e error
		rows, e = r.pool.Query(ctx, q, args...)
		return e
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	items = make([]job.Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, nil, false, err
		}
		items = append(items, j)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, err
	}

	if len(items) <= limit {
		return items, nil, false, nil
	}

	items = items[:limit]
	last := items[limit-1]
	cur, err := utils.EncodeJobCursor(last.UpdatedAt, last.ID)
	if err != nil {
		return nil, nil, false, err
	}
	return items, &cur, true, nil
}

func (r *JobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	var j job.Job
	err := r.observe("jobs.admin.get_by_id", func() error {
		var e error
		j, e = scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
		return e
	})
	if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, err
}

// Retry requeues one failed job. Jobs in any other state are left alone and
// reported as ErrJobNotFailed.
func (r *JobsRepo) Retry(ctx context.Context, id string) error {
	var prev string
	err := r.observe("jobs.admin.retry", func() error {
		return r.pool.QueryRow(ctx, `
		WITH target AS (
			SELECT id, status FROM jobs WHERE id = $1 FOR UPDATE
		), requeued AS (
			UPDATE jobs
			SET status = 'pending',
			    run_at = NOW(),
			    locked_at = NULL,
			    locked_by = NULL,
			    last_error = NULL,
			    updated_at = NOW()
			WHERE id = (SELECT id FROM target WHERE status = 'failed')
			RETURNING id
		)
		SELECT status FROM target
	`, id).Scan(&prev)
	})
	if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
		return job.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	if prev != string(job.StatusFailed) {
		return job.ErrJobNotFailed
	}
	return nil
}

// RetryManyFailed requeues up to limit failed jobs, most recently failed first.
func (r *JobsRepo) RetryManyFailed(ctx context.Context, limit int) (int64, error) {
	limit = min(max(limit, 1), 500)

	var tag pgconn.CommandTag
	err := r.observe("jobs.admin.retry_many_failed", func() error {
		var e error
		tag, e = r.pool.Exec(ctx, `
		WITH picked AS (
			SELECT id
			FROM jobs
			WHERE status = 'failed'
			ORDER BY updated_at DESC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs
		SET status = 'pending',
		    run_at = NOW(),
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id IN (SELECT id FROM picked)
	`, limit)
		return e
	})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
