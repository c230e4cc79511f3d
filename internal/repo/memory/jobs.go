package memory

import (
	"context"
	"sort"
	"time"

	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/utils"
)

type JobsRepo struct {
	s *Store
}

// insertJobLocked stores the job unless its idempotency key was already used. Caller holds s.mu.
func (s *Store) insertJobLocked(req job.CreateRequest) job.Job {
	if req.IdempotencyKey != nil {
		if id, ok := s.jobKeys[*req.IdempotencyKey]; ok {
			return s.jobs[id]
		}
	}

	j := job.New(req)
	s.jobs[j.ID] = j
	if j.IdempotencyKey != nil {
		s.jobKeys[*j.IdempotencyKey] = j.ID
	}
	return j
}

func (r *JobsRepo) Enqueue(_ context.Context, req job.CreateRequest) (job.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.insertJobLocked(req), nil
}

func (r *JobsRepo) ClaimNext(_ context.Context, workerID string) (job.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()

	var next *job.Job
	for _, j := range r.s.jobs {
		if j.Status != job.StatusPending || j.RunAt.After(now) || j.Attempts >= j.MaxAttempts {
			continue
		}
		if next == nil || claimsBefore(j, *next) {
			c := j
			next = &c
		}
	}

	if next == nil {
		return job.Job{}, job.ErrJobNotFound
	}

	next.Status = job.StatusProcessing
	next.LockedAt = &now
	next.LockedBy = &workerID
	next.UpdatedAt = now
	r.s.jobs[next.ID] = *next

	return *next, nil
}

// claimsBefore matches ORDER BY priority DESC, run_at ASC, created_at ASC.
func claimsBefore(a, b job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (r *JobsRepo) update(id string, fn func(j *job.Job)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return job.ErrJobNotFound
	}
	fn(&j)
	j.UpdatedAt = time.Now().UTC()
	r.s.jobs[id] = j
	return nil
}

func (r *JobsRepo) MarkDone(_ context.Context, id string) error {
	return r.update(id, func(j *job.Job) {
		j.Status = job.StatusDone
		j.LockedAt = nil
		j.LockedBy = nil
		j.LastError = nil
	})
}

func (r *JobsRepo) MarkFailed(_ context.Context, id string, errMsg string) error {
	return r.update(id, func(j *job.Job) {
		j.Status = job.StatusFailed
		j.LockedAt = nil
		j.LockedBy = nil
		j.LastError = &errMsg
	})
}

func (r *JobsRepo) Reschedule(_ context.Context, id string, runAt time.Time, errMsg string) error {
	return r.update(id, func(j *job.Job) {
		j.Status = job.StatusPending
		j.Attempts++
		j.RunAt = runAt
		j.LockedAt = nil
		j.LockedBy = nil
		j.LastError = &errMsg
	})
}

func (r *JobsRepo) RequeueStaleProcessing(_ context.Context, lockTTL time.Duration) (int64, error) {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-lockTTL)
	var n int64
	for id, j := range r.s.jobs {
		if j.Status == job.StatusProcessing && j.LockedAt != nil && j.LockedAt.Before(cutoff) {
			j.Status = job.StatusPending
			j.LockedAt = nil
			j.LockedBy = nil
			j.UpdatedAt = time.Now().UTC()
			r.s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (r *JobsRepo) GetByID(_ context.Context, id string) (job.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, nil
}

func (r *JobsRepo) ListCursor(
	_ context.Context,
	status *string,
	limit int,
	afterUpdatedAt time.Time,
	afterID string,
) (items []job.Job, nextCursor *string, hasMore bool, err error) {
	r.s.mu.RLock()
	all := make([]job.Job, 0, len(r.s.jobs))
	for _, j := range r.s.jobs {
		if status != nil && string(j.Status) != *status {
			continue
		}
		// (updated_at, id) < cursor
		if j.UpdatedAt.After(afterUpdatedAt) || (j.UpdatedAt.Equal(afterUpdatedAt) && j.ID >= afterID) {
			continue
		}
		all = append(all, j)
	}
	r.s.mu.RUnlock()

	sort.Slice(all, func(a, b int) bool {
		if !all[a].UpdatedAt.Equal(all[b].UpdatedAt) {
			return all[a].UpdatedAt.After(all[b].UpdatedAt)
		}
		return all[a].ID > all[b].ID
	})

	if len(all) > limit {
		hasMore = true
		all = all[:limit]
		last := all[len(all)-1]

		cur, encErr := utils.EncodeJobCursor(last.UpdatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return all, nextCursor, hasMore, nil
}

func (r *JobsRepo) Retry(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if j.Status != job.StatusFailed {
		return job.ErrJobNotFailed
	}

	now := time.Now().UTC()
	j.Status = job.StatusPending
	j.RunAt = now
	j.LastError = nil
	j.UpdatedAt = now
	r.s.jobs[id] = j
	return nil
}

func (r *JobsRepo) RetryManyFailed(_ context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	failed := make([]job.Job, 0)
	for _, j := range r.s.jobs {
		if j.Status == job.StatusFailed {
			failed = append(failed, j)
		}
	}
	sort.Slice(failed, func(a, b int) bool { return failed[a].UpdatedAt.After(failed[b].UpdatedAt) })
	if len(failed) > limit {
		failed = failed[:limit]
	}

	now := time.Now().UTC()
	for _, j := range failed {
		j.Status = job.StatusPending
		j.RunAt = now
		j.LastError = nil
		j.UpdatedAt = now
		r.s.jobs[j.ID] = j
	}
	return int64(len(failed)), nil
}

// Pending lists jobs that have not run yet; tests use it to inspect the outbox.
func (r *JobsRepo) Pending() []job.Job {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]job.Job, 0)
	for _, j := range r.s.jobs {
		if j.Status == job.StatusPending {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return claimsBefore(out[a], out[b]) })
	return out
}
