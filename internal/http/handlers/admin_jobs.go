package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/geocoder89/barterhub/internal/config"
	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/http/middlewares"
	"github.com/geocoder89/barterhub/internal/utils"
	"github.com/gin-gonic/gin"
)

// AdminJobsRepo is the operator view of the outbox.
type AdminJobsRepo interface {
	ListCursor(
		ctx context.Context,
		status *string,
		limit int,
		afterUpdatedAt time.Time,
		afterID string,
	) (items []job.Job, nextCursor *string, hasMore bool, err error)
	GetByID(ctx context.Context, id string) (job.Job, error)
	Retry(ctx context.Context, id string) error
	RetryManyFailed(ctx context.Context, limit int) (int64, error)
}

type AdminJobsHandler struct {
	repo AdminJobsRepo
}

func NewAdminJobsHandler(repo AdminJobsRepo) *AdminJobsHandler {
	return &AdminJobsHandler{repo: repo}
}

type jobPage struct {
	Items      []job.Job `json:"items"`
	Count      int       `json:"count"`
	Limit      int       `json:"limit"`
	HasMore    bool      `json:"hasMore"`
	NextCursor *string   `json:"nextCursor"`
}

// queryLimit reads ?limit, answering 400 itself when it is out of range.
func queryLimit(ctx *gin.Context, fallback, maxLimit int) (int, bool) {
	raw := ctx.Query("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		RespondBadRequest(ctx, "limit must be a number between 1 and "+strconv.Itoa(maxLimit), nil)
		return 0, false
	}
	return n, true
}

func jobIDParam(ctx *gin.Context) (string, bool) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", nil)
		return "", false
	}
	return id, true
}

// List pages the outbox newest first.
// GET /admin/jobs?status=failed&limit=20&cursor=...
func (h *AdminJobsHandler) List(ctx *gin.Context) {
	limit, ok := queryLimit(ctx, 20, 100)
	if !ok {
		return
	}

	var status *string
	if s := ctx.Query("status"); s != "" {
		if _, ok := job.ParseStatus(s); !ok {
			RespondBadRequest(ctx, "status must be one of pending, processing, done, failed", nil)
			return
		}
		status = &s
	}

	after := utils.FirstJobPage()
	if raw := ctx.Query("cursor"); raw != "" {
		cur, err := utils.DecodeJobCursor(raw)
		if err != nil {
			RespondBadRequest(ctx, "cursor is invalid", nil)
			return
		}
		after = cur
	}

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	items, next, hasMore, err := h.repo.ListCursor(cctx, status, limit, after.UpdatedAt, after.ID)
	if err != nil {
		RespondInternal(ctx, "Could not list jobs")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, jobPage{
		Items:      items,
		Count:      len(items),
		Limit:      limit,
		HasMore:    hasMore,
		NextCursor: next,
	})
}

// GET /admin/jobs/:id
func (h *AdminJobsHandler) GetByID(ctx *gin.Context) {
	id, ok := jobIDParam(ctx)
	if !ok {
		return
	}

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	j, err := h.repo.GetByID(cctx, id)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		RespondNotFound(ctx, "Job not found")
	case err != nil:
		RespondInternal(ctx, "Could not fetch job")
	default:
		RespondJSONWithETag(ctx, http.StatusOK, j)
	}
}

// Retry requeues a single failed job.
// POST /admin/jobs/:id/retry
func (h *AdminJobsHandler) Retry(ctx *gin.Context) {
	id, ok := jobIDParam(ctx)
	if !ok {
		return
	}

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	err := h.repo.Retry(cctx, id)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		RespondNotFound(ctx, "Job not found")
	case errors.Is(err, job.ErrJobNotFailed):
		RespondConflict(ctx, "job_not_failed", "Only failed jobs can be retried")
	case err != nil:
		RespondInternal(ctx, "Could not retry job")
	default:
		ctx.JSON(http.StatusOK, gin.H{"jobId": id, "status": job.StatusPending})
	}
}

// ReprocessDead requeues up to ?limit failed jobs.
// POST /admin/jobs/reprocess-dead
func (h *AdminJobsHandler) ReprocessDead(ctx *gin.Context) {
	limit, ok := queryLimit(ctx, 50, 500)
	if !ok {
		return
	}

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	n, err := h.repo.RetryManyFailed(cctx, limit)
	if err != nil {
		RespondInternal(ctx, "Could not reprocess dead jobs")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"requeued": n})
}
