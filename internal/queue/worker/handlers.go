package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/jobs"
	"github.com/geocoder89/barterhub/internal/notifications"
	"github.com/geocoder89/barterhub/internal/storage"
)

var errUnknownJobType = errors.New("unknown job type")

func isPermanent(err error) bool {
	return jobs.IsMalformed(err) ||
		errors.Is(err, errUnknownJobType) ||
		errors.Is(err, storage.ErrUnknownRef)
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	t := jobs.JobType(j.Type)
	if !t.IsValid() {
		return fmt.Errorf("%w: %s", errUnknownJobType, j.Type)
	}

	decoded, err := jobs.DecodePayload(t, j.Payload)
	if err != nil {
		return err
	}
	if err := jobs.ValidatePayload(t, decoded); err != nil {
		return err
	}

	switch p := decoded.(type) {
	case jobs.ImageCleanupPayload:
		return w.cleanupImage(ctx, p)
	case jobs.TradeNotificationPayload:
		return w.notifyTrade(ctx, p)
	default:
		return fmt.Errorf("%w: %s", errUnknownJobType, j.Type)
	}
}

// cleanupImage deletes the stored file of a consumed or replaced item. Deleting twice is fine.
func (w *Worker) cleanupImage(ctx context.Context, p jobs.ImageCleanupPayload) error {
	if w.images == nil {
		return errors.New("no image store configured")
	}
	return w.images.Delete(ctx, p.ImageURL)
}

func (w *Worker) notifyTrade(ctx context.Context, p jobs.TradeNotificationPayload) error {
	if w.notifier == nil {
		return errors.New("no notifier configured")
	}
	return w.notifier.NotifyTrade(ctx, notifications.TradeEvent{
		TradeID:     p.TradeID,
		Event:       p.Event,
		UserID:      p.NotifyUserID(),
		ProposerID:  p.ProposerID,
		RecipientID: p.RecipientID,
		OccurredAt:  p.OccurredAt,
	})
}
