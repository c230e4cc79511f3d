package jobs

import (
	"github.com/geocoder89/barterhub/internal/domain/job"
)

// NewImageCleanup builds the outbox row that deletes an image no item references anymore.
func NewImageCleanup(p ImageCleanupPayload) (job.CreateRequest, error) {
	raw, err := EncodePayload(JobImageCleanup, p)
	if err != nil {
		return job.CreateRequest{}, err
	}

	// one cleanup per stored image, whichever path released it
	key := "image:cleanup:" + p.ImageURL

	return job.CreateRequest{
		Type:           string(JobImageCleanup),
		Payload:        raw,
		MaxAttempts:    10,
		IdempotencyKey: &key,
	}, nil
}

func NewTradeNotification(p TradeNotificationPayload) (job.CreateRequest, error) {
	raw, err := EncodePayload(JobTradeNotification, p)
	if err != nil {
		return job.CreateRequest{}, err
	}

	key := "trade:notify:" + p.TradeID + ":" + p.Event
	uid := p.NotifyUserID()

	return job.CreateRequest{
		Type:           string(JobTradeNotification),
		Payload:        raw,
		MaxAttempts:    5,
		IdempotencyKey: &key,
		Priority:       1,
		UserID:         &uid,
	}, nil
}
