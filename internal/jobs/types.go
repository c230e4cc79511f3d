package jobs

type JobType string

const (
	// JobImageCleanup removes the stored image of an item consumed by an accepted trade.
	JobImageCleanup JobType = "item.image_cleanup"

	// JobTradeNotification tells the other party that a trade changed.
	JobTradeNotification JobType = "trade.notification"
)

// check to see if the job type is a known constant

func (t JobType) IsValid() bool {
	switch t {
	case JobImageCleanup, JobTradeNotification:
		return true
	default:
		return false
	}
}
