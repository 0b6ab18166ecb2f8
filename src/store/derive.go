package store

import (
	"time"

	"queue-sync/src/models"
	"queue-sync/src/utils"
)

// DeriveOptions projects a snapshot onto a selection. It is pure: the result
// depends only on its arguments, keeps the server's queue order, and is
// empty when there is no snapshot, no date, no service, or the snapshot
// belongs to a different date than the one selected.
//
// Unavailable queues are listed with Available=false so the UI can show
// them, but they are never submittable.
func DeriveOptions(snapshot *models.MQueueSnapshot, sel models.MSelection, loc *time.Location) []models.MQueueOption {
	options := []models.MQueueOption{}
	if snapshot == nil || !sel.Complete() {
		return options
	}
	if snapshot.Date != sel.Date {
		return options
	}

	selected := ""
	if sel.HasQueue() {
		selected = *sel.QueueID
	}

	for _, q := range snapshot.Queues {
		opt := models.MQueueOption{
			QueueID:       q.ID,
			Name:          q.Name,
			Position:      q.Position,
			WaitMinutes:   q.WaitMinutes,
			WaitRange:     q.WaitRange,
			EstimatedTime: q.EstimatedTime,
			Available:     q.Available,
			Selected:      q.ID == selected,
		}
		if q.Capacity != nil {
			c := *q.Capacity
			opt.Capacity = &c
		}
		if opt.WaitRange == "" {
			opt.WaitRange = utils.WaitRange(q.WaitMinutes)
		}
		if opt.EstimatedTime == "" {
			opt.EstimatedTime = utils.EstimatedClockTime(snapshot.ReceivedAt, q.WaitMinutes, loc)
		}
		// the backend picks at most one; an unavailable queue is never advertised
		opt.Recommended = q.Available && snapshot.RecommendedQueueID != "" && q.ID == snapshot.RecommendedQueueID

		options = append(options, opt)
	}

	return options
}

// -----------------------------------------------------------------------------

// FindOption returns the option for queueID, or nil.
func FindOption(options []models.MQueueOption, queueID string) *models.MQueueOption {
	for i := range options {
		if options[i].QueueID == queueID {
			return &options[i]
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// Submittable reports whether queueID is present and available in options.
func Submittable(options []models.MQueueOption, queueID string) bool {
	opt := FindOption(options, queueID)
	return opt != nil && opt.Available
}
