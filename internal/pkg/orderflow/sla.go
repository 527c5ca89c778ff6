package orderflow

import (
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
)

// SLAPaused reports whether the given status stops the SLA clock. Waiting on
// the customer does not count against fulfilment time.
func SLAPaused(status string) bool {
	return status == models.OrderStatusClientInputRequired
}

// SLAAccrued computes the fulfilment time consumed by an order: wall time
// since it entered paid minus the cumulative time spent in paused statuses.
// It is recomputed from the timeline on every read and never stored, the
// transitions must be ordered oldest first.
func SLAAccrued(transitions []models.OrderTransition, now time.Time) time.Duration {
	var total time.Duration
	started := false
	var cursor time.Time
	var status string

	for _, tr := range transitions {
		if started {
			if !SLAPaused(status) {
				total += tr.CreatedAt.Sub(cursor)
			}
		} else if tr.ToStatus == models.OrderStatusPaid {
			started = true
		}
		cursor = tr.CreatedAt
		status = tr.ToStatus

		if started && IsTerminal(status) {
			return total
		}
	}

	if started && !SLAPaused(status) {
		total += now.Sub(cursor)
	}
	return total
}
