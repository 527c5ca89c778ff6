package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/app/repository"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	sweepBatchSize = 50
	maxBackoff     = 30 * time.Minute

	// A dispatch row older than this that still holds its claim belongs to
	// a crashed worker.
	staleClaimAge = 10 * time.Minute
)

// RetrySweeper drains due retry items through the normal send path and
// recovers dispatch claims left behind by crashed workers.
type RetrySweeper struct {
	retries repository.RetryRepository
	logs    repository.MessageLogRepository
	sender  Sender
}

// NewRetrySweeper creates a sweeper from injected dependencies.
func NewRetrySweeper(retries repository.RetryRepository, logs repository.MessageLogRepository, sender Sender) *RetrySweeper {
	return &RetrySweeper{retries: retries, logs: logs, sender: sender}
}

// NewRetrySweeperFromDB wires the production sweeper.
func NewRetrySweeperFromDB(db *gorm.DB) *RetrySweeper {
	return NewRetrySweeper(
		repository.NewRetryRepository(db),
		repository.NewMessageLogRepository(db),
		NewOrchestratorFromDB(db),
	)
}

// SweepOnce re-sends every due retry item once. Items whose send reaches a
// settled outcome are deleted; deferred or failed sends are rescheduled with
// exponential backoff until their attempt budget runs out.
func (s *RetrySweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	items, err := s.retries.Due(now, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	for i := range items {
		s.processItem(ctx, &items[i], now)
	}
	return len(items), nil
}

func (s *RetrySweeper) processItem(ctx context.Context, item *models.NotificationRetry, now time.Time) {
	var reqCtx map[string]string
	if item.ContextJSON != "" {
		if err := json.Unmarshal([]byte(item.ContextJSON), &reqCtx); err != nil {
			log.Errorf("[NotifySweep] dropping retry %d, unreadable context: %v", item.ID, err)
			s.deleteItem(item.ID)
			return
		}
	}

	// Same idempotency key: if the original send eventually succeeded, the
	// orchestrator answers duplicate_ignored and the item is done.
	res, err := s.sender.Send(ctx, SendRequest{
		TemplateKey:    item.TemplateKey,
		SubjectID:      item.SubjectID,
		OrderID:        item.OrderID,
		Context:        reqCtx,
		IdempotencyKey: item.IdempotencyKey,
	})
	if err != nil {
		// Store trouble; the item stays due and the next sweep retries it.
		log.Errorf("[NotifySweep] retry %d errored: %v", item.ID, err)
		return
	}

	switch res.Outcome {
	case OutcomeSent, OutcomeDuplicateIgnored, OutcomeBlocked:
		s.deleteItem(item.ID)
	case OutcomeDeferredThrottled, OutcomeFailed:
		item.AttemptsSoFar++
		if item.AttemptsSoFar > item.GiveupAfter {
			s.deadLetter(ctx, item)
			return
		}
		item.NextAttemptAt = now.Add(backoffDelay(item.AttemptsSoFar))
		if err := s.retries.Reschedule(item); err != nil {
			log.Errorf("[NotifySweep] failed to reschedule retry %d: %v", item.ID, err)
		}
	}
}

// deadLetter drops an exhausted item and surfaces it to operators. An
// undeliverable ops alert must not spawn another ops alert.
func (s *RetrySweeper) deadLetter(ctx context.Context, item *models.NotificationRetry) {
	s.deleteItem(item.ID)
	log.Errorf("[NotifySweep] giving up on key %s after %d attempts (template %s, channel %s)",
		item.IdempotencyKey, item.AttemptsSoFar, item.TemplateKey, item.Channel)

	if item.TemplateKey == TemplateOpsAlert {
		return
	}
	alert := OpsAlertRequest(
		"dead-letter:"+item.IdempotencyKey,
		fmt.Sprintf("notification dead-lettered after %d attempts", item.AttemptsSoFar),
		fmt.Sprintf("template=%s channel=%s key=%s order=%d", item.TemplateKey, item.Channel, item.IdempotencyKey, item.OrderID),
	)
	if _, err := s.sender.Send(ctx, alert); err != nil {
		log.Errorf("[NotifySweep] failed to send dead-letter alert for %s: %v", item.IdempotencyKey, err)
	}
}

func (s *RetrySweeper) deleteItem(id uint) {
	if err := s.retries.Delete(id); err != nil {
		log.Errorf("[NotifySweep] failed to delete retry %d: %v", id, err)
	}
}

// RecoverStaleClaims fails dispatch rows stuck in queued past the staleness
// window, releasing their claims. Whether the crashed attempt reached the
// provider is unknowable; releasing the claim lets the next trigger for the
// key send again, trading a possible provider-level duplicate for delivery.
func (s *RetrySweeper) RecoverStaleClaims(now time.Time) (int, error) {
	rows, err := s.logs.FindStaleQueued(now.Add(-staleClaimAge), sweepBatchSize)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range rows {
		row := &rows[i]
		if err := s.logs.MarkFailed(row.ID, "stale_claim"); err != nil {
			log.Errorf("[NotifySweep] failed to release stale claim on row %d: %v", row.ID, err)
			continue
		}
		log.Warnf("[NotifySweep] released stale claim on key %s (row %d)", row.IdempotencyKey, row.ID)
		recovered++
	}
	return recovered, nil
}

// backoffDelay doubles per attempt from the base, capped so an old item
// still retries on a useful cadence.
func backoffDelay(attempts int) time.Duration {
	d := retryBackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
