package orderflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"gorm.io/gorm"
)

var (
	// ErrInvalidTransition is returned when a requested status change is not
	// in the whitelist, targets a terminal order, or fails the human gate.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrHumanGateRequired wraps ErrInvalidTransition for gated transitions
	// attempted without a human actor.
	ErrHumanGateRequired = fmt.Errorf("%w: human actor required", ErrInvalidTransition)

	// ErrTerminalState wraps ErrInvalidTransition for orders whose status
	// has no outgoing edges.
	ErrTerminalState = fmt.Errorf("%w: order is terminal", ErrInvalidTransition)

	// ErrConcurrentChange wraps ErrInvalidTransition when the order status
	// moved between read and write.
	ErrConcurrentChange = fmt.Errorf("%w: order status changed concurrently", ErrInvalidTransition)
)

// Actor identifies who asked for a transition. The engine uses it for the
// human gate and records it on the timeline.
type Actor struct {
	Type string
	ID   string
}

// Human reports whether the actor is an authenticated person rather than the
// automated pipeline.
func (a Actor) Human() bool {
	return a.Type == models.ActorTypeAdmin || a.Type == models.ActorTypeCustomer
}

// SystemActor is the pipeline identity used by workers.
func SystemActor(workerID string) Actor {
	return Actor{Type: models.ActorTypeSystem, ID: workerID}
}

// AdminActor identifies an authenticated operator.
func AdminActor(adminID string) Actor {
	return Actor{Type: models.ActorTypeAdmin, ID: adminID}
}

// CustomerActor identifies the order's customer.
func CustomerActor(userID string) Actor {
	return Actor{Type: models.ActorTypeCustomer, ID: userID}
}

type edge struct{ from, to string }

// allowed is the static transition whitelist. Everything not listed here is
// rejected, terminal statuses have no outgoing edges at all.
var allowed = map[string][]string{
	models.OrderStatusCreated:             {models.OrderStatusPaid, models.OrderStatusCancelled},
	models.OrderStatusPaid:                {models.OrderStatusQueued, models.OrderStatusFailed, models.OrderStatusCancelled},
	models.OrderStatusQueued:              {models.OrderStatusInProgress, models.OrderStatusFailed, models.OrderStatusCancelled},
	models.OrderStatusInProgress:          {models.OrderStatusDraftReady, models.OrderStatusFailed},
	models.OrderStatusDraftReady:          {models.OrderStatusInternalReview, models.OrderStatusFailed},
	models.OrderStatusInternalReview:      {models.OrderStatusFinalising, models.OrderStatusRegenRequested, models.OrderStatusClientInputRequired, models.OrderStatusCancelled},
	models.OrderStatusRegenRequested:      {models.OrderStatusRegenerating, models.OrderStatusFailed, models.OrderStatusCancelled},
	models.OrderStatusClientInputRequired: {models.OrderStatusRegenerating, models.OrderStatusCancelled},
	models.OrderStatusRegenerating:        {models.OrderStatusInternalReview, models.OrderStatusFailed},
	models.OrderStatusFinalising:          {models.OrderStatusDelivering, models.OrderStatusFailed},
	models.OrderStatusDelivering:          {models.OrderStatusCompleted, models.OrderStatusDeliveryFailed, models.OrderStatusFailed},
	models.OrderStatusDeliveryFailed:      {models.OrderStatusDelivering, models.OrderStatusCancelled},
	models.OrderStatusFailed:              {models.OrderStatusQueued, models.OrderStatusCancelled},
	models.OrderStatusCompleted:           {},
	models.OrderStatusCancelled:           {},
}

// humanGated lists the transitions the engine only applies for a human actor.
var humanGated = map[edge]struct{}{
	{models.OrderStatusInternalReview, models.OrderStatusFinalising}:          {},
	{models.OrderStatusInternalReview, models.OrderStatusRegenRequested}:      {},
	{models.OrderStatusInternalReview, models.OrderStatusClientInputRequired}: {},
	{models.OrderStatusFailed, models.OrderStatusQueued}:                      {},
	{models.OrderStatusDeliveryFailed, models.OrderStatusDelivering}:          {},
}

// Statuses returns every known order status.
func Statuses() []string {
	out := make([]string, 0, len(allowed))
	for s := range allowed {
		out = append(out, s)
	}
	return out
}

// Allowed reports whether from -> to is in the whitelist.
func Allowed(from, to string) bool {
	for _, t := range allowed[from] {
		if t == to {
			return true
		}
	}
	return false
}

// HumanGated reports whether from -> to requires a human actor.
func HumanGated(from, to string) bool {
	_, ok := humanGated[edge{from, to}]
	return ok
}

// IsTerminal reports whether the status has no outgoing transitions.
func IsTerminal(status string) bool {
	targets, known := allowed[status]
	return known && len(targets) == 0
}

// AutoAdvanceStatuses lists statuses the worker advances without any
// external signal. An order resting in one of these is runnable.
func AutoAdvanceStatuses() []string {
	return []string{
		models.OrderStatusPaid,
		models.OrderStatusQueued,
		models.OrderStatusInProgress,
		models.OrderStatusDraftReady,
		models.OrderStatusRegenRequested,
		models.OrderStatusRegenerating,
		models.OrderStatusFinalising,
		models.OrderStatusDelivering,
	}
}

// RedispatchStatuses lists statuses where only a needs_run flag makes the
// order runnable again, the worker re-sends notifications without moving it.
func RedispatchStatuses() []string {
	return []string{
		models.OrderStatusInternalReview,
		models.OrderStatusClientInputRequired,
	}
}

// Engine validates and applies order transitions against the whitelist and
// appends the immutable timeline record for every applied change. All status
// mutations outside lock acquisition go through here.
type Engine struct {
	db *gorm.DB
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// Apply moves the order to the target status. It rejects transitions outside
// the whitelist, gated transitions without a human actor, and any transition
// out of a terminal status. On success the order row and the in-memory struct
// carry the new status, needs_run is cleared and a timeline entry exists.
func (e *Engine) Apply(ctx context.Context, order *models.Order, to string, actor Actor, reason string) error {
	from := order.Status

	if IsTerminal(from) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrTerminalState)
	}
	if !Allowed(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	if HumanGated(from, to) && !actor.Human() {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrHumanGateRequired)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":    to,
		"needs_run": false,
	}
	switch to {
	case models.OrderStatusPaid:
		if order.PaidAt == nil {
			updates["paid_at"] = &now
		}
	case models.OrderStatusCompleted:
		updates["delivered_at"] = &now
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Guard on the from-status so racing writers cannot fork the
		// timeline; the loser sees zero rows and backs off.
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", order.ID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("order %s: %w", order.OrderNo, ErrConcurrentChange)
		}

		return tx.Create(&models.OrderTransition{
			OrderID:    order.ID,
			FromStatus: from,
			ToStatus:   to,
			ActorType:  actor.Type,
			ActorID:    actor.ID,
			Reason:     reason,
		}).Error
	})
	if err != nil {
		return err
	}

	order.Status = to
	order.NeedsRun = false
	if paidAt, ok := updates["paid_at"].(*time.Time); ok {
		order.PaidAt = paidAt
	}
	if deliveredAt, ok := updates["delivered_at"].(*time.Time); ok {
		order.DeliveredAt = deliveredAt
	}
	return nil
}
