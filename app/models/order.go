package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	OrderStatusCreated             = "created"
	OrderStatusPaid                = "paid"
	OrderStatusQueued              = "queued"
	OrderStatusInProgress          = "in_progress"
	OrderStatusDraftReady          = "draft_ready"
	OrderStatusInternalReview      = "internal_review"
	OrderStatusFinalising          = "finalising"
	OrderStatusRegenRequested      = "regen_requested"
	OrderStatusClientInputRequired = "client_input_required"
	OrderStatusRegenerating        = "regenerating"
	OrderStatusDelivering          = "delivering"
	OrderStatusCompleted           = "completed"
	OrderStatusDeliveryFailed      = "delivery_failed"
	OrderStatusFailed              = "failed"
	OrderStatusCancelled           = "cancelled"
)

// Order is a fulfilment job: one paid service order moving through the
// pipeline. Rows are never deleted; the status is a projection of the
// OrderTransition timeline and only the state machine or the lock helpers
// may mutate it.
type Order struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	OrderNo           string     `gorm:"type:char(36);not null;uniqueIndex" json:"order_no"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	User              User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ServiceCode       string     `gorm:"type:varchar(50);not null;index" json:"service_code" validate:"required,max=50"`
	Plan              string     `gorm:"type:varchar(50);not null;default:'standard'" json:"plan"`
	AmountCents       int64      `gorm:"not null;default:0" json:"amount_cents"`
	Currency          string     `gorm:"type:char(3);not null;default:'EUR'" json:"currency" validate:"len=3"`
	Provider          string     `gorm:"type:varchar(20);not null;index:ux_orders_provider_session,unique,priority:1" json:"provider"`
	ProviderSessionID string     `gorm:"type:varchar(191);not null;index:ux_orders_provider_session,unique,priority:2" json:"provider_session_id"`
	Status            string     `gorm:"type:varchar(32);not null;default:'created';index:idx_orders_status_lock,priority:1" json:"status"`
	NeedsRun          bool       `gorm:"default:false;index" json:"needs_run"`
	LockedUntil       *time.Time `gorm:"type:timestamp;default:null;index:idx_orders_status_lock,priority:2" json:"locked_until,omitempty"`
	LockedBy          string     `gorm:"type:varchar(64);default:''" json:"locked_by,omitempty"`
	AttemptCount      int        `gorm:"default:0" json:"attempt_count"`
	LastError         string     `gorm:"type:text" json:"last_error"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	DeliveredAt       *time.Time `gorm:"type:timestamp;default:null" json:"delivered_at,omitempty"`
	DeliverableKey    string     `gorm:"type:varchar(512);default:''" json:"deliverable_key,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) Validate() error {
	v := validator.New()

	return v.Struct(o)
}

// NewOrderNo returns a fresh public order number.
func NewOrderNo() string {
	return uuid.New().String()
}

// IsTerminal reports whether the order sits in a terminal status.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}

// IsLocked reports whether a worker currently holds an unexpired lease.
func (o *Order) IsLocked(now time.Time) bool {
	return o.LockedUntil != nil && o.LockedUntil.After(now)
}
