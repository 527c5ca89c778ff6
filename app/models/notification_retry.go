package models

import "time"

// NotificationRetry is one scheduled re-send of a deferred or failed
// notification. The sweep consumes due rows, re-invokes the orchestrator
// with the same idempotency key and either deletes the row (done) or
// reschedules it with backoff until GiveupAfter attempts are exhausted.
// At most one row exists per idempotency key.
type NotificationRetry struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	MessageLogID   uint      `gorm:"not null;index" json:"message_log_id"`
	TemplateKey    string    `gorm:"type:varchar(100);not null" json:"template_key"`
	Channel        string    `gorm:"type:varchar(20);not null" json:"channel"`
	SubjectID      uint      `gorm:"not null" json:"subject_id"`
	OrderID        uint      `gorm:"default:0" json:"order_id"`
	IdempotencyKey string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_notification_retries_key" json:"idempotency_key"`
	ContextJSON    string    `gorm:"type:text" json:"context_json"`
	NextAttemptAt  time.Time `gorm:"type:timestamp;not null;index" json:"next_attempt_at"`
	AttemptsSoFar  int       `gorm:"default:0" json:"attempts_so_far"`
	GiveupAfter    int       `gorm:"default:5" json:"giveup_after"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
