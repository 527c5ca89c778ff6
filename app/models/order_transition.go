package models

import "time"

const (
	ActorTypeSystem   = "system"
	ActorTypeAdmin    = "admin"
	ActorTypeCustomer = "customer"
)

// OrderTransition is one append-only timeline entry per applied state change.
// The timeline is the audit source for SLA accounting, admin review history
// and dispute resolution; rows are never updated or deleted.
type OrderTransition struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OrderID    uint      `gorm:"not null;index:idx_order_transitions_order_created,priority:1" json:"order_id"`
	FromStatus string    `gorm:"type:varchar(32);not null" json:"from_status"`
	ToStatus   string    `gorm:"type:varchar(32);not null;index" json:"to_status"`
	ActorType  string    `gorm:"type:varchar(20);not null;default:'system'" json:"actor_type"`
	ActorID    string    `gorm:"type:varchar(64);default:''" json:"actor_id"`
	Reason     string    `gorm:"type:varchar(500);default:''" json:"reason"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index:idx_order_transitions_order_created,priority:2" json:"created_at"`
}
