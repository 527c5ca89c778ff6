package models

import "time"

const (
	AlertLevelNone = ""
	AlertLevelWarn = "warn"
	AlertLevelCrit = "crit"
)

// SpikeAlertState is the singleton cooldown record for the failure spike
// monitor. Exactly one row (ID 1) exists; LastAlertAt decides whether a new
// alert may fire.
type SpikeAlertState struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	LastAlertAt *time.Time `gorm:"type:timestamp;default:null" json:"last_alert_at,omitempty"`
	LastLevel   string     `gorm:"type:varchar(10);default:''" json:"last_level"`
	LastCount   int        `gorm:"default:0" json:"last_count"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
