package models

import "time"

// MessageTemplate holds the renderable content behind a template key. Body
// and subject are Go text/template sources; RequiredFeature optionally names
// an entitlement the subject's plan must carry.
type MessageTemplate struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	TemplateKey     string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"template_key"`
	Channel         string    `gorm:"type:varchar(20);not null;index" json:"channel"`
	Subject         string    `gorm:"type:varchar(255);not null;default:''" json:"subject"`
	Body            string    `gorm:"type:text;not null" json:"body"`
	RequiredFeature string    `gorm:"type:varchar(50);default:''" json:"required_feature,omitempty"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
