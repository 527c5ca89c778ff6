package models

import "time"

// ServicePlanMapping maps a provider-side price reference from a checkout
// payload to the internal service code and fulfilment plan.
type ServicePlanMapping struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Provider         string    `gorm:"type:varchar(20);not null;index:ux_service_plan_mappings_ref,unique,priority:1;index" json:"provider"`
	ProviderPriceRef string    `gorm:"type:varchar(191);not null;index:ux_service_plan_mappings_ref,unique,priority:2" json:"provider_price_ref"`
	ServiceCode      string    `gorm:"type:varchar(50);not null;index" json:"service_code"`
	Plan             string    `gorm:"type:varchar(50);not null;default:'standard'" json:"plan"`
	IsActive         bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
