package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	MessageStatusQueued            = "queued"
	MessageStatusSent              = "sent"
	MessageStatusFailed            = "failed"
	MessageStatusDeferredThrottled = "deferred_throttled"
	MessageStatusDuplicateIgnored  = "duplicate_ignored"
	MessageStatusBlocked           = "blocked"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// MessageLog records exactly one row per notification dispatch attempt.
// SendClaim is NULL on every row except the single attempt that claimed
// dispatch for its idempotency key; the unique index on it (MySQL permits
// any number of NULLs) is what keeps a key from ever reaching sent twice.
type MessageLog struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	IdempotencyKey    string    `gorm:"type:varchar(191);not null;index" json:"idempotency_key"`
	SendClaim         *string   `gorm:"type:varchar(191);default:null;uniqueIndex:ux_message_logs_send_claim" json:"-"`
	TemplateKey       string    `gorm:"type:varchar(100);not null;index" json:"template_key"`
	Channel           string    `gorm:"type:varchar(20);not null;index:idx_message_logs_channel_status,priority:1" json:"channel"`
	RecipientHash     string    `gorm:"type:char(64);not null;default:''" json:"recipient_hash"`
	Status            string    `gorm:"type:varchar(32);not null;index:idx_message_logs_channel_status,priority:2;index:idx_message_logs_status_created,priority:1" json:"status"`
	BlockReason       string    `gorm:"type:varchar(100);default:''" json:"block_reason,omitempty"`
	ProviderMessageID string    `gorm:"type:varchar(191);default:''" json:"provider_message_id,omitempty"`
	ErrorType         string    `gorm:"type:varchar(100);default:''" json:"error_type,omitempty"`
	OrderID           uint      `gorm:"index" json:"order_id,omitempty"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index:idx_message_logs_status_created,priority:2" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HashRecipient returns the audit-safe form of a recipient address. Raw
// addresses never land in the log.
func HashRecipient(recipient string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(recipient))))
	return hex.EncodeToString(sum[:])
}
