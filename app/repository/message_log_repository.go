package repository

import (
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// messageLogRepository implements the MessageLogRepository interface
type messageLogRepository struct {
	db *gorm.DB
}

// NewMessageLogRepository creates a new message log repository instance
func NewMessageLogRepository(db *gorm.DB) MessageLogRepository {
	return &messageLogRepository{db: db}
}

// Create appends a plain audit row (blocked, deferred, duplicate outcomes)
func (r *messageLogRepository) Create(log *models.MessageLog) error {
	return r.db.Create(log).Error
}

// ClaimSend inserts the dispatch row while atomically claiming the
// idempotency key through the unique send_claim column. Returns false when
// another attempt already holds the claim; the row is not written in that
// case and the caller must log its own duplicate outcome.
func (r *messageLogRepository) ClaimSend(log *models.MessageLog) (bool, error) {
	claim := log.IdempotencyKey
	log.SendClaim = &claim
	log.Status = models.MessageStatusQueued

	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "send_claim"}},
		DoNothing: true,
	}).Create(log)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// MarkSent finalizes a claimed row after the provider accepted the message.
// The claim stays set forever so the key can never reach sent again.
func (r *messageLogRepository) MarkSent(id uint, providerMessageID string) error {
	return r.db.Model(&models.MessageLog{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":              models.MessageStatusSent,
			"provider_message_id": providerMessageID,
		}).Error
}

// MarkFailed finalizes a claimed row after a dispatch failure and releases
// the claim so a retry attempt can claim the key again.
func (r *messageLogRepository) MarkFailed(id uint, errorType string) error {
	return r.db.Model(&models.MessageLog{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.MessageStatusFailed,
			"error_type": errorType,
			"send_claim": nil,
		}).Error
}

// HasSentForKey reports whether a sent row already exists for the key
func (r *messageLogRepository) HasSentForKey(idempotencyKey string) (bool, error) {
	var count int64
	err := r.db.Model(&models.MessageLog{}).
		Where("idempotency_key = ? AND status = ?", idempotencyKey, models.MessageStatusSent).
		Count(&count).Error
	return count > 0, err
}

// GetByID retrieves a message log row by its ID
func (r *messageLogRepository) GetByID(id uint) (*models.MessageLog, error) {
	var log models.MessageLog
	err := r.db.First(&log, id).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// CountFailedSince counts failed rows in the trailing window for the spike monitor
func (r *messageLogRepository) CountFailedSince(since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.MessageLog{}).
		Where("status = ? AND created_at >= ?", models.MessageStatusFailed, since).
		Count(&count).Error
	return count, err
}

// FindStaleQueued returns claimed rows stuck in queued longer than the
// staleness window, typically a worker crash between claim and outcome.
func (r *messageLogRepository) FindStaleQueued(olderThan time.Time, limit int) ([]models.MessageLog, error) {
	var logs []models.MessageLog
	err := r.db.
		Where("status = ? AND send_claim IS NOT NULL AND created_at < ?", models.MessageStatusQueued, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// ListRecent retrieves a paginated list of log rows, newest first
func (r *messageLogRepository) ListRecent(offset, limit int) ([]models.MessageLog, error) {
	var logs []models.MessageLog
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs).Error
	return logs, err
}

// ListByOrderID returns all dispatch attempts recorded for an order
func (r *messageLogRepository) ListByOrderID(orderID uint) ([]models.MessageLog, error) {
	var logs []models.MessageLog
	err := r.db.Where("order_id = ?", orderID).Order("created_at ASC").Find(&logs).Error
	return logs, err
}
