package repository

import (
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// retryRepository implements the RetryRepository interface
type retryRepository struct {
	db *gorm.DB
}

// NewRetryRepository creates a new retry queue repository instance
func NewRetryRepository(db *gorm.DB) RetryRepository {
	return &retryRepository{db: db}
}

// Enqueue schedules a notification re-send. One item per idempotency key:
// when the sweep already holds an item for the key the insert is a no-op
// and the existing schedule wins.
func (r *retryRepository) Enqueue(item *models.NotificationRetry) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(item).Error
}

// Due returns items whose next attempt time has passed, oldest first
func (r *retryRepository) Due(now time.Time, limit int) ([]models.NotificationRetry, error) {
	var items []models.NotificationRetry
	err := r.db.Where("next_attempt_at <= ?", now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// Reschedule persists the bumped attempt counter and next attempt time
func (r *retryRepository) Reschedule(item *models.NotificationRetry) error {
	return r.db.Model(&models.NotificationRetry{}).Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"attempts_so_far": item.AttemptsSoFar,
			"next_attempt_at": item.NextAttemptAt,
		}).Error
}

// Delete removes a consumed or dead-lettered item
func (r *retryRepository) Delete(id uint) error {
	return r.db.Delete(&models.NotificationRetry{}, id).Error
}

// List retrieves a paginated view of the retry queue
func (r *retryRepository) List(offset, limit int) ([]models.NotificationRetry, error) {
	var items []models.NotificationRetry
	err := r.db.Order("next_attempt_at ASC").Offset(offset).Limit(limit).Find(&items).Error
	return items, err
}

// Count returns the number of pending retry items
func (r *retryRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.NotificationRetry{}).Count(&count).Error
	return count, err
}
