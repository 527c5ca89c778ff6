package repository

import (
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/orderflow"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates a new order in the database
func (r *orderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

// CreateIfNotExists inserts the order unless one already exists for its
// provider checkout session. Two intakes racing on the same session both
// attempt the insert; the loser gets created=false and the stored row,
// identical to finding a pre-existing order.
func (r *orderRepository) CreateIfNotExists(order *models.Order) (bool, *models.Order, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_session_id"},
		},
		DoNothing: true,
	}).Create(order)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.Order
	if err := r.db.Where("provider = ? AND provider_session_id = ?", order.Provider, order.ProviderSessionID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// GetByID retrieves an order by its ID
func (r *orderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	err := r.db.First(&order, id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByOrderNo retrieves an order by its public order number
func (r *orderRepository) GetByOrderNo(orderNo string) (*models.Order, error) {
	var order models.Order
	err := r.db.Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByProviderSession retrieves an order by the provider checkout session,
// the secondary dedup key for re-delivered payment events.
func (r *orderRepository) GetByProviderSession(provider, sessionID string) (*models.Order, error) {
	var order models.Order
	err := r.db.Where("provider = ? AND provider_session_id = ?", provider, sessionID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SetNeedsRun flags or clears the re-dispatch marker on an order
func (r *orderRepository) SetNeedsRun(id uint, needsRun bool) error {
	return r.db.Model(&models.Order{}).Where("id = ?", id).
		Update("needs_run", needsRun).Error
}

// SetDeliverableKey stores the docstore object key of the rendered deliverable
func (r *orderRepository) SetDeliverableKey(id uint, key string) error {
	return r.db.Model(&models.Order{}).Where("id = ?", id).
		Update("deliverable_key", key).Error
}

// RecordAttemptFailure bumps the attempt counter and stores the last error
func (r *orderRepository) RecordAttemptFailure(id uint, lastError string) error {
	return r.db.Model(&models.Order{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    lastError,
		}).Error
}

// AcquireLock claims a lease on the order with a single conditional update.
// It succeeds only when no other worker holds an unexpired lease; racing
// callers cannot both win because the WHERE clause and the write are one
// atomic statement.
func (r *orderRepository) AcquireLock(id uint, owner string, lease time.Duration) (bool, error) {
	now := time.Now()
	until := now.Add(lease)
	res := r.db.Model(&models.Order{}).
		Where("id = ? AND (locked_until IS NULL OR locked_until < ?)", id, now).
		Updates(map[string]interface{}{
			"locked_until": until,
			"locked_by":    owner,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseLock clears the lease after the owner's step completed, success or
// failure. The owner check makes the release a no-op when the lease already
// expired and another worker re-acquired it.
func (r *orderRepository) ReleaseLock(id uint, owner string) (bool, error) {
	res := r.db.Model(&models.Order{}).
		Where("id = ? AND locked_by = ?", id, owner).
		Updates(map[string]interface{}{
			"locked_until": nil,
			"locked_by":    "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindRunnable selects lock-free orders that either sit in an auto-advancing
// status or carry a needs_run flag in a re-dispatchable status. Concierge and
// priority plans surface first.
func (r *orderRepository) FindRunnable(now time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.
		Where("locked_until IS NULL OR locked_until < ?", now).
		Where(
			r.db.Where("status IN ?", orderflow.AutoAdvanceStatuses()).
				Or("needs_run = ? AND status IN ?", true, orderflow.RedispatchStatuses()),
		).
		Order("FIELD(plan, 'concierge', 'priority', 'standard'), updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// List retrieves a paginated list of orders, newest first
func (r *orderRepository) List(offset, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&orders).Error
	return orders, err
}

// ListByStatus retrieves a paginated list of orders in the given status
func (r *orderRepository) ListByStatus(status string, offset, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Where("status = ?", status).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&orders).Error
	return orders, err
}

// Count returns the total number of orders
func (r *orderRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Order{}).Count(&count).Error
	return count, err
}

// CountByStatus returns the number of orders in the given status
func (r *orderRepository) CountByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Order{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// TimelineByOrderID returns the full transition timeline, oldest first
func (r *orderRepository) TimelineByOrderID(orderID uint) ([]models.OrderTransition, error) {
	var transitions []models.OrderTransition
	err := r.db.Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&transitions).Error
	return transitions, err
}
