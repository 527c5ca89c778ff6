package intake

import (
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/app/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the ledger, mapping and order/user operations the
// intake service needs.
type Repository interface {
	CreateEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkEventProcessed(id uint, processingError string) error
	FindActivePlanMapping(provider, priceRef string) (*models.ServicePlanMapping, error)
	GetOrCreateUserByEmail(email, name string) (*models.User, error)
	CreateOrderIfNotExists(order *models.Order) (bool, *models.Order, error)
	SetOrderNeedsRun(id uint, needsRun bool) error
	GetOrderByProviderSession(provider, sessionID string) (*models.Order, error)
}

type gormRepository struct {
	db     *gorm.DB
	orders repository.OrderRepository
	users  repository.UserRepository
}

// NewRepository creates an intake repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{
		db:     db,
		orders: repository.NewOrderRepository(db),
		users:  repository.NewUserRepository(db),
	}
}

// CreateEventIfNotExists is the dedup point of the whole intake: an atomic
// unique insert on (provider, provider_event_id). Losing the insert race and
// finding a pre-existing row are the same outcome, created=false.
func (r *gormRepository) CreateEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// MarkEventProcessed stamps the ledger row with the processing outcome.
func (r *gormRepository) MarkEventProcessed(id uint, processingError string) error {
	now := time.Now()
	status := models.PaymentEventStatusProcessed
	if processingError != "" {
		status = models.PaymentEventStatusFailed
	}
	updates := map[string]interface{}{
		"status":           status,
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// FindActivePlanMapping resolves a provider price reference to the internal
// service code and plan.
func (r *gormRepository) FindActivePlanMapping(provider, priceRef string) (*models.ServicePlanMapping, error) {
	var m models.ServicePlanMapping
	err := r.db.
		Where("provider = ? AND provider_price_ref = ? AND is_active = ?", provider, priceRef, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) GetOrCreateUserByEmail(email, name string) (*models.User, error) {
	return r.users.GetOrCreateByEmail(email, name)
}

func (r *gormRepository) CreateOrderIfNotExists(order *models.Order) (bool, *models.Order, error) {
	return r.orders.CreateIfNotExists(order)
}

func (r *gormRepository) SetOrderNeedsRun(id uint, needsRun bool) error {
	return r.orders.SetNeedsRun(id, needsRun)
}

func (r *gormRepository) GetOrderByProviderSession(provider, sessionID string) (*models.Order, error) {
	return r.orders.GetByProviderSession(provider, sessionID)
}
