package repository

import (
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetOrCreateByEmail(email, name string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	GetSettings(userID uint) (*models.UserSettings, error)
	SaveSettings(us *models.UserSettings) error
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// OrderRepository defines the interface for order persistence, the lease
// primitive and the runnable-order sweep. Status changes never go through
// here, they go through the orderflow engine.
type OrderRepository interface {
	Create(order *models.Order) error
	CreateIfNotExists(order *models.Order) (bool, *models.Order, error)
	GetByID(id uint) (*models.Order, error)
	GetByOrderNo(orderNo string) (*models.Order, error)
	GetByProviderSession(provider, sessionID string) (*models.Order, error)
	SetNeedsRun(id uint, needsRun bool) error
	SetDeliverableKey(id uint, key string) error
	RecordAttemptFailure(id uint, lastError string) error
	AcquireLock(id uint, owner string, lease time.Duration) (bool, error)
	ReleaseLock(id uint, owner string) (bool, error)
	FindRunnable(now time.Time, limit int) ([]models.Order, error)
	List(offset, limit int) ([]models.Order, error)
	ListByStatus(status string, offset, limit int) ([]models.Order, error)
	Count() (int64, error)
	CountByStatus(status string) (int64, error)
	TimelineByOrderID(orderID uint) ([]models.OrderTransition, error)
}

// MessageLogRepository defines the interface for the notification audit log
// and the atomic dispatch claim.
type MessageLogRepository interface {
	Create(log *models.MessageLog) error
	ClaimSend(log *models.MessageLog) (bool, error)
	MarkSent(id uint, providerMessageID string) error
	MarkFailed(id uint, errorType string) error
	HasSentForKey(idempotencyKey string) (bool, error)
	GetByID(id uint) (*models.MessageLog, error)
	CountFailedSince(since time.Time) (int64, error)
	FindStaleQueued(olderThan time.Time, limit int) ([]models.MessageLog, error)
	ListRecent(offset, limit int) ([]models.MessageLog, error)
	ListByOrderID(orderID uint) ([]models.MessageLog, error)
}

// RetryRepository defines the interface for the notification retry queue.
type RetryRepository interface {
	Enqueue(item *models.NotificationRetry) error
	Due(now time.Time, limit int) ([]models.NotificationRetry, error)
	Reschedule(item *models.NotificationRetry) error
	Delete(id uint) error
	List(offset, limit int) ([]models.NotificationRetry, error)
	Count() (int64, error)
}

// TemplateRepository defines the interface for message templates.
type TemplateRepository interface {
	GetActiveByKey(templateKey string) (*models.MessageTemplate, error)
	Upsert(template *models.MessageTemplate) error
	List() ([]models.MessageTemplate, error)
}

// SpikeStateRepository manages the singleton alert cooldown record.
type SpikeStateRepository interface {
	Get() (*models.SpikeAlertState, error)
	Save(state *models.SpikeAlertState) error
}

// CacheRepository defines the interface for cache/counter inspection used by
// the admin surface (throttle windows live in Redis).
type CacheRepository interface {
	GetValue(key string) (string, error)
	GetTTL(key string) (time.Duration, error)
	DeleteKey(key string) (int64, error)
	FindKeysByPatterns(patterns []string) ([]string, error)
	DeleteKeys(keys []string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User       UserRepository
	Order      OrderRepository
	MessageLog MessageLogRepository
	Retry      RetryRepository
	Template   TemplateRepository
	SpikeState SpikeStateRepository
	Cache      CacheRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:       NewUserRepository(db),
		Order:      NewOrderRepository(db),
		MessageLog: NewMessageLogRepository(db),
		Retry:      NewRetryRepository(db),
		Template:   NewTemplateRepository(db),
		SpikeState: NewSpikeStateRepository(db),
		Cache:      NewCacheRepository(),
	}
}
