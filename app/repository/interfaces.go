package repository

import (
	"time"

	"github.com/paycycle/paycycle/app/models"
)

// DueScope restricts which schedules a due cycle evaluates.
type DueScope struct {
	UserID     *uint
	ScheduleID *uint
}

// ScheduleRepository defines database operations on recurring payment schedules.
type ScheduleRepository interface {
	Create(schedule *models.RecurringPayment) error
	GetByID(id uint) (*models.RecurringPayment, error)
	ListDue(now time.Time, scope DueScope) ([]models.RecurringPayment, error)
	// AdvanceAfterRun moves a schedule forward after a successful
	// materialization. The update is conditional on the next-run time the
	// caller observed, so concurrent processor instances cannot advance the
	// same period twice. Returns false when the guard did not match.
	AdvanceAfterRun(id uint, observedNextRun, newNextRun time.Time, occurrencesCompleted int, stillActive bool) (bool, error)
	Deactivate(id uint) error
	Update(schedule *models.RecurringPayment) error
}

// TransactionRepository defines database operations on ledger transactions.
type TransactionRepository interface {
	// CreateIfNotExists inserts the transaction unless its idempotency key is
	// already present. Returns whether a row was created.
	CreateIfNotExists(tx *models.Transaction) (bool, error)
	ExistsByIdempotencyKey(key string) (bool, error)
	GetByID(id uint) (*models.Transaction, error)
	ListByScheduleID(scheduleID uint) ([]models.Transaction, error)
	CountBySource(source string, since time.Time) (int64, error)
}

// WebhookEventRepository defines database operations on webhook idempotency markers.
type WebhookEventRepository interface {
	// CreateIfNotExists inserts the event marker unless the provider event id
	// was already recorded. Returns (created, stored row).
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
	GetByProviderEventID(provider, providerEventID string) (*models.WebhookEvent, error)
}

// SubscriptionRepository defines database operations on gateway subscriptions.
type SubscriptionRepository interface {
	Upsert(sub *models.Subscription) error
	GetByProviderSubscriptionID(provider, providerSubscriptionID string) (*models.Subscription, error)
	UpdateStatus(provider, providerSubscriptionID, status string) error
	ListByUser(userID uint) ([]models.Subscription, error)
}

// AlertRepository defines database operations on alert history.
type AlertRepository interface {
	Create(alert *models.Alert) error
	RefreshRaisedAt(id uint, raisedAt time.Time) error
	Clear(id uint, clearedAt time.Time) error
	ListActive() ([]models.Alert, error)
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// CatalogRepository defines lookups and mutations on catalog entities
// referenced by schedules (categories, vendors, products).
type CatalogRepository interface {
	CategoryExists(id uint) (bool, error)
	VendorExists(id uint) (bool, error)
	GetProduct(id uint) (*models.Product, error)
	// DecrementStock reduces a product's stock, refusing to go negative.
	// Returns false when stock was insufficient.
	DecrementStock(productID uint, quantity int) (bool, error)
}
