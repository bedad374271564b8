package repository

import (
	"gorm.io/gorm"
)

// Repositories bundles all repository implementations sharing one DB handle.
type Repositories struct {
	Schedule     ScheduleRepository
	Transaction  TransactionRepository
	WebhookEvent WebhookEventRepository
	Subscription SubscriptionRepository
	Alert        AlertRepository
	Catalog      CatalogRepository
}

// NewRepositories creates all repository instances for the given DB handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Schedule:     NewScheduleRepository(db),
		Transaction:  NewTransactionRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Alert:        NewAlertRepository(db),
		Catalog:      NewCatalogRepository(db),
	}
}

// Factory creates repositories and transaction-scoped variants of them.
type Factory struct {
	db    *gorm.DB
	repos *Repositories
}

// NewFactory creates a new repository factory.
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db:    db,
		repos: NewRepositories(db),
	}
}

// Repositories returns the shared repository set.
func (f *Factory) Repositories() *Repositories {
	return f.repos
}

// WithTransaction runs fn against repositories bound to a single database
// transaction. Everything fn does commits or rolls back atomically; the
// webhook ingestor relies on this so "mark event as seen" and "apply ledger
// effect" cannot diverge.
func (f *Factory) WithTransaction(fn func(repos *Repositories) error) error {
	return f.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
