package repository

import (
	"time"

	"github.com/paycycle/paycycle/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// transactionRepository implements the TransactionRepository interface
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository instance
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// CreateIfNotExists inserts the transaction unless a row with the same
// idempotency key already exists. The uniqueness constraint, not in-process
// locking, is what makes materialization safe under concurrent cycles.
func (r *transactionRepository) CreateIfNotExists(tx *models.Transaction) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(tx)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ExistsByIdempotencyKey reports whether a transaction was already
// materialized for the given key.
func (r *transactionRepository) ExistsByIdempotencyKey(key string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Transaction{}).
		Where("idempotency_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

// GetByID retrieves a transaction by its ID
func (r *transactionRepository) GetByID(id uint) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.First(&tx, id).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListByScheduleID returns all transactions materialized from a schedule
func (r *transactionRepository) ListByScheduleID(scheduleID uint) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.Where("schedule_id = ?", scheduleID).Order("date ASC").Find(&txs).Error
	return txs, err
}

// CountBySource counts transactions of a given source since the cutoff
func (r *transactionRepository) CountBySource(source string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.Transaction{}).
		Where("source = ? AND created_at >= ?", source, since).
		Count(&count).Error
	return count, err
}
