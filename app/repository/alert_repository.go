package repository

import (
	"time"

	"github.com/paycycle/paycycle/app/models"
	"gorm.io/gorm"
)

// alertRepository implements the AlertRepository interface
type alertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a new alert repository instance
func NewAlertRepository(db *gorm.DB) AlertRepository {
	return &alertRepository{db: db}
}

// Create persists a new alert row
func (r *alertRepository) Create(alert *models.Alert) error {
	return r.db.Create(alert).Error
}

// RefreshRaisedAt bumps the raised timestamp of an existing alert; used when
// the same alert type fires again while still active.
func (r *alertRepository) RefreshRaisedAt(id uint, raisedAt time.Time) error {
	return r.db.Model(&models.Alert{}).
		Where("id = ?", id).
		Update("raised_at", raisedAt).Error
}

// Clear marks an alert as resolved
func (r *alertRepository) Clear(id uint, clearedAt time.Time) error {
	return r.db.Model(&models.Alert{}).
		Where("id = ?", id).
		Update("cleared_at", clearedAt).Error
}

// ListActive returns alerts that have not been cleared
func (r *alertRepository) ListActive() ([]models.Alert, error) {
	var alerts []models.Alert
	err := r.db.Where("cleared_at IS NULL").Order("raised_at DESC").Find(&alerts).Error
	return alerts, err
}

// DeleteOlderThan purges alert history older than the cutoff. Maintenance
// only; active alerts raised before the cutoff are purged too, matching the
// retention policy.
func (r *alertRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	tx := r.db.Where("raised_at < ?", cutoff).Delete(&models.Alert{})
	return tx.RowsAffected, tx.Error
}
