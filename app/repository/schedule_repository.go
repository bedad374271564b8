package repository

import (
	"time"

	"github.com/paycycle/paycycle/app/models"
	"gorm.io/gorm"
)

// scheduleRepository implements the ScheduleRepository interface
type scheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a new schedule repository instance
func NewScheduleRepository(db *gorm.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

// Create creates a new recurring payment schedule
func (r *scheduleRepository) Create(schedule *models.RecurringPayment) error {
	return r.db.Create(schedule).Error
}

// GetByID retrieves a schedule by its ID
func (r *scheduleRepository) GetByID(id uint) (*models.RecurringPayment, error) {
	var schedule models.RecurringPayment
	err := r.db.First(&schedule, id).Error
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ListDue returns all active schedules whose next run time has arrived,
// narrowed to a single user or schedule when the scope requests it.
func (r *scheduleRepository) ListDue(now time.Time, scope DueScope) ([]models.RecurringPayment, error) {
	q := r.db.Where("is_active = ? AND next_run_at <= ?", true, now)
	if scope.UserID != nil {
		q = q.Where("user_id = ?", *scope.UserID)
	}
	if scope.ScheduleID != nil {
		q = q.Where("id = ?", *scope.ScheduleID)
	}

	var schedules []models.RecurringPayment
	err := q.Order("next_run_at ASC").Find(&schedules).Error
	return schedules, err
}

// AdvanceAfterRun conditionally advances a schedule. The WHERE guard on the
// observed next_run_at makes this a compare-and-swap: if another processor
// instance advanced the schedule first, RowsAffected is zero and the caller
// treats the period as already handled.
func (r *scheduleRepository) AdvanceAfterRun(id uint, observedNextRun, newNextRun time.Time, occurrencesCompleted int, stillActive bool) (bool, error) {
	tx := r.db.Model(&models.RecurringPayment{}).
		Where("id = ? AND next_run_at = ?", id, observedNextRun).
		Updates(map[string]interface{}{
			"next_run_at":           newNextRun,
			"occurrences_completed": occurrencesCompleted,
			"is_active":             stillActive,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// Deactivate marks a schedule inactive without deleting it; historical
// transactions keep referencing it.
func (r *scheduleRepository) Deactivate(id uint) error {
	return r.db.Model(&models.RecurringPayment{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}

// Update saves user edits to a schedule
func (r *scheduleRepository) Update(schedule *models.RecurringPayment) error {
	return r.db.Save(schedule).Error
}
