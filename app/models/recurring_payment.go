package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment kinds for recurring payments and transactions.
const (
	PaymentKindIncome  = "income"
	PaymentKindExpense = "expense"
)

// Frequencies a recurring payment may run at.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyYearly  = "yearly"
)

// End conditions controlling when a recurring payment deactivates itself.
const (
	EndModeNone  = "none"
	EndModeDate  = "date"
	EndModeCount = "count"
)

// RecurringPayment is a user-owned template for a repeating income or
// expense. It is mutated only by the processor (advancing NextRunAt,
// counting occurrences) or by explicit user edit, and is deactivated rather
// than deleted while transactions still reference it.
type RecurringPayment struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	UserID               uint            `gorm:"not null;index" json:"user_id"`
	Name                 string          `gorm:"type:varchar(200);not null" json:"name"`
	Kind                 string          `gorm:"type:varchar(10);not null;index" json:"kind"`
	Amount               decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Currency             string          `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	Frequency            string          `gorm:"type:varchar(10);not null" json:"frequency"`
	AnchorDate           time.Time       `gorm:"type:timestamp;not null" json:"anchor_date"`
	NextRunAt            time.Time       `gorm:"type:timestamp;not null;index:idx_recurring_payments_due,priority:2" json:"next_run_at"`
	IsActive             bool            `gorm:"default:true;index:idx_recurring_payments_due,priority:1" json:"is_active"`
	CategoryID           *uint           `gorm:"index" json:"category_id,omitempty"`
	VendorID             *uint           `gorm:"index" json:"vendor_id,omitempty"`
	ProductID            *uint           `gorm:"index" json:"product_id,omitempty"`
	Quantity             int             `gorm:"default:1" json:"quantity"`
	GatewayCustomerRef   string          `gorm:"type:varchar(191);default:''" json:"gateway_customer_ref"`
	EndMode              string          `gorm:"type:varchar(10);not null;default:'none'" json:"end_mode"`
	EndDate              *time.Time      `gorm:"type:timestamp;default:null" json:"end_date,omitempty"`
	MaxOccurrences       *int            `json:"max_occurrences,omitempty"`
	OccurrencesCompleted int             `gorm:"default:0" json:"occurrences_completed"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsSale reports whether materializing this schedule should also decrement
// inventory for the linked product.
func (rp *RecurringPayment) IsSale() bool {
	return rp.Kind == PaymentKindIncome && rp.ProductID != nil
}

// EndConditionMet reports whether the schedule's end condition is satisfied
// after the given number of completed occurrences at the given next run time.
func (rp *RecurringPayment) EndConditionMet(occurrences int, nextRunAt time.Time) bool {
	switch rp.EndMode {
	case EndModeDate:
		return rp.EndDate != nil && nextRunAt.After(*rp.EndDate)
	case EndModeCount:
		return rp.MaxOccurrences != nil && occurrences >= *rp.MaxOccurrences
	default:
		return false
	}
}
