package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction statuses.
const (
	TransactionStatusPosted   = "posted"
	TransactionStatusReversed = "reversed"
)

// Transaction sources.
const (
	TransactionSourceRecurring = "recurring"
	TransactionSourceWebhook   = "webhook"
	TransactionSourceManual    = "manual"
)

// Transaction is a materialized ledger record. It is immutable once created;
// reversal flips the status but never changes amount or date. The idempotency
// key (schedule id + period marker) is unique so at most one materialization
// per (schedule, period) can ever succeed, regardless of how many processor
// instances race on it.
type Transaction struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserID         uint            `gorm:"not null;index" json:"user_id"`
	ScheduleID     *uint           `gorm:"index" json:"schedule_id,omitempty"`
	IdempotencyKey *string         `gorm:"type:varchar(191);uniqueIndex:ux_transactions_idempotency_key" json:"idempotency_key,omitempty"`
	Kind           string          `gorm:"type:varchar(10);not null;index" json:"kind"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Currency       string          `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	Date           time.Time       `gorm:"type:timestamp;not null;index" json:"date"`
	Status         string          `gorm:"type:varchar(10);not null;default:'posted'" json:"status"`
	Source         string          `gorm:"type:varchar(10);not null;default:'manual';index" json:"source"`
	CategoryID     *uint           `gorm:"index" json:"category_id,omitempty"`
	VendorID       *uint           `gorm:"index" json:"vendor_id,omitempty"`
	Description    string          `gorm:"type:varchar(500);default:''" json:"description"`
	GatewayRef     string          `gorm:"type:varchar(191);default:''" json:"gateway_ref"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
