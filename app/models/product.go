package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog item with tracked stock. Recurring sales decrement
// StockQuantity best-effort when they materialize.
type Product struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        uint            `gorm:"not null;index" json:"user_id"`
	Name          string          `gorm:"type:varchar(200);not null" json:"name"`
	Price         decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"price"`
	StockQuantity int             `gorm:"not null;default:0" json:"stock_quantity"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
