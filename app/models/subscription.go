package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription statuses.
const (
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription mirrors a gateway subscription and its settlement state. It is
// mutated only by the webhook ingestor in response to verified gateway
// events, or by explicit cancellation.
type Subscription struct {
	ID                     uint            `gorm:"primaryKey" json:"id"`
	UserID                 uint            `gorm:"not null;index" json:"user_id"`
	Provider               string          `gorm:"type:varchar(20);not null;index:ux_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string          `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	PlanID                 string          `gorm:"type:varchar(100);not null;default:''" json:"plan_id"`
	Status                 string          `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	CurrentPeriodStart     *time.Time      `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time      `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	LastPaymentAmount      decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"last_payment_amount"`
	LastPaymentAt          *time.Time      `gorm:"type:timestamp;default:null" json:"last_payment_at,omitempty"`
	CancelAtPeriodEnd      bool            `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
