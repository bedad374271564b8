package gateway

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargeStatus is the settlement state reported by the provider.
type ChargeStatus string

const (
	ChargeStatusSettled  ChargeStatus = "settled"
	ChargeStatusPending  ChargeStatus = "pending"
	ChargeStatusDenied   ChargeStatus = "denied"
	ChargeStatusExpired  ChargeStatus = "expired"
	ChargeStatusCanceled ChargeStatus = "canceled"
)

// ChargeRequest describes a single charge against a gateway customer.
type ChargeRequest struct {
	OrderRef    string
	CustomerRef string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// ChargeResult is the provider-neutral outcome of a charge or verify call.
type ChargeResult struct {
	OrderRef      string
	TransactionID string
	Status        ChargeStatus
	GrossAmount   decimal.Decimal
	SettledAt     *time.Time
}

// Settled reports whether the charge completed successfully.
func (r *ChargeResult) Settled() bool {
	return r.Status == ChargeStatusSettled
}
