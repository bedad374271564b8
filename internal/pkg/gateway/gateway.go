package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrGatewayUnavailable marks timeouts and transport failures. Callers treat
// it as retryable: the affected schedule stays due for the next tick.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrChargeRejected marks charges the provider refused outright.
var ErrChargeRejected = errors.New("charge rejected by gateway")

// Client abstracts the external payment provider's charge, verify and refund
// operations. All calls carry a bounded timeout through ctx.
type Client interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Verify(ctx context.Context, orderRef string) (*ChargeResult, error)
	Refund(ctx context.Context, orderRef string, amount decimal.Decimal, reason string) error
}
