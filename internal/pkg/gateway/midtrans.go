package gateway

import (
	"context"
	"strings"
	"time"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/shopspring/decimal"

	"github.com/paycycle/paycycle/internal/pkg/env"
)

// MidtransClient implements Client against the Midtrans Core API.
type MidtransClient struct {
	core    coreapi.Client
	timeout time.Duration
}

// NewMidtransClient creates a gateway client for the given server key.
func NewMidtransClient(serverKey string, useProduction bool, timeout time.Duration) *MidtransClient {
	c := &MidtransClient{timeout: timeout}
	if useProduction {
		c.core.New(serverKey, midtrans.Production)
	} else {
		c.core.New(serverKey, midtrans.Sandbox)
	}
	return c
}

// NewMidtransClientFromEnv creates a gateway client from environment config.
func NewMidtransClientFromEnv() *MidtransClient {
	serverKey := env.GetEnv("MIDTRANS_SERVER_KEY", "")
	useProd := env.GetEnv("MIDTRANS_PRODUCTION", "false") == "true"
	timeout := 20 * time.Second
	if v := env.GetEnv("GATEWAY_TIMEOUT_SECONDS", ""); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			timeout = d
		}
	}
	return NewMidtransClient(serverKey, useProd, timeout)
}

// Charge runs a bank-transfer charge for the given order.
func (c *MidtransClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	chargeReq := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeBankTransfer,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderRef,
			GrossAmt: req.Amount.IntPart(),
		},
		BankTransfer: &coreapi.BankTransferDetails{
			Bank: midtrans.BankBca,
		},
		CustomField1: &req.CustomerRef,
	}

	var resp *coreapi.ChargeResponse
	var mErr *midtrans.Error
	if err := c.callWithTimeout(ctx, func() {
		resp, mErr = c.core.ChargeTransaction(chargeReq)
	}); err != nil {
		return nil, err
	}
	if mErr != nil {
		return nil, mapMidtransError(mErr)
	}

	return &ChargeResult{
		OrderRef:      resp.OrderID,
		TransactionID: resp.TransactionID,
		Status:        mapMidtransStatus(resp.TransactionStatus),
		GrossAmount:   parseGross(resp.GrossAmount),
	}, nil
}

// Verify queries the settlement status of a previously created order.
func (c *MidtransClient) Verify(ctx context.Context, orderRef string) (*ChargeResult, error) {
	var resp *coreapi.TransactionStatusResponse
	var mErr *midtrans.Error
	if err := c.callWithTimeout(ctx, func() {
		resp, mErr = c.core.CheckTransaction(orderRef)
	}); err != nil {
		return nil, err
	}
	if mErr != nil {
		return nil, mapMidtransError(mErr)
	}

	result := &ChargeResult{
		OrderRef:      resp.OrderID,
		TransactionID: resp.TransactionID,
		Status:        mapMidtransStatus(resp.TransactionStatus),
		GrossAmount:   parseGross(resp.GrossAmount),
	}
	if result.Status == ChargeStatusSettled && resp.SettlementTime != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", resp.SettlementTime); err == nil {
			result.SettledAt = &t
		}
	}
	return result, nil
}

// Refund reverses a settled order.
func (c *MidtransClient) Refund(ctx context.Context, orderRef string, amount decimal.Decimal, reason string) error {
	refundReq := &coreapi.RefundReq{
		Amount: amount.IntPart(),
		Reason: reason,
	}

	var mErr *midtrans.Error
	if err := c.callWithTimeout(ctx, func() {
		_, mErr = c.core.RefundTransaction(orderRef, refundReq)
	}); err != nil {
		return err
	}
	if mErr != nil {
		return mapMidtransError(mErr)
	}
	return nil
}

// callWithTimeout runs a blocking SDK call under the client timeout and the
// caller's context. The SDK does not accept a context itself, so the call is
// fenced off in a goroutine; an abandoned call finishes in the background.
func (c *MidtransClient) callWithTimeout(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrGatewayUnavailable
	}
}

func mapMidtransError(mErr *midtrans.Error) error {
	// StatusCode 0 means the HTTP round trip itself failed.
	if mErr.StatusCode == 0 || mErr.StatusCode >= 500 {
		return ErrGatewayUnavailable
	}
	return ErrChargeRejected
}

func mapMidtransStatus(status string) ChargeStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "settlement", "capture":
		return ChargeStatusSettled
	case "pending", "authorize":
		return ChargeStatusPending
	case "deny":
		return ChargeStatusDenied
	case "expire":
		return ChargeStatusExpired
	case "cancel", "refund", "partial_refund":
		return ChargeStatusCanceled
	default:
		return ChargeStatusPending
	}
}

func parseGross(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}
