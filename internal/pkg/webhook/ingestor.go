package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/paycycle/paycycle/app/models"
	"github.com/paycycle/paycycle/app/repository"
	"github.com/paycycle/paycycle/internal/pkg/gateway"
	"github.com/paycycle/paycycle/internal/pkg/monitor"
	"github.com/paycycle/paycycle/internal/pkg/notify"
)

// Outcome classifies how a webhook delivery was handled.
type Outcome string

const (
	OutcomeUnauthorized     Outcome = "unauthorized"
	OutcomeMalformed        Outcome = "malformed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeApplied          Outcome = "applied"
	OutcomeIgnored          Outcome = "ignored"
)

// HandlingResult is returned to the HTTP layer for the acknowledgement body.
type HandlingResult struct {
	Outcome   Outcome `json:"outcome"`
	EventID   string  `json:"event_id,omitempty"`
	EventType string  `json:"event_type,omitempty"`
}

// TxRunner executes a function against repositories bound to one database
// transaction. *repository.Factory satisfies it.
type TxRunner interface {
	WithTransaction(fn func(repos *repository.Repositories) error) error
}

// Ingestor receives gateway callbacks, verifies authenticity, deduplicates
// by provider event id, and applies settlement state to the ledger. Safe
// under arbitrary concurrency including duplicate concurrent deliveries of
// the same event: correctness rests on the repository's insert-if-absent
// marker, not application locks.
type Ingestor struct {
	factory  TxRunner
	provider string
	secret   string
	monitor  *monitor.Monitor
	notifier notify.Notifier
	opsEmail string
}

// NewIngestor creates a webhook ingestor for the given provider and secret.
func NewIngestor(factory TxRunner, provider, secret string, mon *monitor.Monitor, notifier notify.Notifier, opsEmail string) *Ingestor {
	return &Ingestor{
		factory:  factory,
		provider: provider,
		secret:   secret,
		monitor:  mon,
		notifier: notifier,
		opsEmail: opsEmail,
	}
}

// Handle processes one webhook delivery. The signature check runs first and
// an invalid payload never reaches any repository. "Mark as seen" and "apply
// effect" run in one persistence transaction, so a redelivered event either
// finds the marker (AlreadyProcessed) or retries the whole application.
func (i *Ingestor) Handle(ctx context.Context, rawBody []byte, signatureHeader string) (*HandlingResult, error) {
	if !gateway.VerifyWebhookSignature(rawBody, signatureHeader, i.secret) {
		return &HandlingResult{Outcome: OutcomeUnauthorized}, nil
	}

	evt, err := ParseEvent(rawBody)
	if err != nil {
		return &HandlingResult{Outcome: OutcomeMalformed}, nil
	}

	result := &HandlingResult{
		EventID:   evt.ID,
		EventType: evt.RawType,
	}

	txErr := i.factory.WithTransaction(func(repos *repository.Repositories) error {
		created, stored, err := repos.WebhookEvent.CreateIfNotExists(&models.WebhookEvent{
			Provider:        i.provider,
			ProviderEventID: evt.ID,
			EventType:       evt.RawType,
			PayloadJSON:     string(rawBody),
			SignatureValid:  true,
		})
		if err != nil {
			return err
		}
		if !created {
			result.Outcome = OutcomeAlreadyProcessed
			return nil
		}

		if evt.Type == EventUnknown {
			// Providers add event types over time; record and acknowledge.
			result.Outcome = OutcomeIgnored
			return repos.WebhookEvent.MarkProcessed(stored.ID, "")
		}

		if err := i.apply(repos, evt); err != nil {
			// Rolls back the marker too, so the provider's redelivery
			// retries the whole event.
			return err
		}
		result.Outcome = OutcomeApplied
		return repos.WebhookEvent.MarkProcessed(stored.ID, "")
	})
	if txErr != nil {
		i.monitor.RecordFailure(monitor.FailureContext{
			Kind:    monitor.FailureKindWebhook,
			Ref:     fmt.Sprintf("event:%s", evt.ID),
			Message: txErr.Error(),
		})
		return nil, txErr
	}

	if result.Outcome == OutcomeApplied {
		i.monitor.RecordSuccess()
		i.dispatchNotification(evt)
	}
	log.Infof("[WebhookIngestor] event %s (%s): %s", evt.ID, evt.RawType, result.Outcome)
	return result, nil
}

// apply dispatches the event to the corresponding ledger mutation. The
// switch is exhaustive over the closed event enum.
func (i *Ingestor) apply(repos *repository.Repositories, evt *Event) error {
	switch evt.Type {
	case EventPaymentCompleted:
		return i.applyPaymentCompleted(repos, evt)
	case EventPaymentFailed:
		return i.applySubscriptionStatus(repos, evt, models.SubscriptionStatusPastDue)
	case EventSubscriptionRenewed:
		return i.applySubscriptionRenewed(repos, evt)
	case EventSubscriptionCanceled:
		return i.applySubscriptionCanceled(repos, evt)
	case EventUnknown:
		return nil
	default:
		return nil
	}
}

func (i *Ingestor) applyPaymentCompleted(repos *repository.Repositories, evt *Event) error {
	amount, err := decimal.NewFromString(evt.Data.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", evt.Data.Amount, err)
	}

	now := time.Now()
	sub := &models.Subscription{
		UserID:                 evt.Data.UserID,
		Provider:               i.provider,
		ProviderSubscriptionID: evt.Data.SubscriptionID,
		PlanID:                 evt.Data.PlanID,
		Status:                 models.SubscriptionStatusActive,
		CurrentPeriodStart:     evt.Data.PeriodStart,
		CurrentPeriodEnd:       evt.Data.PeriodEnd,
		LastPaymentAmount:      amount,
		LastPaymentAt:          &now,
	}
	if err := repos.Subscription.Upsert(sub); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	idemKey := fmt.Sprintf("evt-%s-%s", i.provider, evt.ID)
	_, err = repos.Transaction.CreateIfNotExists(&models.Transaction{
		UserID:         evt.Data.UserID,
		IdempotencyKey: &idemKey,
		Kind:           models.PaymentKindIncome,
		Amount:         amount,
		Currency:       evt.Data.Currency,
		Date:           now,
		Status:         models.TransactionStatusPosted,
		Source:         models.TransactionSourceWebhook,
		Description:    fmt.Sprintf("subscription payment %s", evt.Data.SubscriptionID),
		GatewayRef:     evt.Data.OrderRef,
	})
	if err != nil {
		return fmt.Errorf("create settlement transaction: %w", err)
	}
	return nil
}

func (i *Ingestor) applySubscriptionRenewed(repos *repository.Repositories, evt *Event) error {
	existing, err := repos.Subscription.GetByProviderSubscriptionID(i.provider, evt.Data.SubscriptionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup subscription: %w", err)
	}

	sub := &models.Subscription{
		UserID:                 evt.Data.UserID,
		Provider:               i.provider,
		ProviderSubscriptionID: evt.Data.SubscriptionID,
		PlanID:                 evt.Data.PlanID,
		Status:                 models.SubscriptionStatusActive,
		CurrentPeriodStart:     evt.Data.PeriodStart,
		CurrentPeriodEnd:       evt.Data.PeriodEnd,
	}
	if existing != nil {
		sub.LastPaymentAmount = existing.LastPaymentAmount
		sub.LastPaymentAt = existing.LastPaymentAt
	}
	return repos.Subscription.Upsert(sub)
}

// applySubscriptionCanceled handles both cancellation shapes. An immediate
// cancel flips the status; a period-end cancel only flags the subscription,
// which stays active until the paid period lapses. An unknown subscription
// is acknowledged without effect, matching the immediate-cancel path.
func (i *Ingestor) applySubscriptionCanceled(repos *repository.Repositories, evt *Event) error {
	if !evt.Data.CancelAtPeriodEnd {
		return i.applySubscriptionStatus(repos, evt, models.SubscriptionStatusCanceled)
	}

	existing, err := repos.Subscription.GetByProviderSubscriptionID(i.provider, evt.Data.SubscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup subscription: %w", err)
	}

	existing.CancelAtPeriodEnd = true
	return repos.Subscription.Upsert(existing)
}

func (i *Ingestor) applySubscriptionStatus(repos *repository.Repositories, evt *Event, status string) error {
	if err := repos.Subscription.UpdateStatus(i.provider, evt.Data.SubscriptionID, status); err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	return nil
}

// dispatchNotification sends the optional follow-up mail. Deferred to a
// fire-and-forget path that must not delay or fail the acknowledgement.
func (i *Ingestor) dispatchNotification(evt *Event) {
	switch evt.Type {
	case EventPaymentFailed:
		notify.Dispatch(i.notifier, i.opsEmail,
			"Subscription payment failed",
			fmt.Sprintf("Payment for subscription %s failed: %s", evt.Data.SubscriptionID, evt.Data.Reason))
	case EventSubscriptionCanceled:
		notify.Dispatch(i.notifier, i.opsEmail,
			"Subscription canceled",
			fmt.Sprintf("Subscription %s was canceled.", evt.Data.SubscriptionID))
	default:
	}
}
