package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/paycycle/paycycle/app/models"
	"github.com/paycycle/paycycle/app/repository"
	"github.com/paycycle/paycycle/internal/pkg/gateway"
	"github.com/paycycle/paycycle/internal/pkg/monitor"
)

const testSecret = "whsec_test"

// --- fakes -----------------------------------------------------------------

type spyWebhookEventRepo struct {
	mu     sync.Mutex
	events map[string]*models.WebhookEvent
	nextID uint
	calls  int
}

func newSpyWebhookEventRepo() *spyWebhookEventRepo {
	return &spyWebhookEventRepo{events: make(map[string]*models.WebhookEvent)}
}

func (r *spyWebhookEventRepo) key(provider, eventID string) string {
	return provider + "|" + eventID
}

func (r *spyWebhookEventRepo) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	k := r.key(event.Provider, event.ProviderEventID)
	if existing, ok := r.events[k]; ok {
		return false, existing, nil
	}
	r.nextID++
	event.ID = r.nextID
	r.events[k] = event
	return true, event, nil
}

func (r *spyWebhookEventRepo) MarkProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *spyWebhookEventRepo) GetByProviderEventID(provider, providerEventID string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.events[r.key(provider, providerEventID)]; ok {
		return e, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type spySubscriptionRepo struct {
	mu    sync.Mutex
	subs  map[string]*models.Subscription
	calls int
}

func newSpySubscriptionRepo() *spySubscriptionRepo {
	return &spySubscriptionRepo{subs: make(map[string]*models.Subscription)}
}

func (r *spySubscriptionRepo) key(provider, subID string) string { return provider + "|" + subID }

func (r *spySubscriptionRepo) Upsert(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.subs[r.key(sub.Provider, sub.ProviderSubscriptionID)] = sub
	return nil
}

func (r *spySubscriptionRepo) GetByProviderSubscriptionID(provider, subID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if s, ok := r.subs[r.key(provider, subID)]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *spySubscriptionRepo) UpdateStatus(provider, subID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if s, ok := r.subs[r.key(provider, subID)]; ok {
		s.Status = status
	}
	return nil
}

func (r *spySubscriptionRepo) ListByUser(userID uint) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.subs {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

type spyTransactionRepo struct {
	mu    sync.Mutex
	byKey map[string]*models.Transaction
	calls int
}

func newSpyTransactionRepo() *spyTransactionRepo {
	return &spyTransactionRepo{byKey: make(map[string]*models.Transaction)}
}

func (r *spyTransactionRepo) CreateIfNotExists(tx *models.Transaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if tx.IdempotencyKey != nil {
		if _, ok := r.byKey[*tx.IdempotencyKey]; ok {
			return false, nil
		}
		r.byKey[*tx.IdempotencyKey] = tx
	}
	return true, nil
}

func (r *spyTransactionRepo) ExistsByIdempotencyKey(key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byKey[key]
	return ok, nil
}

func (r *spyTransactionRepo) GetByID(id uint) (*models.Transaction, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *spyTransactionRepo) ListByScheduleID(scheduleID uint) ([]models.Transaction, error) {
	return nil, nil
}

func (r *spyTransactionRepo) CountBySource(source string, since time.Time) (int64, error) {
	return 0, nil
}

// fakeTxRunner hands the same repository set to every transaction. It cannot
// roll back; tests asserting rollback behavior check the returned error
// instead.
type fakeTxRunner struct {
	repos *repository.Repositories
	calls int
}

func (f *fakeTxRunner) WithTransaction(fn func(repos *repository.Repositories) error) error {
	f.calls++
	return fn(f.repos)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Send(to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, subject)
	return nil
}

// --- helpers ---------------------------------------------------------------

type ingestorEnv struct {
	ingestor *Ingestor
	runner   *fakeTxRunner
	events   *spyWebhookEventRepo
	subs     *spySubscriptionRepo
	txs      *spyTransactionRepo
	notifier *recordingNotifier
	monitor  *monitor.Monitor
}

func newIngestorEnv() *ingestorEnv {
	e := &ingestorEnv{
		events:   newSpyWebhookEventRepo(),
		subs:     newSpySubscriptionRepo(),
		txs:      newSpyTransactionRepo(),
		notifier: &recordingNotifier{},
		monitor:  monitor.New(time.Hour, monitor.DefaultThresholds()),
	}
	e.runner = &fakeTxRunner{repos: &repository.Repositories{
		WebhookEvent: e.events,
		Subscription: e.subs,
		Transaction:  e.txs,
	}}
	e.ingestor = NewIngestor(e.runner, models.GatewayProviderMidtrans, testSecret, e.monitor, e.notifier, "ops@example.com")
	return e
}

func signedDelivery(t *testing.T, event map[string]any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return raw, gateway.SignWebhookPayload(raw, testSecret)
}

func paymentCompletedEvent(id string) map[string]any {
	return map[string]any{
		"id":   id,
		"type": "payment.completed",
		"data": map[string]any{
			"user_id":         10,
			"subscription_id": "sub-1",
			"plan_id":         "plan-pro",
			"amount":          "19.90",
			"currency":        "EUR",
			"order_ref":       "order-1",
		},
	}
}

// --- tests -----------------------------------------------------------------

func TestHandle_InvalidSignatureTouchesNothing(t *testing.T) {
	e := newIngestorEnv()
	raw, _ := signedDelivery(t, paymentCompletedEvent("evt-1"))

	result, err := e.ingestor.Handle(context.Background(), raw, "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeUnauthorized {
		t.Fatalf("expected unauthorized, got %s", result.Outcome)
	}
	if e.runner.calls != 0 {
		t.Fatalf("invalid signature must not open a transaction")
	}
	if e.events.calls != 0 || e.subs.calls != 0 || e.txs.calls != 0 {
		t.Fatalf("invalid signature must not touch any repository")
	}
}

func TestHandle_MissingSignatureRejected(t *testing.T) {
	e := newIngestorEnv()
	raw, _ := signedDelivery(t, paymentCompletedEvent("evt-1"))

	result, err := e.ingestor.Handle(context.Background(), raw, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeUnauthorized {
		t.Fatalf("expected unauthorized, got %s", result.Outcome)
	}
}

func TestHandle_PaymentCompletedApplies(t *testing.T) {
	e := newIngestorEnv()
	raw, sig := signedDelivery(t, paymentCompletedEvent("evt-1"))

	result, err := e.ingestor.Handle(context.Background(), raw, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", result.Outcome)
	}

	sub, err := e.subs.GetByProviderSubscriptionID(models.GatewayProviderMidtrans, "sub-1")
	if err != nil {
		t.Fatalf("expected subscription to exist: %v", err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active subscription, got %s", sub.Status)
	}
	if sub.LastPaymentAmount.String() != "19.9" {
		t.Fatalf("unexpected payment amount %s", sub.LastPaymentAmount)
	}

	exists, _ := e.txs.ExistsByIdempotencyKey("evt-midtrans-evt-1")
	if !exists {
		t.Fatalf("expected settlement transaction keyed by event id")
	}

	stored, err := e.events.GetByProviderEventID(models.GatewayProviderMidtrans, "evt-1")
	if err != nil {
		t.Fatalf("expected stored marker: %v", err)
	}
	if stored.ProcessedAt == nil {
		t.Fatalf("expected marker to be marked processed")
	}
}

func TestHandle_DuplicateDeliveryIsNoOp(t *testing.T) {
	e := newIngestorEnv()
	raw, sig := signedDelivery(t, paymentCompletedEvent("evt-1"))

	if _, err := e.ingestor.Handle(context.Background(), raw, sig); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	subCallsAfterFirst := e.subs.calls

	result, err := e.ingestor.Handle(context.Background(), raw, sig)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if result.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed, got %s", result.Outcome)
	}
	if e.subs.calls != subCallsAfterFirst {
		t.Fatalf("duplicate delivery must not mutate subscriptions")
	}
	if len(e.txs.byKey) != 1 {
		t.Fatalf("expected exactly one settlement transaction, got %d", len(e.txs.byKey))
	}
}

func TestHandle_UnknownEventTypeAcknowledged(t *testing.T) {
	e := newIngestorEnv()
	raw, sig := signedDelivery(t, map[string]any{
		"id":   "evt-9",
		"type": "invoice.created",
		"data": map[string]any{},
	})

	result, err := e.ingestor.Handle(context.Background(), raw, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", result.Outcome)
	}

	stored, err := e.events.GetByProviderEventID(models.GatewayProviderMidtrans, "evt-9")
	if err != nil {
		t.Fatalf("unknown events must still be recorded: %v", err)
	}
	if stored.ProcessedAt == nil {
		t.Fatalf("unknown events must be marked processed")
	}
	if e.subs.calls != 0 {
		t.Fatalf("unknown events must not mutate the ledger")
	}
}

func TestHandle_MalformedPayloadRejected(t *testing.T) {
	e := newIngestorEnv()
	raw := []byte(`{"id": "evt-1"`)
	sig := gateway.SignWebhookPayload(raw, testSecret)

	result, err := e.ingestor.Handle(context.Background(), raw, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeMalformed {
		t.Fatalf("expected malformed, got %s", result.Outcome)
	}
	if e.events.calls != 0 {
		t.Fatalf("malformed payloads must not be stored")
	}
}

func TestHandle_PaymentFailedMarksPastDue(t *testing.T) {
	e := newIngestorEnv()

	completed, sig := signedDelivery(t, paymentCompletedEvent("evt-1"))
	if _, err := e.ingestor.Handle(context.Background(), completed, sig); err != nil {
		t.Fatalf("setup delivery: %v", err)
	}

	failed, sig := signedDelivery(t, map[string]any{
		"id":   "evt-2",
		"type": "payment.failed",
		"data": map[string]any{
			"user_id":         10,
			"subscription_id": "sub-1",
			"reason":          "card declined",
		},
	})
	result, err := e.ingestor.Handle(context.Background(), failed, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", result.Outcome)
	}

	sub, _ := e.subs.GetByProviderSubscriptionID(models.GatewayProviderMidtrans, "sub-1")
	if sub.Status != models.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %s", sub.Status)
	}
}

func TestHandle_SubscriptionCanceled(t *testing.T) {
	e := newIngestorEnv()

	completed, sig := signedDelivery(t, paymentCompletedEvent("evt-1"))
	if _, err := e.ingestor.Handle(context.Background(), completed, sig); err != nil {
		t.Fatalf("setup delivery: %v", err)
	}

	canceled, sig := signedDelivery(t, map[string]any{
		"id":   "evt-3",
		"type": "subscription.canceled",
		"data": map[string]any{
			"user_id":         10,
			"subscription_id": "sub-1",
		},
	})
	if _, err := e.ingestor.Handle(context.Background(), canceled, sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := e.subs.GetByProviderSubscriptionID(models.GatewayProviderMidtrans, "sub-1")
	if sub.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", sub.Status)
	}
}

func TestHandle_SubscriptionCanceledAtPeriodEnd(t *testing.T) {
	e := newIngestorEnv()

	completed, sig := signedDelivery(t, paymentCompletedEvent("evt-1"))
	if _, err := e.ingestor.Handle(context.Background(), completed, sig); err != nil {
		t.Fatalf("setup delivery: %v", err)
	}

	canceled, sig := signedDelivery(t, map[string]any{
		"id":   "evt-3",
		"type": "subscription.canceled",
		"data": map[string]any{
			"user_id":              10,
			"subscription_id":      "sub-1",
			"cancel_at_period_end": true,
		},
	})
	if _, err := e.ingestor.Handle(context.Background(), canceled, sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := e.subs.GetByProviderSubscriptionID(models.GatewayProviderMidtrans, "sub-1")
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("period-end cancel must keep the subscription active, got %s", sub.Status)
	}
	if !sub.CancelAtPeriodEnd {
		t.Fatalf("expected cancel_at_period_end to be set")
	}
}

func TestHandle_SubscriptionCanceledAtPeriodEnd_UnknownSubscriptionAcked(t *testing.T) {
	e := newIngestorEnv()

	canceled, sig := signedDelivery(t, map[string]any{
		"id":   "evt-8",
		"type": "subscription.canceled",
		"data": map[string]any{
			"user_id":              10,
			"subscription_id":      "sub-missing",
			"cancel_at_period_end": true,
		},
	})
	result, err := e.ingestor.Handle(context.Background(), canceled, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", result.Outcome)
	}
}

func TestHandle_SubscriptionRenewedKeepsPaymentFields(t *testing.T) {
	e := newIngestorEnv()

	completed, sig := signedDelivery(t, paymentCompletedEvent("evt-1"))
	if _, err := e.ingestor.Handle(context.Background(), completed, sig); err != nil {
		t.Fatalf("setup delivery: %v", err)
	}

	renewed, sig := signedDelivery(t, map[string]any{
		"id":   "evt-4",
		"type": "subscription.renewed",
		"data": map[string]any{
			"user_id":         10,
			"subscription_id": "sub-1",
			"plan_id":         "plan-pro",
		},
	})
	if _, err := e.ingestor.Handle(context.Background(), renewed, sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _ := e.subs.GetByProviderSubscriptionID(models.GatewayProviderMidtrans, "sub-1")
	if sub.LastPaymentAmount.String() != "19.9" {
		t.Fatalf("renewal must preserve last payment amount, got %s", sub.LastPaymentAmount)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active after renewal, got %s", sub.Status)
	}
}

func TestHandle_ApplyErrorPropagates(t *testing.T) {
	e := newIngestorEnv()

	evt := paymentCompletedEvent("evt-bad")
	evt["data"].(map[string]any)["amount"] = "not-a-number"
	raw, sig := signedDelivery(t, evt)

	_, err := e.ingestor.Handle(context.Background(), raw, sig)
	if err == nil {
		t.Fatalf("expected apply error to propagate for provider retry")
	}
	if errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("apply errors are not parse errors")
	}
}

func TestHandle_EventWithoutIDDeduplicatesByBodyHash(t *testing.T) {
	e := newIngestorEnv()
	evt := paymentCompletedEvent("")
	raw, sig := signedDelivery(t, evt)

	first, err := e.ingestor.Handle(context.Background(), raw, sig)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if first.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", first.Outcome)
	}

	second, err := e.ingestor.Handle(context.Background(), raw, sig)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("identical body must deduplicate, got %s", second.Outcome)
	}
}
