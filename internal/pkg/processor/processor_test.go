package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/paycycle/paycycle/app/models"
	"github.com/paycycle/paycycle/app/repository"
	"github.com/paycycle/paycycle/internal/pkg/gateway"
	"github.com/paycycle/paycycle/internal/pkg/monitor"
)

// --- fakes -----------------------------------------------------------------

type fakeScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uint]*models.RecurringPayment
	// When set, AdvanceAfterRun is a no-op, simulating a crash between the
	// transaction insert and the schedule advance.
	advanceDisabled bool
}

func newFakeScheduleRepo(schedules ...*models.RecurringPayment) *fakeScheduleRepo {
	r := &fakeScheduleRepo{schedules: make(map[uint]*models.RecurringPayment)}
	for _, s := range schedules {
		r.schedules[s.ID] = s
	}
	return r
}

func (r *fakeScheduleRepo) Create(s *models.RecurringPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.ID] = s
	return nil
}

func (r *fakeScheduleRepo) GetByID(id uint) (*models.RecurringPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeScheduleRepo) ListDue(now time.Time, scope repository.DueScope) ([]models.RecurringPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RecurringPayment
	for _, s := range r.schedules {
		if !s.IsActive || s.NextRunAt.After(now) {
			continue
		}
		if scope.UserID != nil && s.UserID != *scope.UserID {
			continue
		}
		if scope.ScheduleID != nil && s.ID != *scope.ScheduleID {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *fakeScheduleRepo) AdvanceAfterRun(id uint, observedNextRun, newNextRun time.Time, occurrencesCompleted int, stillActive bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.advanceDisabled {
		return false, nil
	}
	s, ok := r.schedules[id]
	if !ok || !s.NextRunAt.Equal(observedNextRun) {
		return false, nil
	}
	s.NextRunAt = newNextRun
	s.OccurrencesCompleted = occurrencesCompleted
	s.IsActive = stillActive
	return true, nil
}

func (r *fakeScheduleRepo) Deactivate(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schedules[id]; ok {
		s.IsActive = false
	}
	return nil
}

func (r *fakeScheduleRepo) Update(s *models.RecurringPayment) error {
	return r.Create(s)
}

type fakeTransactionRepo struct {
	mu     sync.Mutex
	byKey  map[string]*models.Transaction
	nextID uint
}

func newFakeTransactionRepo() *fakeTransactionRepo {
	return &fakeTransactionRepo{byKey: make(map[string]*models.Transaction)}
}

func (r *fakeTransactionRepo) CreateIfNotExists(tx *models.Transaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx.IdempotencyKey != nil {
		if _, exists := r.byKey[*tx.IdempotencyKey]; exists {
			return false, nil
		}
	}
	r.nextID++
	tx.ID = r.nextID
	if tx.IdempotencyKey != nil {
		r.byKey[*tx.IdempotencyKey] = tx
	}
	return true, nil
}

func (r *fakeTransactionRepo) ExistsByIdempotencyKey(key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byKey[key]
	return ok, nil
}

func (r *fakeTransactionRepo) GetByID(id uint) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.byKey {
		if tx.ID == id {
			return tx, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeTransactionRepo) ListByScheduleID(scheduleID uint) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Transaction
	for _, tx := range r.byKey {
		if tx.ScheduleID != nil && *tx.ScheduleID == scheduleID {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (r *fakeTransactionRepo) CountBySource(source string, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, tx := range r.byKey {
		if tx.Source == source && !tx.Date.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeTransactionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

type fakeCatalogRepo struct {
	mu         sync.Mutex
	categories map[uint]bool
	vendors    map[uint]bool
	stock      map[uint]int
}

func newFakeCatalogRepo() *fakeCatalogRepo {
	return &fakeCatalogRepo{
		categories: make(map[uint]bool),
		vendors:    make(map[uint]bool),
		stock:      make(map[uint]int),
	}
}

func (r *fakeCatalogRepo) CategoryExists(id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.categories[id], nil
}

func (r *fakeCatalogRepo) VendorExists(id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vendors[id], nil
}

func (r *fakeCatalogRepo) GetProduct(id uint) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	qty, ok := r.stock[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.Product{ID: id, StockQuantity: qty}, nil
}

func (r *fakeCatalogRepo) DecrementStock(productID uint, quantity int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stock[productID] < quantity {
		return false, nil
	}
	r.stock[productID] -= quantity
	return true, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	chargeErr error
	requests  []gateway.ChargeRequest
}

func (g *fakeGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return &gateway.ChargeResult{
		OrderRef:      req.OrderRef,
		TransactionID: "gw-" + req.OrderRef,
		Status:        gateway.ChargeStatusSettled,
		GrossAmount:   req.Amount,
	}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, orderRef string) (*gateway.ChargeResult, error) {
	return &gateway.ChargeResult{OrderRef: orderRef, Status: gateway.ChargeStatusSettled}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, orderRef string, amount decimal.Decimal, reason string) error {
	return nil
}

// --- helpers ---------------------------------------------------------------

type env struct {
	schedules    *fakeScheduleRepo
	transactions *fakeTransactionRepo
	catalog      *fakeCatalogRepo
	gateway      *fakeGateway
	monitor      *monitor.Monitor
	processor    *Processor
}

func newTestEnv(schedules ...*models.RecurringPayment) *env {
	e := &env{
		schedules:    newFakeScheduleRepo(schedules...),
		transactions: newFakeTransactionRepo(),
		catalog:      newFakeCatalogRepo(),
		gateway:      &fakeGateway{},
		monitor:      monitor.New(time.Hour, monitor.DefaultThresholds()),
	}
	repos := &repository.Repositories{
		Schedule:    e.schedules,
		Transaction: e.transactions,
		Catalog:     e.catalog,
	}
	e.processor = New(repos, e.gateway, e.monitor, 2)
	return e
}

func monthlySchedule(id, userID uint, amount string, nextRun time.Time) *models.RecurringPayment {
	return &models.RecurringPayment{
		ID:         id,
		UserID:     userID,
		Name:       "subscription",
		Kind:       models.PaymentKindExpense,
		Amount:     decimal.RequireFromString(amount),
		Currency:   "EUR",
		Frequency:  models.FrequencyMonthly,
		AnchorDate: nextRun,
		NextRunAt:  nextRun,
		IsActive:   true,
		EndMode:    models.EndModeNone,
	}
}

// --- tests -----------------------------------------------------------------

func TestRunDueCycle_MaterializesDueSchedule(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	sched := monthlySchedule(1, 10, "49.99", now.Add(-time.Hour))
	e := newTestEnv(sched)

	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.CreatedRecords != 1 {
		t.Fatalf("expected 1 created record, got %d", report.CreatedRecords)
	}
	if report.ErrorCount != 0 {
		t.Fatalf("expected no errors, got %v", report.Errors)
	}

	key := IdempotencyKey(1, models.FrequencyMonthly, sched.AnchorDate)
	exists, _ := e.transactions.ExistsByIdempotencyKey(key)
	if !exists {
		t.Fatalf("expected transaction with key %s", key)
	}

	advanced, _ := e.schedules.GetByID(1)
	if !advanced.NextRunAt.After(now) {
		t.Fatalf("expected schedule to advance past now, got %s", advanced.NextRunAt)
	}
	if advanced.OccurrencesCompleted != 1 {
		t.Fatalf("expected 1 completed occurrence, got %d", advanced.OccurrencesCompleted)
	}
}

func TestRunDueCycle_SecondRunIsNoOp(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	e := newTestEnv(monthlySchedule(1, 10, "49.99", now.Add(-time.Hour)))

	if _, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.CreatedRecords != 0 || report.ErrorCount != 0 {
		t.Fatalf("expected no-op second run, got created=%d errors=%d", report.CreatedRecords, report.ErrorCount)
	}
	if e.transactions.count() != 1 {
		t.Fatalf("expected exactly 1 transaction, got %d", e.transactions.count())
	}
}

func TestRunDueCycle_RecoversAfterPartialRun(t *testing.T) {
	// First run inserts the transaction but the advance never lands, as if
	// the process died in between. The next cycle must not double-post.
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	e := newTestEnv(monthlySchedule(1, 10, "49.99", now.Add(-time.Hour)))

	e.schedules.advanceDisabled = true
	if _, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	e.schedules.advanceDisabled = false

	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.SkippedExisting != 1 {
		t.Fatalf("expected 1 skipped existing, got %d", report.SkippedExisting)
	}
	if e.transactions.count() != 1 {
		t.Fatalf("expected exactly 1 transaction, got %d", e.transactions.count())
	}

	advanced, _ := e.schedules.GetByID(1)
	if !advanced.NextRunAt.After(now) {
		t.Fatalf("expected recovery run to advance the schedule")
	}
}

func TestRunDueCycle_FailureIsolation(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)

	var scheds []*models.RecurringPayment
	for id := uint(1); id <= 5; id++ {
		s := monthlySchedule(id, 10, "10.00", due)
		if id == 3 {
			s.Amount = decimal.Zero
		}
		scheds = append(scheds, s)
	}
	e := newTestEnv(scheds...)

	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.CreatedRecords != 4 {
		t.Fatalf("expected 4 created records, got %d", report.CreatedRecords)
	}
	if report.ErrorCount != 1 {
		t.Fatalf("expected 1 error, got %d", report.ErrorCount)
	}
	if len(report.Errors) != 1 || report.Errors[0].ScheduleID != 3 {
		t.Fatalf("expected the error to belong to schedule 3, got %v", report.Errors)
	}

	// The invalid schedule must stay due; the others advance.
	for id := uint(1); id <= 5; id++ {
		s, _ := e.schedules.GetByID(id)
		if id == 3 {
			if !s.NextRunAt.Equal(due) {
				t.Fatalf("schedule 3 must not advance, got %s", s.NextRunAt)
			}
			continue
		}
		if !s.NextRunAt.After(now) {
			t.Fatalf("schedule %d should have advanced", id)
		}
	}
}

func TestRunDueCycle_GatewayUnavailableLeavesScheduleDue(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	sched := monthlySchedule(1, 10, "25.00", due)
	sched.GatewayCustomerRef = "cust-77"
	e := newTestEnv(sched)
	e.gateway.chargeErr = gateway.ErrGatewayUnavailable

	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.ErrorCount != 1 || report.CreatedRecords != 0 {
		t.Fatalf("expected single gateway error, got created=%d errors=%d", report.CreatedRecords, report.ErrorCount)
	}
	if e.transactions.count() != 0 {
		t.Fatalf("no transaction may exist after a failed charge")
	}

	s, _ := e.schedules.GetByID(1)
	if !s.NextRunAt.Equal(due) {
		t.Fatalf("schedule must stay due for retry, got %s", s.NextRunAt)
	}

	// Once the gateway recovers the same period materializes exactly once.
	e.gateway.chargeErr = nil
	report, err = e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if report.CreatedRecords != 1 || e.transactions.count() != 1 {
		t.Fatalf("expected exactly one transaction after retry, got %d", e.transactions.count())
	}
}

func TestRunDueCycle_ChargesUseDeterministicOrderRef(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	sched := monthlySchedule(1, 10, "25.00", now.Add(-time.Hour))
	sched.GatewayCustomerRef = "cust-77"
	e := newTestEnv(sched)

	if _, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.gateway.requests) != 1 {
		t.Fatalf("expected 1 charge, got %d", len(e.gateway.requests))
	}
	want := IdempotencyKey(1, models.FrequencyMonthly, sched.AnchorDate)
	if e.gateway.requests[0].OrderRef != want {
		t.Fatalf("expected order ref %s, got %s", want, e.gateway.requests[0].OrderRef)
	}
}

func TestRunDueCycle_IncomeSchedulesSkipGateway(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	sched := monthlySchedule(1, 10, "25.00", now.Add(-time.Hour))
	sched.Kind = models.PaymentKindIncome
	sched.GatewayCustomerRef = "cust-77"
	e := newTestEnv(sched)

	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.CreatedRecords != 1 {
		t.Fatalf("expected 1 created record, got %d", report.CreatedRecords)
	}
	if len(e.gateway.requests) != 0 {
		t.Fatalf("income schedules must not hit the gateway")
	}
}

func TestRunDueCycle_EndConditionDeactivates(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	maxOcc := 1
	sched := monthlySchedule(1, 10, "25.00", now.Add(-time.Hour))
	sched.EndMode = models.EndModeCount
	sched.MaxOccurrences = &maxOcc
	e := newTestEnv(sched)

	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.CreatedRecords != 1 || report.DeactivatedCount != 1 {
		t.Fatalf("expected created=1 deactivated=1, got created=%d deactivated=%d",
			report.CreatedRecords, report.DeactivatedCount)
	}

	s, _ := e.schedules.GetByID(1)
	if s.IsActive {
		t.Fatalf("schedule should be deactivated after reaching max occurrences")
	}
}

func TestRunDueCycle_EndDateDeactivates(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	endDate := now.AddDate(0, 0, 3)
	sched := monthlySchedule(1, 10, "25.00", now.Add(-time.Hour))
	sched.EndMode = models.EndModeDate
	sched.EndDate = &endDate
	e := newTestEnv(sched)

	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.DeactivatedCount != 1 {
		t.Fatalf("expected deactivation when next run falls past the end date")
	}
}

func TestRunDueCycle_ForcedSingleSchedule(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	notDue := monthlySchedule(1, 10, "25.00", now.AddDate(0, 0, 10))
	e := newTestEnv(notDue)

	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.ProcessedCount != 0 {
		t.Fatalf("not-due schedule must not process without force")
	}

	report, err = e.processor.RunDueCycle(context.Background(), now, ScopeSchedule(1, true))
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if report.CreatedRecords != 1 {
		t.Fatalf("expected forced materialization, got created=%d", report.CreatedRecords)
	}
}

func TestRunDueCycle_UserScope(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	e := newTestEnv(
		monthlySchedule(1, 10, "10.00", due),
		monthlySchedule(2, 20, "10.00", due),
	)

	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeUser(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.CreatedRecords != 1 {
		t.Fatalf("expected only user 10's schedule, got created=%d", report.CreatedRecords)
	}
}

func TestRunDueCycle_ValidationChecksReferences(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	missingCategory := uint(99)
	sched := monthlySchedule(1, 10, "25.00", now.Add(-time.Hour))
	sched.CategoryID = &missingCategory
	e := newTestEnv(sched)

	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.ErrorCount != 1 || report.CreatedRecords != 0 {
		t.Fatalf("expected a validation failure, got created=%d errors=%d",
			report.CreatedRecords, report.ErrorCount)
	}
}

func TestRunDueCycle_SaleDecrementsStock(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	productID := uint(7)
	sched := monthlySchedule(1, 10, "25.00", now.Add(-time.Hour))
	sched.Kind = models.PaymentKindIncome
	sched.ProductID = &productID
	sched.Quantity = 2
	e := newTestEnv(sched)
	e.catalog.stock[productID] = 5

	if _, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := e.catalog.stock[productID]; got != 3 {
		t.Fatalf("expected stock 3 after sale, got %d", got)
	}
}

func TestRunDueCycle_InsufficientStockStillPosts(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	productID := uint(7)
	sched := monthlySchedule(1, 10, "25.00", now.Add(-time.Hour))
	sched.Kind = models.PaymentKindIncome
	sched.ProductID = &productID
	sched.Quantity = 10
	e := newTestEnv(sched)
	e.catalog.stock[productID] = 1

	report, err := e.processor.RunDueCycle(context.Background(), now, ScopeAllUsers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.CreatedRecords != 1 || report.ErrorCount != 0 {
		t.Fatalf("financial record must post even when stock is short")
	}
	if got := e.catalog.stock[productID]; got != 1 {
		t.Fatalf("stock must not go negative, got %d", got)
	}
}
