package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paycycle/paycycle/app/models"
	"github.com/paycycle/paycycle/app/repository"
	"github.com/paycycle/paycycle/internal/pkg/gateway"
	"github.com/paycycle/paycycle/internal/pkg/monitor"
)

const defaultWorkers = 4

// Scope narrows which schedules a due cycle evaluates. The zero value means
// all users. Force additionally materializes a single schedule even when its
// next run time has not arrived yet.
type Scope struct {
	UserID     *uint
	ScheduleID *uint
	Force      bool
}

// ScopeAllUsers evaluates every due schedule.
func ScopeAllUsers() Scope { return Scope{} }

// ScopeUser evaluates due schedules of a single user.
func ScopeUser(userID uint) Scope { return Scope{UserID: &userID} }

// ScopeSchedule evaluates a single schedule, forcing it when force is set.
func ScopeSchedule(scheduleID uint, force bool) Scope {
	return Scope{ScheduleID: &scheduleID, Force: force}
}

// Processor materializes due recurring payment schedules into ledger
// transactions. Schedules in one batch share no mutable in-memory state, so
// the batch is parallelized across a bounded worker pool; failure of one
// item never blocks or rolls back another.
type Processor struct {
	repos   *repository.Repositories
	gateway gateway.Client
	monitor *monitor.Monitor
	workers int
}

// New creates a processor with the given collaborators.
func New(repos *repository.Repositories, gw gateway.Client, mon *monitor.Monitor, workers int) *Processor {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Processor{
		repos:   repos,
		gateway: gw,
		monitor: mon,
		workers: workers,
	}
}

// RunDueCycle evaluates all schedules due at now within the scope and
// materializes one occurrence for each. Re-running the cycle for the same
// now is a no-op for already-materialized periods: the idempotency key's
// uniqueness constraint, not in-process locking, enforces at-most-once per
// (schedule, period), so overlapping cycles and multiple instances are safe.
func (p *Processor) RunDueCycle(ctx context.Context, now time.Time, scope Scope) (*Report, error) {
	schedules, err := p.loadSchedules(now, scope)
	if err != nil {
		return nil, fmt.Errorf("loading due schedules: %w", err)
	}

	report := &Report{
		CycleID: uuid.NewString(),
		RunAt:   now,
		Errors:  []ItemError{},
	}
	log.Infof("[Processor] cycle %s: %d due schedules", report.CycleID, len(schedules))

	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup
	for i := range schedules {
		sched := schedules[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.processOne(ctx, now, &sched, report)
		}()
	}
	wg.Wait()

	log.Infof("[Processor] cycle %s done: processed=%d created=%d skipped=%d deactivated=%d errors=%d",
		report.CycleID, report.ProcessedCount, report.CreatedRecords,
		report.SkippedExisting, report.DeactivatedCount, report.ErrorCount)
	return report, nil
}

func (p *Processor) loadSchedules(now time.Time, scope Scope) ([]models.RecurringPayment, error) {
	if scope.Force && scope.ScheduleID != nil {
		sched, err := p.repos.Schedule.GetByID(*scope.ScheduleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if !sched.IsActive {
			return nil, nil
		}
		return []models.RecurringPayment{*sched}, nil
	}
	return p.repos.Schedule.ListDue(now, repository.DueScope{
		UserID:     scope.UserID,
		ScheduleID: scope.ScheduleID,
	})
}

// processOne handles a single schedule. Any panic or error is recorded as a
// per-item error so sibling items keep going.
func (p *Processor) processOne(ctx context.Context, now time.Time, sched *models.RecurringPayment, report *Report) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			log.Errorf("[Processor] schedule %d: %s", sched.ID, msg)
			report.addError(sched.ID, msg)
			p.monitor.RecordFailure(monitor.FailureContext{
				Kind:    monitor.FailureKindInternal,
				Ref:     fmt.Sprintf("schedule:%d", sched.ID),
				Message: msg,
			})
		}
	}()

	key := IdempotencyKey(sched.ID, sched.Frequency, sched.NextRunAt)

	exists, err := p.repos.Transaction.ExistsByIdempotencyKey(key)
	if err != nil {
		p.failItem(report, sched.ID, monitor.FailureKindInternal, fmt.Sprintf("idempotency lookup: %v", err))
		return
	}
	if exists {
		// Already materialized by an earlier or concurrent run.
		report.addSkipped()
		p.advance(sched, report)
		return
	}

	if err := p.validate(sched); err != nil {
		p.failItem(report, sched.ID, monitor.FailureKindValidation, err.Error())
		return
	}

	gatewayRef := ""
	if sched.Kind == models.PaymentKindExpense && sched.GatewayCustomerRef != "" {
		result, err := p.gateway.Charge(ctx, gateway.ChargeRequest{
			// The order ref is derived from the idempotency key so a retried
			// charge for the same period reuses the same order.
			OrderRef:    key,
			CustomerRef: sched.GatewayCustomerRef,
			Amount:      sched.Amount,
			Currency:    sched.Currency,
			Description: sched.Name,
		})
		if err != nil {
			// Gateway errors are retryable: the schedule is not advanced and
			// stays due for the next tick.
			p.failItem(report, sched.ID, monitor.FailureKindGateway, fmt.Sprintf("gateway charge: %v", err))
			return
		}
		gatewayRef = result.TransactionID
	}

	idemKey := key
	created, err := p.repos.Transaction.CreateIfNotExists(&models.Transaction{
		UserID:         sched.UserID,
		ScheduleID:     &sched.ID,
		IdempotencyKey: &idemKey,
		Kind:           sched.Kind,
		Amount:         sched.Amount,
		Currency:       sched.Currency,
		Date:           sched.NextRunAt,
		Status:         models.TransactionStatusPosted,
		Source:         models.TransactionSourceRecurring,
		CategoryID:     sched.CategoryID,
		VendorID:       sched.VendorID,
		Description:    sched.Name,
		GatewayRef:     gatewayRef,
	})
	if err != nil {
		p.failItem(report, sched.ID, monitor.FailureKindInternal, fmt.Sprintf("create transaction: %v", err))
		return
	}
	if !created {
		// A concurrent cycle won the insert race; duplicate materialization
		// is a success-no-op, not an error.
		report.addSkipped()
		p.advance(sched, report)
		return
	}

	if sched.IsSale() {
		// Inventory decrement is best-effort; the financial record stands
		// even when stock bookkeeping fails.
		qty := sched.Quantity
		if qty <= 0 {
			qty = 1
		}
		if ok, err := p.repos.Catalog.DecrementStock(*sched.ProductID, qty); err != nil {
			log.Errorf("[Processor] schedule %d: stock decrement failed: %v", sched.ID, err)
		} else if !ok {
			log.Warnf("[Processor] schedule %d: insufficient stock for product %d", sched.ID, *sched.ProductID)
		}
	}

	report.addCreated()
	p.monitor.RecordSuccess()
	p.advance(sched, report)
}

// advance moves the schedule to its next period and deactivates it when the
// end condition is met. The conditional update means only one of several
// racing instances actually advances.
func (p *Processor) advance(sched *models.RecurringPayment, report *Report) {
	occurrences := sched.OccurrencesCompleted + 1
	next := NextRun(sched.NextRunAt, sched.Frequency, sched.AnchorDate)
	stillActive := !sched.EndConditionMet(occurrences, next)

	advanced, err := p.repos.Schedule.AdvanceAfterRun(sched.ID, sched.NextRunAt, next, occurrences, stillActive)
	if err != nil {
		log.Errorf("[Processor] schedule %d: advance failed: %v", sched.ID, err)
		return
	}
	if advanced && !stillActive {
		log.Infof("[Processor] schedule %d deactivated (end condition met)", sched.ID)
		report.addDeactivated()
	}
}

func (p *Processor) validate(sched *models.RecurringPayment) error {
	if !sched.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", sched.Amount)
	}
	if sched.CategoryID != nil {
		ok, err := p.repos.Catalog.CategoryExists(*sched.CategoryID)
		if err != nil {
			return fmt.Errorf("category lookup: %w", err)
		}
		if !ok {
			return fmt.Errorf("category %d no longer exists", *sched.CategoryID)
		}
	}
	if sched.VendorID != nil {
		ok, err := p.repos.Catalog.VendorExists(*sched.VendorID)
		if err != nil {
			return fmt.Errorf("vendor lookup: %w", err)
		}
		if !ok {
			return fmt.Errorf("vendor %d no longer exists", *sched.VendorID)
		}
	}
	return nil
}

func (p *Processor) failItem(report *Report, scheduleID uint, kind monitor.FailureKind, msg string) {
	log.Errorf("[Processor] schedule %d: %s", scheduleID, msg)
	report.addError(scheduleID, msg)
	p.monitor.RecordFailure(monitor.FailureContext{
		Kind:    kind,
		Ref:     fmt.Sprintf("schedule:%d", scheduleID),
		Message: msg,
	})
}
