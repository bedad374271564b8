package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/paycycle/paycycle/app/models"
	"github.com/paycycle/paycycle/app/repository"
)

// FailureKind classifies a recorded failure for health evaluation.
type FailureKind string

const (
	FailureKindValidation FailureKind = "validation"
	FailureKindGateway    FailureKind = "gateway"
	FailureKindWebhook    FailureKind = "webhook"
	FailureKindInternal   FailureKind = "internal"
)

// FailureContext carries structured context about a single failure.
type FailureContext struct {
	Kind    FailureKind `json:"kind"`
	Ref     string      `json:"ref"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// HealthStatus is the overall classification exposed by the health endpoint.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusCritical HealthStatus = "critical"
)

// Thresholds configures health classification. Tunable at runtime through
// UpdateAlertConfig.
type Thresholds struct {
	DegradedSuccessRate float64 `json:"degraded_success_rate" validate:"gt=0,lte=1"`
	CriticalSuccessRate float64 `json:"critical_success_rate" validate:"gt=0,lte=1,ltefield=DegradedSuccessRate"`
	MinSamples          int     `json:"min_samples" validate:"gte=0"`
	GatewayFailureLimit int     `json:"gateway_failure_limit" validate:"gte=0"`
}

func (t *Thresholds) Validate() error {
	v := validator.New()

	return v.Struct(t)
}

// DefaultThresholds returns the standard alerting configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedSuccessRate: 0.90,
		CriticalSuccessRate: 0.70,
		MinSamples:          10,
		GatewayFailureLimit: 3,
	}
}

// Stats is a snapshot of the rolling window counters.
type Stats struct {
	WindowMinutes int     `json:"window_minutes"`
	Attempts      int     `json:"attempts"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	SuccessRate   float64 `json:"success_rate"`
}

type sample struct {
	at time.Time
	ok bool
}

const maxRecentErrors = 50

// Monitor maintains rolling success/failure counters fed by the processor
// and the webhook ingestor, and raises deduplicated alerts when thresholds
// are crossed. It is an explicit service object constructed once at process
// start; nowFn is injectable for deterministic tests.
type Monitor struct {
	mu                sync.Mutex
	window            time.Duration
	nowFn             func() time.Time
	thresholds        Thresholds
	samples           []sample
	recentErrors      []FailureContext
	gatewayFailStreak int
	activeAlerts      map[string]*models.Alert
	alertRepo         repository.AlertRepository
	errorSink         func(FailureContext)
}

// Option customizes monitor construction.
type Option func(*Monitor)

// WithClock injects a clock, used by tests.
func WithClock(nowFn func() time.Time) Option {
	return func(m *Monitor) { m.nowFn = nowFn }
}

// WithAlertRepository persists alert history through the given repository.
func WithAlertRepository(repo repository.AlertRepository) Option {
	return func(m *Monitor) { m.alertRepo = repo }
}

// WithErrorSink mirrors failure contexts to an external sink (Redis list).
func WithErrorSink(sink func(FailureContext)) Option {
	return func(m *Monitor) { m.errorSink = sink }
}

// New creates a payment monitor with the given rolling window.
func New(window time.Duration, thresholds Thresholds, opts ...Option) *Monitor {
	if window <= 0 {
		window = time.Hour
	}
	m := &Monitor{
		window:       window,
		nowFn:        time.Now,
		thresholds:   thresholds,
		activeAlerts: make(map[string]*models.Alert),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordSuccess counts a successful payment operation.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	m.prune(now)
	m.samples = append(m.samples, sample{at: now, ok: true})
	m.gatewayFailStreak = 0
}

// RecordFailure counts a failed payment operation with structured context.
func (m *Monitor) RecordFailure(fctx FailureContext) {
	m.mu.Lock()

	now := m.nowFn()
	if fctx.At.IsZero() {
		fctx.At = now
	}
	m.prune(now)
	m.samples = append(m.samples, sample{at: now, ok: false})
	if fctx.Kind == FailureKindGateway {
		m.gatewayFailStreak++
	}
	m.recentErrors = append(m.recentErrors, fctx)
	if len(m.recentErrors) > maxRecentErrors {
		m.recentErrors = m.recentErrors[len(m.recentErrors)-maxRecentErrors:]
	}
	sink := m.errorSink
	m.mu.Unlock()

	log.Errorf("[Monitor] %s failure (%s): %s", fctx.Kind, fctx.Ref, fctx.Message)
	if sink != nil {
		sink(fctx)
	}
}

// Stats returns the current rolling window counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune(m.nowFn())
	return m.statsLocked()
}

func (m *Monitor) statsLocked() Stats {
	s := Stats{WindowMinutes: int(m.window.Minutes())}
	for _, smp := range m.samples {
		s.Attempts++
		if smp.ok {
			s.Successes++
		} else {
			s.Failures++
		}
	}
	if s.Attempts > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.Attempts)
	} else {
		s.SuccessRate = 1.0
	}
	return s
}

// GetSystemHealth classifies overall status and raises or clears alerts
// accordingly. Called by the health endpoint and the health-check job.
func (m *Monitor) GetSystemHealth() (HealthStatus, Stats) {
	m.mu.Lock()

	now := m.nowFn()
	m.prune(now)
	stats := m.statsLocked()
	th := m.thresholds
	gatewayDown := th.GatewayFailureLimit > 0 && m.gatewayFailStreak >= th.GatewayFailureLimit
	m.mu.Unlock()

	status := HealthStatusHealthy
	enoughSamples := stats.Attempts >= th.MinSamples
	switch {
	case gatewayDown:
		status = HealthStatusCritical
	case enoughSamples && stats.SuccessRate < th.CriticalSuccessRate:
		status = HealthStatusCritical
	case enoughSamples && stats.SuccessRate < th.DegradedSuccessRate:
		status = HealthStatusDegraded
	}

	if gatewayDown {
		m.RaiseAlert(models.AlertTypeGatewayUnreachable, "payment gateway is unreachable")
	} else {
		m.ClearAlert(models.AlertTypeGatewayUnreachable)
	}
	if enoughSamples && stats.SuccessRate < th.DegradedSuccessRate {
		m.RaiseAlert(models.AlertTypeLowSuccessRate,
			fmt.Sprintf("payment success rate dropped to %.0f%%", stats.SuccessRate*100))
	} else {
		m.ClearAlert(models.AlertTypeLowSuccessRate)
	}

	return status, stats
}

// UpdateAlertConfig replaces the alerting thresholds at runtime.
func (m *Monitor) UpdateAlertConfig(thresholds Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = thresholds
}

// RecentErrors returns up to n most recent failure contexts, newest first.
func (m *Monitor) RecentErrors(n int) []FailureContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || n > len(m.recentErrors) {
		n = len(m.recentErrors)
	}
	out := make([]FailureContext, 0, n)
	for i := len(m.recentErrors) - 1; i >= len(m.recentErrors)-n; i-- {
		out = append(out, m.recentErrors[i])
	}
	return out
}

// prune drops samples that fell out of the rolling window. Caller holds mu.
func (m *Monitor) prune(now time.Time) {
	cutoff := now.Add(-m.window)
	i := 0
	for ; i < len(m.samples); i++ {
		if m.samples[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		m.samples = m.samples[i:]
	}
}
