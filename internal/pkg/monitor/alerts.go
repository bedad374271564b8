package monitor

import (
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/paycycle/paycycle/app/models"
)

// RaiseAlert raises an alert of the given type, or refreshes its timestamp
// when the type is already active. Dedup by type keeps repeated breaches
// within a window from piling up duplicate entries.
func (m *Monitor) RaiseAlert(alertType, message string) {
	m.mu.Lock()
	now := m.nowFn()

	if existing, ok := m.activeAlerts[alertType]; ok {
		existing.RaisedAt = now
		existing.Message = message
		repo, id := m.alertRepo, existing.ID
		m.mu.Unlock()
		if repo != nil && id != 0 {
			if err := repo.RefreshRaisedAt(id, now); err != nil {
				log.Errorf("[Monitor] failed to refresh alert %q: %v", alertType, err)
			}
		}
		return
	}

	alert := &models.Alert{
		Type:     alertType,
		Message:  message,
		RaisedAt: now,
	}
	m.activeAlerts[alertType] = alert
	repo := m.alertRepo
	m.mu.Unlock()

	log.Warnf("[Monitor] alert raised: %s - %s", alertType, message)
	if repo != nil {
		if err := repo.Create(alert); err != nil {
			log.Errorf("[Monitor] failed to persist alert %q: %v", alertType, err)
		}
	}
}

// ClearAlert resolves an active alert of the given type, if any.
func (m *Monitor) ClearAlert(alertType string) {
	m.mu.Lock()
	alert, ok := m.activeAlerts[alertType]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.activeAlerts, alertType)
	now := m.nowFn()
	alert.ClearedAt = &now
	repo, id := m.alertRepo, alert.ID
	m.mu.Unlock()

	log.Infof("[Monitor] alert cleared: %s", alertType)
	if repo != nil && id != 0 {
		if err := repo.Clear(id, now); err != nil {
			log.Errorf("[Monitor] failed to clear alert %q: %v", alertType, err)
		}
	}
}

// ActiveAlerts returns the currently active alerts.
func (m *Monitor) ActiveAlerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Alert, 0, len(m.activeAlerts))
	for _, a := range m.activeAlerts {
		out = append(out, *a)
	}
	return out
}

// ClearOldAlerts purges alert history older than maxAge. Returns how many
// in-memory entries were dropped; persisted history is purged through the
// repository. Maintenance only, not correctness-critical.
func (m *Monitor) ClearOldAlerts(maxAge time.Duration) int {
	m.mu.Lock()
	now := m.nowFn()
	cutoff := now.Add(-maxAge)

	dropped := 0
	for alertType, alert := range m.activeAlerts {
		if alert.RaisedAt.Before(cutoff) {
			delete(m.activeAlerts, alertType)
			dropped++
		}
	}
	repo := m.alertRepo
	m.mu.Unlock()

	if repo != nil {
		if n, err := repo.DeleteOlderThan(cutoff); err != nil {
			log.Errorf("[Monitor] failed to purge old alerts: %v", err)
		} else if n > 0 {
			log.Infof("[Monitor] purged %d old alerts", n)
		}
	}
	return dropped
}
