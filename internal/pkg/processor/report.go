package processor

import (
	"sync"
	"time"
)

// ItemError records a per-schedule failure inside a due cycle. Item failures
// never abort the batch; they are aggregated here.
type ItemError struct {
	ScheduleID uint   `json:"scheduleId"`
	Message    string `json:"message"`
}

// Report aggregates the outcome of one due cycle. Field names follow the
// cron trigger endpoint contract.
type Report struct {
	CycleID          string      `json:"cycleId"`
	RunAt            time.Time   `json:"runAt"`
	ProcessedCount   int         `json:"processedCount"`
	CreatedRecords   int         `json:"createdRecords"`
	SkippedExisting  int         `json:"skippedExisting"`
	DeactivatedCount int         `json:"deactivatedCount"`
	ErrorCount       int         `json:"errorCount"`
	Errors           []ItemError `json:"errors"`

	mu sync.Mutex
}

func (r *Report) addCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ProcessedCount++
	r.CreatedRecords++
}

func (r *Report) addSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ProcessedCount++
	r.SkippedExisting++
}

func (r *Report) addDeactivated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DeactivatedCount++
}

func (r *Report) addError(scheduleID uint, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ProcessedCount++
	r.ErrorCount++
	r.Errors = append(r.Errors, ItemError{ScheduleID: scheduleID, Message: message})
}
