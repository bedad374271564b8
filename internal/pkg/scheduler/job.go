package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobStats is the per-job snapshot exposed by the admin endpoint.
type JobStats struct {
	ID                  string     `json:"id"`
	Spec                string     `json:"spec"`
	Disabled            bool       `json:"disabled"`
	Running             bool       `json:"running"`
	Runs                int        `json:"runs"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastDurationMS      int64      `json:"last_duration_ms"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	MissedOverlaps      int        `json:"missed_overlaps"`
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
}

// job is one named scheduled task. The guard channel is the non-reentrant
// run lock shared by cron ticks and forceRun.
type job struct {
	id       string
	fn       JobFunc
	guard    chan struct{}
	mu       sync.Mutex
	spec     string
	schedule cron.Schedule
	entryID  cron.EntryID
	disabled bool
	inFlight bool

	runs                int
	lastRunAt           *time.Time
	lastDuration        time.Duration
	lastError           string
	consecutiveFailures int
	missedOverlaps      int
}

func newJob(id, spec string, schedule cron.Schedule, fn JobFunc) *job {
	return &job{
		id:       id,
		fn:       fn,
		guard:    make(chan struct{}, 1),
		spec:     spec,
		schedule: schedule,
	}
}

// tryAcquire attempts to take the run guard without blocking. The inFlight
// flag shadows the guard so stats readers never have to touch it; poking
// the channel itself would make a concurrent tick look like an overlap.
func (j *job) tryAcquire() bool {
	select {
	case j.guard <- struct{}{}:
		j.mu.Lock()
		j.inFlight = true
		j.mu.Unlock()
		return true
	default:
		return false
	}
}

func (j *job) release() {
	j.mu.Lock()
	j.inFlight = false
	j.mu.Unlock()
	<-j.guard
}

func (j *job) isDisabled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.disabled
}

func (j *job) setDisabled(disabled bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.disabled = disabled
}

func (j *job) recordOverlap() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.missedOverlaps++
	return j.missedOverlaps
}

// recordRun updates stats after an execution and returns the consecutive
// failure count.
func (j *job) recordRun(at time.Time, dur time.Duration, err error) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.runs++
	j.lastRunAt = &at
	j.lastDuration = dur
	if err != nil {
		j.lastError = err.Error()
		j.consecutiveFailures++
	} else {
		j.lastError = ""
		j.consecutiveFailures = 0
	}
	return j.consecutiveFailures
}

func (j *job) snapshot(next *time.Time) JobStats {
	j.mu.Lock()
	defer j.mu.Unlock()

	return JobStats{
		ID:                  j.id,
		Spec:                j.spec,
		Disabled:            j.disabled,
		Running:             j.inFlight,
		Runs:                j.runs,
		LastRunAt:           j.lastRunAt,
		LastDurationMS:      j.lastDuration.Milliseconds(),
		LastError:           j.lastError,
		ConsecutiveFailures: j.consecutiveFailures,
		MissedOverlaps:      j.missedOverlaps,
		NextRunAt:           next,
	}
}
