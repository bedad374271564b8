package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/paycycle/paycycle/app/models"
	"github.com/paycycle/paycycle/internal/pkg/monitor"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

var (
	// ErrJobNotFound is returned for operations on unknown job ids.
	ErrJobNotFound = errors.New("scheduler: job not found")
	// ErrJobAlreadyRunning is returned when forceRun finds the run guard held.
	ErrJobAlreadyRunning = errors.New("scheduler: job already running")
)

const defaultFailureAlertThreshold = 3

// Scheduler drives named jobs on cron cadences. It is an explicit service
// object constructed once at process start and injected where needed. Each
// job holds a non-reentrant run guard: when a tick fires while the previous
// invocation is still executing, the tick is skipped and counted as a missed
// overlap, never queued, which bounds backlog. A job body failure is caught,
// logged and counted; after the configured number of consecutive failures
// the monitor raises an alert, but the job is never auto-disabled.
type Scheduler struct {
	mu               sync.Mutex
	cron             *cron.Cron
	jobs             map[string]*job
	monitor          *monitor.Monitor
	failureThreshold int
	nowFn            func() time.Time
	running          bool
}

// Option customizes scheduler construction.
type Option func(*Scheduler)

// WithClock injects a clock, used by tests.
func WithClock(nowFn func() time.Time) Option {
	return func(s *Scheduler) { s.nowFn = nowFn }
}

// WithFailureAlertThreshold sets how many consecutive failures of one job
// trigger a monitor alert.
func WithFailureAlertThreshold(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// New creates a scheduler reporting into the given monitor.
func New(mon *monitor.Monitor, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:             cron.New(),
		jobs:             make(map[string]*job),
		monitor:          mon,
		failureThreshold: defaultFailureAlertThreshold,
		nowFn:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a named job with a standard 5-field cron spec. Jobs may be
// registered before or after Start.
func (s *Scheduler) Register(id, spec string, fn JobFunc) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("job %q already registered", id)
	}

	j := newJob(id, spec, schedule, fn)
	j.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.runJob(j) }))
	s.jobs[id] = j
	log.Infof("[Scheduler] registered job %q (%s)", id, spec)
	return nil
}

// Start begins ticking. Safe to call when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	log.Info("[Scheduler] started")
}

// Stop halts ticking and waits for in-flight jobs to finish. Registered jobs
// stay schedulable across stop/start cycles.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ctx := s.cron.Stop()
	s.mu.Unlock()

	<-ctx.Done()
	log.Info("[Scheduler] stopped")
}

// IsRunning reports whether the scheduler is ticking.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ForceRun executes a job immediately, regardless of its disabled flag. It
// shares the per-job run guard with natural ticks, so at most one execution
// is in flight per job; a busy guard yields ErrJobAlreadyRunning.
func (s *Scheduler) ForceRun(id string) error {
	j, err := s.getJob(id)
	if err != nil {
		return err
	}

	if !j.tryAcquire() {
		j.recordOverlap()
		return ErrJobAlreadyRunning
	}
	defer j.release()

	return s.execute(j)
}

// Enable clears a job's disabled flag.
func (s *Scheduler) Enable(id string) error {
	j, err := s.getJob(id)
	if err != nil {
		return err
	}
	j.setDisabled(false)
	log.Infof("[Scheduler] job %q enabled", id)
	return nil
}

// Disable flags a job to be skipped on tick. The job stays registered and
// schedulable; only an operator re-enables it.
func (s *Scheduler) Disable(id string) error {
	j, err := s.getJob(id)
	if err != nil {
		return err
	}
	j.setDisabled(true)
	log.Infof("[Scheduler] job %q disabled", id)
	return nil
}

// UpdateSchedule replaces a job's cron cadence.
func (s *Scheduler) UpdateSchedule(id, spec string) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	s.cron.Remove(j.entryID)
	j.mu.Lock()
	j.spec = spec
	j.schedule = schedule
	j.mu.Unlock()
	j.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.runJob(j) }))

	log.Infof("[Scheduler] job %q rescheduled to %s", id, spec)
	return nil
}

// Stats returns the snapshot for one job.
func (s *Scheduler) Stats(id string) (JobStats, error) {
	j, err := s.getJob(id)
	if err != nil {
		return JobStats{}, err
	}
	return s.snapshotJob(j), nil
}

// AllStats returns snapshots for every registered job.
func (s *Scheduler) AllStats() []JobStats {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobStats, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, s.snapshotJob(j))
	}
	return out
}

func (s *Scheduler) snapshotJob(j *job) JobStats {
	var next *time.Time
	s.mu.Lock()
	if s.running {
		if entry := s.cron.Entry(j.entryID); !entry.Next.IsZero() {
			n := entry.Next
			next = &n
		}
	}
	s.mu.Unlock()
	if next == nil {
		j.mu.Lock()
		n := j.schedule.Next(s.nowFn())
		j.mu.Unlock()
		next = &n
	}

	return j.snapshot(next)
}

func (s *Scheduler) getJob(id string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// runJob is the tick entry point. Disabled jobs are skipped; a held guard
// means the previous invocation is still executing, so the tick is skipped
// and counted rather than queued.
func (s *Scheduler) runJob(j *job) {
	if j.isDisabled() {
		return
	}
	if !j.tryAcquire() {
		n := j.recordOverlap()
		log.Warnf("[Scheduler] job %q still running, tick skipped (missed overlaps: %d)", j.id, n)
		return
	}
	defer j.release()

	_ = s.execute(j)
}

// execute runs the job body with panic recovery and failure accounting.
// Caller must hold the run guard.
func (s *Scheduler) execute(j *job) error {
	start := s.nowFn()
	err := s.invoke(j)
	dur := s.nowFn().Sub(start)

	failures := j.recordRun(start, dur, err)
	if err != nil {
		log.Errorf("[Scheduler] job %q failed after %s: %v (consecutive: %d)", j.id, dur, err, failures)
		if failures >= s.failureThreshold && s.monitor != nil {
			s.monitor.RaiseAlert(models.AlertTypeJobFailing,
				fmt.Sprintf("job %q failed %d times in a row: %v", j.id, failures, err))
		}
		return err
	}

	log.Infof("[Scheduler] job %q completed in %s", j.id, dur)
	return nil
}

func (s *Scheduler) invoke(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.fn(context.Background())
}
