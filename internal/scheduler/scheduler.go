// Package scheduler runs recurring scan jobs on cron schedules.
// It wraps robfig/cron with per-job bookkeeping and overlap protection:
// a job whose previous run is still in flight is skipped, not queued.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/logging"
)

// JobFunc is the work a scheduled job performs on each tick.
type JobFunc func(ctx context.Context) error

// Scheduler manages recurring jobs.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	jobs    map[uuid.UUID]*ScheduledJob
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// ScheduledJob is the scheduler's view of one job.
type ScheduledJob struct {
	ID       uuid.UUID
	Name     string
	Schedule string
	CronID   cron.EntryID
	Enabled  bool
	LastRun  time.Time
	NextRun  time.Time
	Running  bool
	Runs     int
	Skipped  int
	LastErr  error

	fn JobFunc
}

// NewScheduler creates a scheduler. Jobs fire only after Start.
func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(),
		logger: logger.WithComponent("scheduler"),
		jobs:   make(map[uuid.UUID]*ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins firing jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler has been stopped")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts the schedule, cancels in-flight runs and waits for scheduled
// runs to return. A stopped scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()

	if wasRunning {
		s.logger.Info("Scheduler stopped")
	}
}

// AddJob registers fn under a cron expression. Standard five-field
// expressions and descriptors such as "@every 30s" are accepted.
func (s *Scheduler) AddJob(name, cronExpr string, fn JobFunc) (uuid.UUID, error) {
	if fn == nil {
		return uuid.Nil, errors.NewConfigFieldError(errors.CodeValidation, "job function is required", "job", name)
	}

	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return uuid.Nil, errors.WrapConfigError(errors.CodeValidation,
			fmt.Sprintf("invalid cron expression %q", cronExpr), err)
	}

	job := &ScheduledJob{
		ID:       uuid.New(),
		Name:     name,
		Schedule: cronExpr,
		Enabled:  true,
		NextRun:  schedule.Next(time.Now()),
		fn:       fn,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := job.ID
	job.CronID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.execute(id) }))
	s.jobs[id] = job

	s.logger.Info("Added scheduled job", "job", name, "schedule", cronExpr)
	return id, nil
}

// RemoveJob unschedules a job. An in-flight run finishes normally.
func (s *Scheduler) RemoveJob(jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job not found")
	}

	s.cron.Remove(job.CronID)
	delete(s.jobs, jobID)

	s.logger.Info("Removed scheduled job", "job", job.Name)
	return nil
}

// EnableJob resumes a disabled job.
func (s *Scheduler) EnableJob(jobID uuid.UUID) error {
	return s.setJobEnabled(jobID, true)
}

// DisableJob keeps a job scheduled but skips its runs.
func (s *Scheduler) DisableJob(jobID uuid.UUID) error {
	return s.setJobEnabled(jobID, false)
}

func (s *Scheduler) setJobEnabled(jobID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job not found")
	}
	job.Enabled = enabled

	s.logger.Info("Job state changed", "job", job.Name, "enabled", enabled)
	return nil
}

// RunNow executes a job immediately on the calling goroutine, subject to
// the same overlap rule as scheduled runs. It reports whether the job ran.
func (s *Scheduler) RunNow(jobID uuid.UUID) (bool, error) {
	return s.run(jobID)
}

// GetJobs returns snapshots of every job ordered by name.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		snapshot.fn = nil
		if entry := s.cron.Entry(job.CronID); entry.Valid() && !entry.Next.IsZero() {
			snapshot.NextRun = entry.Next
		}
		jobs = append(jobs, snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// GetJob returns a snapshot of one job.
func (s *Scheduler) GetJob(jobID uuid.UUID) (ScheduledJob, bool) {
	for _, job := range s.GetJobs() {
		if job.ID == jobID {
			return job, true
		}
	}
	return ScheduledJob{}, false
}

func (s *Scheduler) execute(jobID uuid.UUID) {
	_, _ = s.run(jobID)
}

func (s *Scheduler) run(jobID uuid.UUID) (bool, error) {
	job, shouldContinue := s.prepareJobExecution(jobID)
	if !shouldContinue {
		return false, nil
	}

	s.logger.Debug("Executing scheduled job", "job", job.Name)
	err := job.fn(s.ctx)
	s.cleanupJobExecution(jobID, err)

	switch {
	case err == nil:
	case errors.IsRetryable(err):
		s.logger.Warn("Scheduled job failed, retrying on next tick", "job", job.Name, "error", err)
	default:
		s.logger.Error("Scheduled job failed", "job", job.Name, "error", err)
	}
	return true, err
}

// prepareJobExecution marks the job running unless it is missing,
// disabled, already running or the scheduler has stopped.
func (s *Scheduler) prepareJobExecution(jobID uuid.UUID) (*ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists || !job.Enabled || s.ctx.Err() != nil {
		return nil, false
	}
	if job.Running {
		job.Skipped++
		s.logger.Warn("Scheduled job is still running, skipping", "job", job.Name)
		return nil, false
	}

	job.Running = true
	job.LastRun = time.Now()
	return job, true
}

func (s *Scheduler) cleanupJobExecution(jobID uuid.UUID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[jobID]; exists {
		job.Running = false
		job.Runs++
		job.LastErr = err
	}
}
