// Package schedule computes next-run times for cron/interval/daily/weekly
// schedules and drives due jobs into the execution engine.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tenantflow/engine/storage"
	"github.com/tenantflow/engine/types"
)

// DefaultCheckInterval is how often the sweep loop looks for due jobs.
const DefaultCheckInterval = 60 * time.Second

// ErrNoExecutor indicates the scheduler was built without an executor.
var ErrNoExecutor = errors.New("scheduler has no executor")

// Executor runs one due job. The payload is the schedule-trigger payload
// handed to the engine.
type Executor func(ctx context.Context, job types.ScheduledJob, payload map[string]interface{}) error

// Scheduler keeps the scheduled-job table and sweeps it periodically. The
// table is shared mutable state: API calls add/remove/update jobs while
// the sweep loop reads them, so every access goes through the mutex.
type Scheduler struct {
	jobs     map[string]types.ScheduledJob
	executor Executor
	store    storage.Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval overrides the sweep interval.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithStore persists job state across restarts.
func WithStore(store storage.Store) SchedulerOption {
	return func(s *Scheduler) { s.store = store }
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a scheduler that hands due jobs to executor.
func NewScheduler(executor Executor, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		jobs:     make(map[string]types.ScheduledJob),
		executor: executor,
		interval: DefaultCheckInterval,
		logger:   slog.Default(),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob computes the job's first next_run and adds it to the table.
func (s *Scheduler) AddJob(ctx context.Context, job types.ScheduledJob) error {
	next, err := NextRun(job.Schedule, s.now())
	if err != nil {
		return fmt.Errorf("invalid schedule for workflow %s: %w", job.WorkflowID, err)
	}
	job.NextRun = next
	job.UpdatedAt = s.now()

	s.mu.Lock()
	s.jobs[job.WorkflowID] = job
	s.mu.Unlock()

	return s.persist(ctx, job)
}

// RemoveJob deletes a job from the table.
func (s *Scheduler) RemoveJob(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	delete(s.jobs, workflowID)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteJob(ctx, workflowID); err != nil && !errors.Is(err, storage.ErrJobNotFound) {
			return err
		}
	}
	return nil
}

// UpdateJob replaces a job's schedule config and recomputes next_run.
func (s *Scheduler) UpdateJob(ctx context.Context, job types.ScheduledJob) error {
	s.mu.RLock()
	existing, ok := s.jobs[job.WorkflowID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: workflow=%s", storage.ErrJobNotFound, job.WorkflowID)
	}
	job.RunCount = existing.RunCount
	job.ErrorCount = existing.ErrorCount
	job.LastRun = existing.LastRun
	job.CreatedAt = existing.CreatedAt
	return s.AddJob(ctx, job)
}

// EnableJob re-enables a job and recomputes its next_run from now.
func (s *Scheduler) EnableJob(ctx context.Context, workflowID string) error {
	return s.setEnabled(ctx, workflowID, true)
}

// DisableJob disables a job. Disabled jobs are never selected as due,
// regardless of next_run.
func (s *Scheduler) DisableJob(ctx context.Context, workflowID string) error {
	return s.setEnabled(ctx, workflowID, false)
}

func (s *Scheduler) setEnabled(ctx context.Context, workflowID string, enabled bool) error {
	s.mu.Lock()
	job, ok := s.jobs[workflowID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: workflow=%s", storage.ErrJobNotFound, workflowID)
	}
	job.Enabled = enabled
	job.UpdatedAt = s.now()
	if enabled {
		if next, err := NextRun(job.Schedule, s.now()); err == nil {
			job.NextRun = next
		}
	}
	s.jobs[workflowID] = job
	s.mu.Unlock()

	return s.persist(ctx, job)
}

// GetJob returns a copy of the job for workflowID.
func (s *Scheduler) GetJob(workflowID string) (types.ScheduledJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[workflowID]
	return job, ok
}

// Jobs returns a copy of the job table.
func (s *Scheduler) Jobs() []types.ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out
}

// IsDue reports whether the job should run at now. A disabled job, or a
// scheduler with no executor, never selects anything as due.
func (s *Scheduler) IsDue(job types.ScheduledJob, now time.Time) bool {
	if !job.Enabled || s.executor == nil {
		return false
	}
	return !job.NextRun.IsZero() && !job.NextRun.After(now)
}

// DueJobs lists jobs due at now.
func (s *Scheduler) DueJobs(now time.Time) []types.ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []types.ScheduledJob
	for _, job := range s.jobs {
		if s.IsDue(job, now) {
			due = append(due, job)
		}
	}
	return due
}

// MarkExecuted records an execution attempt (success or failure) and
// recomputes next_run.
func (s *Scheduler) MarkExecuted(ctx context.Context, workflowID string, success bool, execErr error) error {
	s.mu.Lock()
	job, ok := s.jobs[workflowID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: workflow=%s", storage.ErrJobNotFound, workflowID)
	}
	now := s.now()
	job.LastRun = &now
	job.RunCount++
	if !success {
		job.ErrorCount++
		s.logger.Warn("scheduled run failed", "workflow_id", workflowID, "error", execErr)
	}
	if next, err := NextRun(job.Schedule, now); err == nil {
		job.NextRun = next
	}
	job.UpdatedAt = now
	s.jobs[workflowID] = job
	s.mu.Unlock()

	return s.persist(ctx, job)
}

// Start restores persisted jobs and runs the sweep loop until Stop or
// context cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.executor == nil {
		return ErrNoExecutor
	}
	if s.store != nil {
		jobs, err := s.store.ListJobs(ctx)
		if err != nil {
			return fmt.Errorf("failed to restore jobs: %w", err)
		}
		s.mu.Lock()
		for _, job := range jobs {
			s.jobs[job.WorkflowID] = job
		}
		s.mu.Unlock()
	}

	s.wg.Add(1)
	go s.sweepLoop(ctx)
	return nil
}

// Stop stops the sweep loop and waits for it to finish. In-flight job
// executions are not interrupted.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep dispatches every due job on its own goroutine so one slow run
// cannot hold back the rest of the table. Each job is claimed before its
// goroutine spawns: next_run advances at dispatch time, so a run that
// outlasts the check interval is not re-dispatched on the following ticks.
func (s *Scheduler) sweep(ctx context.Context) {
	now := s.now()
	for _, job := range s.DueJobs(now) {
		due, ok := s.claim(job.WorkflowID, now)
		if !ok {
			continue
		}
		payload := map[string]interface{}{
			"workflow_id":   due.WorkflowID,
			"schedule_type": due.Schedule.Type,
			"scheduled_at":  due.NextRun.UTC().Format(time.RFC3339),
			"timestamp":     now.UTC().Format(time.RFC3339),
		}
		go func() {
			err := s.executor(ctx, due, payload)
			if merr := s.MarkExecuted(ctx, due.WorkflowID, err == nil, err); merr != nil && !errors.Is(merr, storage.ErrJobNotFound) {
				s.logger.Error("failed to mark job executed", "workflow_id", due.WorkflowID, "error", merr)
			}
		}()
	}
}

// claim re-checks due-ness under the lock and advances next_run so the job
// cannot be selected again while this dispatch is still in flight. Returns
// the job as it stood at claim time.
func (s *Scheduler) claim(workflowID string, now time.Time) (types.ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[workflowID]
	if !ok || !s.IsDue(job, now) {
		return types.ScheduledJob{}, false
	}
	claimed := job
	if next, err := NextRun(job.Schedule, now); err == nil {
		job.NextRun = next
	} else {
		// An unschedulable spec cannot recur; zero next_run keeps it out
		// of future sweeps until it is updated.
		job.NextRun = time.Time{}
	}
	job.UpdatedAt = now
	s.jobs[workflowID] = job
	return claimed, true
}

func (s *Scheduler) persist(ctx context.Context, job types.ScheduledJob) error {
	if s.store == nil {
		return nil
	}
	return s.store.SaveJob(ctx, job)
}

// NextRun computes the next run time on or after now for a schedule.
func NextRun(spec types.ScheduleSpec, now time.Time) (time.Time, error) {
	switch spec.Type {
	case types.ScheduleCron:
		sched, err := cron.ParseStandard(spec.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", spec.Cron, err)
		}
		return sched.Next(now), nil
	case types.ScheduleInterval:
		if spec.IntervalSeconds <= 0 {
			return time.Time{}, fmt.Errorf("interval must be positive, got %d", spec.IntervalSeconds)
		}
		return now.Add(time.Duration(spec.IntervalSeconds) * time.Second), nil
	case types.ScheduleDaily:
		hour, minute, err := parseTimeOfDay(spec.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, nil
	case types.ScheduleWeekly:
		hour, minute, err := parseTimeOfDay(spec.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		if spec.Weekday < 0 || spec.Weekday > 6 {
			return time.Time{}, fmt.Errorf("weekday must be 0-6, got %d", spec.Weekday)
		}
		days := (spec.Weekday - int(now.Weekday()) + 7) % 7
		candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()).AddDate(0, 0, days)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate, nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", spec.Type)
	}
}

func parseTimeOfDay(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q (want HH:MM): %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
