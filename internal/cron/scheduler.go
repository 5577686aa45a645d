// Package cron provides the precise-wake job scheduler. Instead of
// polling, the scheduler sleeps exactly until the earliest next-due
// instant across all enabled jobs, then dispatches due work under a
// bounded concurrency limit.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mozhuanzuojing/CountBot/internal/agent"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

// ErrJobActive is returned when a manual run is requested for a job that
// is already executing.
var ErrJobActive = errors.New("job is already running")

// ErrNotFound is returned for operations on unknown job ids.
var ErrNotFound = errors.New("job not found")

// Executor runs one job body and returns the produced text.
type Executor interface {
	ExecuteJob(ctx context.Context, job agent.Job) (string, error)
}

// DeliverySink forwards job output to a delivery target.
type DeliverySink interface {
	Deliver(ctx context.Context, channel, chatID, text string) error
}

// Config holds scheduler settings.
type Config struct {
	// MaxConcurrent bounds simultaneously executing jobs.
	MaxConcurrent int

	// JobTimeout is the hard wall-clock limit for one job body.
	JobTimeout time.Duration

	// IdleInterval is the fallback timer when no job is enabled, keeping
	// the scheduler responsive to out-of-band job-set changes.
	IdleInterval time.Duration

	// ShutdownGrace bounds how long Stop waits for active executions.
	ShutdownGrace time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = time.Minute
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
}

// Scheduler owns the job set and its wake computation. Job business
// fields change through the administrative methods; execution state
// (timestamps, counters, next_run) changes only from the run path.
type Scheduler struct {
	config   Config
	store    *Store
	executor Executor
	sink     DeliverySink
	logger   *logger.Logger
	metrics  *Metrics

	sem    *Semaphore
	rearm  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*agent.Job
	active  map[string]bool
	started bool
}

// NewScheduler creates a scheduler. The store may be nil for in-memory
// operation; the sink may be nil when no job declares a delivery target.
func NewScheduler(store *Store, executor Executor, sink DeliverySink, log *logger.Logger, metrics *Metrics, cfg Config) (*Scheduler, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	cfg.applyDefaults()

	// A background context from construction lets RunJobNow work before
	// Start, e.g. from the CLI without the wake loop.
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		ctx:      ctx,
		cancel:   cancel,
		config:   cfg,
		store:    store,
		executor: executor,
		sink:     sink,
		logger:   log,
		metrics:  metrics,
		sem:      NewSemaphore(cfg.MaxConcurrent),
		rearm:    make(chan struct{}, 1),
		jobs:     make(map[string]*agent.Job),
		active:   make(map[string]bool),
	}, nil
}

// Start loads persisted jobs, recomputes their schedules, and begins the
// wake loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.loadJobs(); err != nil {
		return err
	}

	go s.loop()
	s.logger.Info("scheduler started",
		logger.Field{Key: "max_concurrent", Value: s.config.MaxConcurrent},
		logger.Field{Key: "job_timeout", Value: s.config.JobTimeout.String()})
	return nil
}

// Stop shuts the scheduler down: no new wakes are armed, active
// executions get a bounded grace period, then are abandoned.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not started")
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-time.After(s.config.ShutdownGrace):
		s.logger.Warn("scheduler stopped with executions still outstanding",
			logger.Field{Key: "grace", Value: s.config.ShutdownGrace.String()})
	}
	return nil
}

// loadJobs populates the in-memory set from the store and recomputes
// next_run for every enabled job. Stored next_run values are advisory;
// the schedule expression is the source of truth.
func (s *Scheduler) loadJobs() error {
	if s.store == nil {
		return nil
	}
	jobs, err := s.store.LoadJobs(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted jobs: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range jobs {
		job := jobs[i]
		if job.Enabled {
			// A stored next_run already in the past is kept so the
			// backlog fires exactly once at startup.
			if job.NextRun == nil || job.NextRun.After(now) {
				s.recomputeNextRunLocked(&job, now)
			}
		} else {
			job.NextRun = nil
		}
		s.jobs[job.ID] = &job
	}
	s.logger.Info("jobs loaded", logger.Field{Key: "count", Value: len(jobs)})
	return nil
}

// loop is the scheduler state machine: armed on the minimum next_run,
// dispatching on wake, re-armed immediately after dispatch issuance.
func (s *Scheduler) loop() {
	for {
		wait := s.nextWait(time.Now())
		timer := time.NewTimer(wait)

		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-s.rearm:
			timer.Stop()
			continue
		case <-timer.C:
			s.metrics.Wakeups.Inc()
			s.dispatchDue(time.Now())
		}
	}
}

// nextWait computes the sleep until the earliest enabled next_run. With
// no enabled jobs the idle interval applies; a past-due instant clamps
// to zero rather than producing a negative wait.
func (s *Scheduler) nextWait(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest *time.Time
	for _, job := range s.jobs {
		if !job.Enabled || job.NextRun == nil {
			continue
		}
		if earliest == nil || job.NextRun.Before(*earliest) {
			earliest = job.NextRun
		}
	}
	if earliest == nil {
		return s.config.IdleInterval
	}
	wait := earliest.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// dispatchDue starts every due, non-active job. Each job's next_run is
// advanced before its execution begins so rearming never spins on a job
// that is still running.
func (s *Scheduler) dispatchDue(now time.Time) {
	s.mu.Lock()
	var due []agent.Job
	for _, job := range s.jobs {
		if !job.Enabled || job.NextRun == nil || job.NextRun.After(now) {
			continue
		}
		if s.active[job.ID] {
			// Still executing from a previous wake. The occurrence is
			// skipped; advancing next_run keeps the loop from spinning
			// on a job that stays due until its run completes.
			s.recomputeNextRunLocked(job, now)
			continue
		}
		s.active[job.ID] = true
		s.recomputeNextRunLocked(job, now)
		due = append(due, *job)
	}
	s.mu.Unlock()

	for _, job := range due {
		s.wg.Add(1)
		go s.runJob(job)
	}
}

// RunJobNow triggers an immediate execution of one job. It returns
// ErrJobActive if the job is currently executing.
func (s *Scheduler) RunJobNow(jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if s.active[jobID] {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobActive, jobID)
	}
	s.active[jobID] = true
	snapshot := *job
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runJob(snapshot)
	return nil
}

// runJob executes one job body under the concurrency limit and a hard
// wall-clock timeout, then persists the outcome and reschedules.
func (s *Scheduler) runJob(job agent.Job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.active, job.ID)
		s.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job execution panicked", fmt.Errorf("panic: %v", r),
				logger.Field{Key: "job_id", Value: job.ID})
			s.recordResult(job.ID, agent.JobStatusError, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := s.sem.Acquire(s.ctx); err != nil {
		// Shutdown before a slot opened; the occurrence is skipped.
		s.recordResult(job.ID, agent.JobStatusSkipped, "scheduler stopped before execution")
		return
	}
	defer s.sem.Release()

	s.metrics.ActiveJobs.Inc()
	defer s.metrics.ActiveJobs.Dec()

	s.logger.Info("job execution started",
		logger.Field{Key: "job_id", Value: job.ID},
		logger.Field{Key: "name", Value: job.Name})

	ctx, cancel := context.WithTimeout(s.ctx, s.config.JobTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.executor.ExecuteJob(ctx, job)
	duration := time.Since(start)
	s.metrics.RunDuration.Observe(duration.Seconds())

	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.recordResult(job.ID, agent.JobStatusError,
			fmt.Sprintf("timed out after %s", s.config.JobTimeout))
	case err != nil:
		s.recordResult(job.ID, agent.JobStatusError, err.Error())
	default:
		s.deliver(ctx, job, result)
		s.recordResult(job.ID, agent.JobStatusOK, "")
	}

	s.logger.Info("job execution finished",
		logger.Field{Key: "job_id", Value: job.ID},
		logger.Field{Key: "duration_ms", Value: duration.Milliseconds()})
}

func (s *Scheduler) deliver(ctx context.Context, job agent.Job, text string) {
	if s.sink == nil || job.Channel == "" || text == "" {
		return
	}
	if err := s.sink.Deliver(ctx, job.Channel, job.ChatID, text); err != nil {
		s.logger.Error("failed to deliver job output", err,
			logger.Field{Key: "job_id", Value: job.ID},
			logger.Field{Key: "channel", Value: job.Channel})
	}
}

// recordResult applies the outcome of one execution to the job record,
// persists it, and reschedules. A failed run never disables the job; an
// unparseable schedule does.
func (s *Scheduler) recordResult(jobID string, status agent.JobStatus, errText string) {
	now := time.Now()

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		// Removed while executing.
		s.mu.Unlock()
		return
	}
	job.LastRun = &now
	job.LastStatus = status
	job.LastError = errText
	job.RunCount++
	if status == agent.JobStatusError {
		job.ErrorCount++
	}
	job.UpdatedAt = now
	s.recomputeNextRunLocked(job, now)
	snapshot := *job
	s.mu.Unlock()

	s.metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	s.persist(snapshot)
	s.triggerReschedule()
}

// recomputeNextRunLocked updates job.NextRun from its schedule. A
// schedule that no longer parses disables the job instead of leaving it
// perpetually due. Caller holds s.mu.
func (s *Scheduler) recomputeNextRunLocked(job *agent.Job, from time.Time) {
	if !job.Enabled {
		job.NextRun = nil
		return
	}
	next, err := NextRun(job.Schedule, from)
	if err != nil {
		s.logger.Error("disabling job with invalid schedule", err,
			logger.Field{Key: "job_id", Value: job.ID},
			logger.Field{Key: "schedule", Value: job.Schedule})
		job.Enabled = false
		job.NextRun = nil
		return
	}
	job.NextRun = &next
}

func (s *Scheduler) persist(job agent.Job) {
	if s.store == nil {
		return
	}
	// Outcomes are written even while shutting down, so persistence does
	// not ride the run context.
	if err := s.store.SaveJob(context.Background(), job); err != nil {
		s.logger.Error("failed to persist job", err,
			logger.Field{Key: "job_id", Value: job.ID})
	}
}

// triggerReschedule wakes the loop so it re-reads the job set. Safe to
// call from any goroutine; coalesces concurrent triggers.
func (s *Scheduler) triggerReschedule() {
	select {
	case s.rearm <- struct{}{}:
	default:
	}
}

// AddJob validates, registers, and persists a new job. Missing ids are
// generated; the job starts enabled unless stated otherwise.
func (s *Scheduler) AddJob(job agent.Job) (agent.Job, error) {
	if err := ValidateSchedule(job.Schedule); err != nil {
		return agent.Job{}, err
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	s.mu.Lock()
	if _, exists := s.jobs[job.ID]; exists {
		s.mu.Unlock()
		return agent.Job{}, fmt.Errorf("job already exists: %s", job.ID)
	}
	s.recomputeNextRunLocked(&job, now)
	stored := job
	s.jobs[job.ID] = &stored
	s.mu.Unlock()

	s.persist(job)
	s.triggerReschedule()

	s.logger.Info("job added",
		logger.Field{Key: "job_id", Value: job.ID},
		logger.Field{Key: "name", Value: job.Name},
		logger.Field{Key: "schedule", Value: job.Schedule})
	return job, nil
}

// RemoveJob deletes a job. An execution already in flight finishes but
// its outcome is discarded.
func (s *Scheduler) RemoveJob(jobID string) error {
	s.mu.Lock()
	if _, ok := s.jobs[jobID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	delete(s.jobs, jobID)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteJob(context.Background(), jobID); err != nil {
			s.logger.Error("failed to delete job from store", err,
				logger.Field{Key: "job_id", Value: jobID})
		}
	}
	s.triggerReschedule()

	s.logger.Info("job removed", logger.Field{Key: "job_id", Value: jobID})
	return nil
}

// SetEnabled enables or disables a job and reschedules.
func (s *Scheduler) SetEnabled(jobID string, enabled bool) (agent.Job, error) {
	now := time.Now()

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return agent.Job{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	job.Enabled = enabled
	job.UpdatedAt = now
	s.recomputeNextRunLocked(job, now)
	snapshot := *job
	s.mu.Unlock()

	s.persist(snapshot)
	s.triggerReschedule()
	return snapshot, nil
}

// UpdateSchedule changes a job's schedule expression.
func (s *Scheduler) UpdateSchedule(jobID, schedule string) (agent.Job, error) {
	if err := ValidateSchedule(schedule); err != nil {
		return agent.Job{}, err
	}
	now := time.Now()

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return agent.Job{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	job.Schedule = schedule
	job.UpdatedAt = now
	s.recomputeNextRunLocked(job, now)
	snapshot := *job
	s.mu.Unlock()

	s.persist(snapshot)
	s.triggerReschedule()
	return snapshot, nil
}

// ListJobs returns a snapshot of all jobs.
func (s *Scheduler) ListJobs() []agent.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]agent.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// GetJob returns one job by id.
func (s *Scheduler) GetJob(jobID string) (agent.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return agent.Job{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return *job, nil
}

// ActiveCount returns how many jobs are currently executing.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
