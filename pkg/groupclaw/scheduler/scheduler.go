// Package scheduler fires the configured batch tasks on cron schedules.
// Uses robfig/cron for expression parsing and execution, with job state
// persisted in SQLite so last-run information survives restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrBusy is returned when a job is triggered while another one runs.
var ErrBusy = errors.New("another job is running")

// Scheduler runs jobs one at a time. A job that fires while any job is
// still executing is skipped, so at most one browser is open.
type Scheduler struct {
	// jobs stores registered jobs indexed by ID.
	jobs map[string]*Job

	cron *cron.Cron

	// cronIDs maps job IDs to their cron entry IDs.
	cronIDs map[string]cron.EntryID

	// running is the ID of the executing job, empty when idle.
	running string

	storage    JobStorage
	handler    JobHandler
	jobTimeout time.Duration
	location   *time.Location
	parser     cron.Parser

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Job is a task bound to a schedule.
type Job struct {
	// ID is the unique job identifier.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Schedule is a standard 5-field cron expression or a descriptor
	// such as @daily or @every 1h.
	Schedule string `json:"schedule" yaml:"schedule" validate:"required"`

	// Task is the batch task the job runs.
	Task string `json:"task" yaml:"task" validate:"required,oneof=sync morning evening summarize"`

	Enabled bool `json:"enabled" yaml:"enabled"`

	// TimeoutSeconds overrides the scheduler-wide timeout for this job.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`

	LastRunAt       *time.Time    `json:"last_run_at,omitempty" yaml:"-"`
	LastError       string        `json:"last_error,omitempty" yaml:"-"`
	LastRunDuration time.Duration `json:"last_run_duration,omitempty" yaml:"-"`
	RunCount        int           `json:"run_count" yaml:"-"`
}

// JobHandler runs a job's task.
type JobHandler func(ctx context.Context, job *Job) error

// JobStorage persists job state.
type JobStorage interface {
	Save(job *Job) error
	Delete(id string) error
	LoadAll() ([]*Job, error)
}

// Options configures a Scheduler.
type Options struct {
	// JobTimeout bounds one execution. Defaults to 30 minutes.
	JobTimeout time.Duration

	// Location is the time zone schedules are evaluated in. Defaults to local.
	Location *time.Location
}

// New creates a Scheduler. storage may be nil.
func New(storage JobStorage, handler JobHandler, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:       make(map[string]*Job),
		cronIDs:    make(map[string]cron.EntryID),
		storage:    storage,
		handler:    handler,
		jobTimeout: opts.JobTimeout,
		location:   opts.Location,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
		logger: logger.With("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job. The schedule is validated immediately.
func (s *Scheduler) Add(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Schedule == "" {
		return fmt.Errorf("job %q: schedule is required", job.ID)
	}
	if _, err := s.parser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", job.ID, job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	if s.cron != nil && job.Enabled {
		if err := s.scheduleCronJob(job); err != nil {
			return err
		}
	}
	s.jobs[job.ID] = job

	s.logger.Info("job added", "id", job.ID, "schedule", job.Schedule, "task", job.Task, "enabled", job.Enabled)
	return nil
}

// List returns copies of all jobs sorted by ID.
func (s *Scheduler) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, *j)
	}
	sort.Slice(result, func(a, b int) bool { return result[a].ID < result[b].ID })
	return result
}

// Get returns a copy of a job by ID.
func (s *Scheduler) Get(jobID string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Next reports when an enabled job fires next. It is only known after Start.
func (s *Scheduler) Next(jobID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entryID, ok := s.cronIDs[jobID]
	if !ok || s.cron == nil {
		return time.Time{}, false
	}
	return s.cron.Entry(entryID).Next, true
}

// LoadState copies persisted last-run state onto the registered jobs and
// deletes the state of jobs that are no longer registered.
func (s *Scheduler) LoadState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreLocked()
}

func (s *Scheduler) restoreLocked() {
	if s.storage == nil {
		return
	}
	stored, err := s.storage.LoadAll()
	if err != nil {
		s.logger.Error("failed to load job state", "error", err)
		return
	}
	for _, st := range stored {
		job, ok := s.jobs[st.ID]
		if !ok {
			// The job was dropped from the config.
			if err := s.storage.Delete(st.ID); err != nil {
				s.logger.Error("failed to delete stale job state", "id", st.ID, "error", err)
			}
			continue
		}
		job.LastRunAt = st.LastRunAt
		job.LastError = st.LastError
		job.LastRunDuration = st.LastRunDuration
		job.RunCount = st.RunCount
	}
}

// Start loads persisted state, schedules enabled jobs and starts firing.
// The scheduler stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.location))
	s.restoreLocked()

	for _, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		if err := s.scheduleCronJob(job); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	jobCount := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started",
		"jobs", jobCount,
		"cron_entries", len(s.cron.Entries()),
		"location", s.location.String(),
	)
	return nil
}

// Stop halts scheduling and waits for a running job to finish, up to
// the job timeout.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	c := s.cron
	s.mu.RUnlock()

	if c != nil {
		done := c.Stop()
		select {
		case <-done.Done():
		case <-time.After(s.jobTimeout):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	s.cancel()
	s.logger.Info("scheduler stopped")
}

// RunNow executes a job immediately, outside its schedule. It returns
// ErrBusy when another job is running.
func (s *Scheduler) RunNow(jobID string) error {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", jobID)
	}
	return s.executeJob(job)
}

// scheduleCronJob registers a job with cron. Callers hold s.mu.
func (s *Scheduler) scheduleCronJob(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		if err := s.executeJob(job); err != nil && !errors.Is(err, ErrBusy) {
			s.logger.Debug("scheduled job returned error", "id", job.ID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", job.ID, job.Schedule, err)
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

// minJobInterval is the minimum time between consecutive executions of
// the same job. Guards against cron firing twice within one second.
const minJobInterval = 2 * time.Second

// executeJob runs a job through the handler. Only one job runs at a time
// across the scheduler; a panic in the handler is recovered and recorded
// as the job's error.
func (s *Scheduler) executeJob(job *Job) (err error) {
	s.mu.Lock()
	if s.running != "" {
		running := s.running
		s.mu.Unlock()
		s.logger.Warn("skipping job, another job is running", "id", job.ID, "running", running)
		return ErrBusy
	}
	if job.LastRunAt != nil && time.Since(*job.LastRunAt) < minJobInterval {
		s.mu.Unlock()
		s.logger.Debug("skipping job, ran too recently", "id", job.ID)
		return nil
	}
	s.running = job.ID
	now := time.Now()
	job.LastRunAt = &now
	job.RunCount++
	timeout := s.jobTimeout
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	s.mu.Unlock()

	// Persist the start so a crash mid-run does not refire on restart.
	s.persist(job)

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("scheduled job panicked", "id", job.ID, "panic", r)
		}

		s.mu.Lock()
		job.LastRunDuration = time.Since(start)
		if err != nil {
			job.LastError = err.Error()
		} else {
			job.LastError = ""
		}
		s.running = ""
		s.mu.Unlock()

		s.persist(job)
	}()

	s.logger.Info("executing scheduled job", "id", job.ID, "task", job.Task, "timeout", timeout)
	if s.handler == nil {
		return fmt.Errorf("no handler configured")
	}

	err = s.handler(ctx, job)
	if err != nil {
		s.logger.Error("scheduled job failed", "id", job.ID, "error", err, "duration", time.Since(start))
	} else {
		s.logger.Info("scheduled job completed", "id", job.ID, "duration", time.Since(start))
	}
	return err
}

func (s *Scheduler) persist(job *Job) {
	if s.storage == nil {
		return
	}
	s.mu.RLock()
	snapshot := *job
	s.mu.RUnlock()
	if err := s.storage.Save(&snapshot); err != nil {
		s.logger.Error("failed to persist job", "id", job.ID, "error", err)
	}
}
