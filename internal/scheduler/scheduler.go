package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fuzumoe/smartspider-api/internal/errs"
)

// Trigger kinds supported by the scheduler.
const (
	TriggerInterval = "interval"
	TriggerOnce     = "once"
)

// defaultCheckInterval is how often the background loop scans for due jobs.
const defaultCheckInterval = time.Second

// Runner executes the task a due job refers to. Satisfied by the task
// service so scheduled jobs go through the same start path as the API.
type Runner interface {
	RunScheduled(ctx context.Context, taskID string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, taskID string) error

// RunScheduled calls f.
func (f RunnerFunc) RunScheduled(ctx context.Context, taskID string) error {
	return f(ctx, taskID)
}

// Job is one scheduled execution of a task. Interval jobs re-arm after
// every run; one-time jobs remove themselves once they have fired.
type Job struct {
	ID       string        `json:"id"`
	TaskID   string        `json:"task_id"`
	Kind     string        `json:"kind"`
	Interval time.Duration `json:"interval,omitempty"`
	RunAt    time.Time     `json:"run_at,omitempty"`
	NextRun  time.Time     `json:"next_run"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	Enabled  bool          `json:"enabled"`
	Runs     int           `json:"runs"`
}

// Scheduler fires Jobs against a Runner from a single background loop.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*Job

	runner        Runner
	checkInterval time.Duration
	log           zerolog.Logger
	now           func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval overrides how often due jobs are scanned for.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.checkInterval = d
		}
	}
}

// WithLogger overrides the scheduler's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New creates a stopped Scheduler that will dispatch due jobs to runner.
func New(runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:          make(map[string]*Job),
		runner:        runner,
		checkInterval: defaultCheckInterval,
		log:           log.With().Str("component", "scheduler").Logger(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleInterval registers a job that runs taskID every interval,
// starting one interval from now. It returns the job ID.
func (s *Scheduler) ScheduleInterval(taskID string, interval time.Duration) (string, error) {
	if interval <= 0 {
		return "", errs.Validation("interval must be positive")
	}
	job := &Job{
		ID:       uuid.NewString(),
		TaskID:   taskID,
		Kind:     TriggerInterval,
		Interval: interval,
		NextRun:  s.now().Add(interval),
		Enabled:  true,
	}
	s.add(job)
	return job.ID, nil
}

// ScheduleOnce registers a job that runs taskID a single time at runAt.
// A runAt in the past fires on the next scan.
func (s *Scheduler) ScheduleOnce(taskID string, runAt time.Time) (string, error) {
	if runAt.IsZero() {
		return "", errs.Validation("run_at must be set")
	}
	job := &Job{
		ID:      uuid.NewString(),
		TaskID:  taskID,
		Kind:    TriggerOnce,
		RunAt:   runAt,
		NextRun: runAt,
		Enabled: true,
	}
	s.add(job)
	return job.ID, nil
}

func (s *Scheduler) add(job *Job) {
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	s.log.Info().
		Str("job_id", job.ID).
		Str("task_id", job.TaskID).
		Str("kind", job.Kind).
		Time("next_run", job.NextRun).
		Msg("job scheduled")
}

// Remove deletes the job. It reports whether the ID was known.
func (s *Scheduler) Remove(jobID string) bool {
	s.mu.Lock()
	_, ok := s.jobs[jobID]
	delete(s.jobs, jobID)
	s.mu.Unlock()
	if ok {
		s.log.Info().Str("job_id", jobID).Msg("job removed")
	}
	return ok
}

// SetEnabled pauses or resumes the job without losing its schedule.
func (s *Scheduler) SetEnabled(jobID string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	job.Enabled = enabled
	return true
}

// Get returns a copy of the job, or ok=false for an unknown ID.
func (s *Scheduler) Get(jobID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns a snapshot of every registered job.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// Start launches the background scan loop. It is a no-op if the
// scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.log.Info().Dur("check_interval", s.checkInterval).Msg("scheduler started")
	go s.loop(loopCtx)
}

// Stop halts the scan loop and waits for it to exit. Runs already
// dispatched are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue fires every enabled job whose NextRun has passed. Interval
// jobs are re-armed before the run so a slow runner cannot pile up
// overlapping dispatches of the same job within one interval.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if !job.Enabled || now.Before(job.NextRun) {
			continue
		}
		t := now
		job.LastRun = &t
		job.Runs++
		switch job.Kind {
		case TriggerOnce:
			delete(s.jobs, job.ID)
		case TriggerInterval:
			job.NextRun = now.Add(job.Interval)
		}
		due = append(due, job)
	}
	s.mu.Unlock()

	for _, job := range due {
		go func(job *Job) {
			s.log.Info().Str("job_id", job.ID).Str("task_id", job.TaskID).Msg("dispatching job")
			if err := s.runner.RunScheduled(ctx, job.TaskID); err != nil {
				s.log.Error().Err(err).Str("job_id", job.ID).Str("task_id", job.TaskID).Msg("scheduled run failed")
			}
		}(job)
	}
}
