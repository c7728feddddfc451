package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobStatus is the outcome of the latest run of a job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Job is a unit of background work run on a fixed interval
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name returns the job name
func (f JobFunc) Name() string { return f.JobName }

// Run calls Fn
func (f JobFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

// Schedule binds a job to its interval and per-run timeout
type Schedule struct {
	Job      Job
	Interval time.Duration
	// Timeout bounds one run; zero means the interval
	Timeout time.Duration
	// RunOnStart runs the job once right after Start
	RunOnStart bool
}

// JobRun records the latest run of a job
type JobRun struct {
	Status      JobStatus     `json:"status"`
	Runs        int64         `json:"runs"`
	Failures    int64         `json:"failures"`
	LastError   string        `json:"last_error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

type scheduledJob struct {
	Schedule
	trigger chan struct{}
	mu      sync.Mutex
	run     JobRun
}

// Scheduler runs jobs on their intervals, one goroutine per job. A job never
// overlaps with itself; a tick that arrives while it runs is dropped.
type Scheduler struct {
	logger *zap.Logger
	jobs   map[string]*scheduledJob
	order  []string

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
}

// New validates schedules and creates a stopped scheduler
func New(logger *zap.Logger, schedules ...Schedule) (*Scheduler, error) {
	s := &Scheduler{
		logger: logger,
		jobs:   make(map[string]*scheduledJob, len(schedules)),
	}
	for _, sc := range schedules {
		if sc.Interval <= 0 {
			return nil, fmt.Errorf("%w: job %s has interval %s", ErrInvalidConfig, sc.Job.Name(), sc.Interval)
		}
		name := sc.Job.Name()
		if _, dup := s.jobs[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, name)
		}
		if sc.Timeout <= 0 {
			sc.Timeout = sc.Interval
		}
		s.jobs[name] = &scheduledJob{
			Schedule: sc,
			trigger:  make(chan struct{}, 1),
			run:      JobRun{Status: JobStatusPending},
		}
		s.order = append(s.order, name)
	}
	return s, nil
}

// Start launches the job loops. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, name := range s.order {
		s.wg.Add(1)
		go s.loop(ctx, s.jobs[name])
	}

	s.logger.Info("Scheduler started", zap.Strings("jobs", s.order))
	return nil
}

// Stop cancels running jobs and waits for their loops to exit
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// Trigger asks the named job to run as soon as it is idle
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	if !running {
		return ErrSchedulerNotRunning
	}

	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	select {
	case j.trigger <- struct{}{}:
	default:
		// a run is already queued
	}
	return nil
}

// Status returns the latest run record of the named job
func (s *Scheduler) Status(name string) (JobRun, error) {
	j, ok := s.jobs[name]
	if !ok {
		return JobRun{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.run, nil
}

func (s *Scheduler) loop(ctx context.Context, j *scheduledJob) {
	defer s.wg.Done()

	if j.RunOnStart {
		s.runJob(ctx, j)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, j)
		case <-j.trigger:
			s.runJob(ctx, j)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *scheduledJob) {
	name := j.Job.Name()
	started := time.Now()
	j.mu.Lock()
	j.run.Status = JobStatusRunning
	j.run.StartedAt = started
	j.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, j.Timeout)
	err := s.safeRun(runCtx, j.Job)
	cancel()

	elapsed := time.Since(started)
	j.mu.Lock()
	j.run.Runs++
	j.run.CompletedAt = started.Add(elapsed)
	j.run.Duration = elapsed
	if err != nil {
		j.run.Status = JobStatusFailed
		j.run.Failures++
		j.run.LastError = err.Error()
	} else {
		j.run.Status = JobStatusSuccess
		j.run.LastError = ""
	}
	j.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			// shutting down
			return
		}
		s.logger.Error("Job failed", zap.String("job", name), zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	s.logger.Debug("Job completed", zap.String("job", name), zap.Duration("duration", elapsed))
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
