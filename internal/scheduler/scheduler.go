// Package scheduler runs periodic background tasks for bifrost on cron
// schedules: the Wi-Fi watch that switches networks while the daemon stays
// idle, and scheduled network rescans. Stopping the scheduler cancels the
// context handed to running tasks and waits for them to return.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/orchestrator"
)

// ErrJobNotFound is returned for an unknown job ID.
var ErrJobNotFound = stderrors.New("job not found")

// Task is the work run on each tick.
type Task func(ctx context.Context) error

// Scheduler manages periodic tasks.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	jobs    map[uuid.UUID]*ScheduledJob
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// ScheduledJob describes a registered task.
type ScheduledJob struct {
	ID        uuid.UUID
	Name      string
	Spec      string
	CronID    cron.EntryID
	CreatedAt time.Time
	LastRun   time.Time
	NextRun   time.Time
	Runs      int
	LastError string

	task Task
}

// NewScheduler creates a new scheduler. Panicking tasks are recovered and
// a tick is skipped while the previous run of the same task is still going.
func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("scheduler")
	ctx, cancel := context.WithCancel(context.Background())

	cl := cronLogger{logger}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
		jobs:   make(map[uuid.UUID]*ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler was stopped")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.cancel()
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.cron.Stop()
	s.mu.Unlock()

	<-done.Done()
	s.logger.Info("Scheduler stopped")
}

// Add registers task under a cron spec (five fields or a descriptor such as
// "@every 1m").
func (s *Scheduler) Add(name, spec string, task Task) (uuid.UUID, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	job := &ScheduledJob{
		ID:        uuid.New(),
		Name:      name,
		Spec:      spec,
		CreatedAt: time.Now(),
		NextRun:   schedule.Next(time.Now()),
		task:      task,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cronID := s.cron.Schedule(schedule, cron.FuncJob(func() { s.execute(job.ID) }))
	job.CronID = cronID
	s.jobs[job.ID] = job

	s.logger.Info("Added scheduled job", "job", name, "schedule", spec)
	return job.ID, nil
}

// AddEvery registers task to run every interval.
func (s *Scheduler) AddEvery(name string, interval time.Duration, task Task) (uuid.UUID, error) {
	return s.Add(name, "@every "+interval.String(), task)
}

// Remove removes a scheduled job.
func (s *Scheduler) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, id)

	s.logger.Info("Removed scheduled job", "job", job.Name)
	return nil
}

// Jobs returns a copy of every registered job, oldest first.
func (s *Scheduler) Jobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		j := *job
		if entry := s.cron.Entry(job.CronID); !entry.Next.IsZero() {
			j.NextRun = entry.Next
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	return jobs
}

// execute runs one tick of a job and records the result.
func (s *Scheduler) execute(id uuid.UUID) {
	s.mu.RLock()
	job, exists := s.jobs[id]
	s.mu.RUnlock()
	if !exists || s.ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := job.task(s.ctx)

	s.mu.Lock()
	job.LastRun = start
	job.Runs++
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Scheduled job failed", "job", job.Name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("Scheduled job finished", "job", job.Name, "duration", time.Since(start))
}

// IdleWatch returns a task that invokes recovery only while the label reads
// IDLE. Ticks during active work do nothing.
func IdleWatch(label *orchestrator.Label, recovery orchestrator.IdleRecovery) Task {
	return func(ctx context.Context) error {
		current := label.Snapshot().Action
		if current != orchestrator.LabelIdle {
			return nil
		}
		return recovery.OnIdle(ctx, current)
	}
}

// Rescan returns a task that asks the orchestrator for a network rescan
// before its next cycle.
func Rescan(core *orchestrator.Core) Task {
	return func(context.Context) error {
		if !core.RequestRescan() {
			return fmt.Errorf("no network discoverer configured")
		}
		return nil
	}
}

// cronLogger adapts the bifrost logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
