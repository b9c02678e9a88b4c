package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/logging"
)

// JobHandler executes one job. The returned value is stored as the job
// result, encoded as JSON.
type JobHandler func(ctx context.Context, job *Job) (any, error)

type Runner struct {
	repo         Repository
	logger       *slog.Logger
	pollInterval time.Duration
	mu           sync.RWMutex
	handlers     map[string]JobHandler
	running      atomic.Bool
	paused       atomic.Bool
	wg           sync.WaitGroup
}

func NewRunner(repo Repository, logger *slog.Logger) *Runner {
	return &Runner{
		repo:         repo,
		logger:       logger,
		pollInterval: 5 * time.Second,
		handlers:     make(map[string]JobHandler),
	}
}

// Handle registers the handler for a job type.
func (r *Runner) Handle(jobType string, h JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.ProcessNext(ctx)
			}
		}
	}
}

// Go runs Start in a goroutine that Wait tracks.
func (r *Runner) Go(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Start(ctx)
	}()
}

// Wait blocks until the loop started by Go has returned, including the job
// in flight when its context was cancelled, or until ctx expires.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ProcessNext runs the oldest pending job, if any, and reports whether one
// was picked up.
func (r *Runner) ProcessNext(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}
	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	logger := logging.WithJobID(r.logger, job.ID).With("type", job.Type)

	r.mu.RLock()
	handler, ok := r.handlers[job.Type]
	r.mu.RUnlock()
	if !ok {
		logger.Warn("unknown job type")
		r.finish(ctx, logger, job.ID, JobStatusFailed, "", "unknown job type")
		return true
	}

	if err := r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, ""); err != nil {
		logger.Error("failed to mark job running", "error", err)
		return true
	}
	logger.Info("processing job")

	started := time.Now()
	result, err := handler(ctx, job)

	var encoded string
	if result != nil {
		if b, mErr := json.Marshal(result); mErr == nil {
			encoded = string(b)
		} else {
			logger.Warn("failed to encode job result", "error", mErr)
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("job cancelled", "error", err)
		} else {
			logger.Error("job failed", "error", err, "duration", time.Since(started))
		}
		r.finish(ctx, logger, job.ID, JobStatusFailed, encoded, truncateStr(err.Error(), 1024))
		return true
	}

	r.finish(ctx, logger, job.ID, JobStatusCompleted, encoded, "")
	logger.Info("job completed", "duration", time.Since(started))
	return true
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, id, status, result, errMsg string) {
	// The job row must be closed even when the run context was cancelled.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := r.repo.FinishJob(ctx, id, status, result, errMsg); err != nil {
		logger.Error("failed to record job outcome", "status", status, "error", err)
	}
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}

// Scheduler periodically enqueues recurring jobs, skipping a type while a job
// of that type is still pending or running.
type Scheduler struct {
	service  *Service
	logger   *slog.Logger
	interval time.Duration
	jobTypes []string
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(service *Service, interval time.Duration, logger *slog.Logger, jobTypes ...string) *Scheduler {
	return &Scheduler{
		service:  service,
		logger:   logger,
		interval: interval,
		jobTypes: jobTypes,
		stop:     make(chan struct{}),
	}
}

// Start launches the scheduling loop. A non-positive interval disables it.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("scheduler disabled")
		return
	}
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "interval", s.interval, "job_types", s.jobTypes)
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}

// Tick enqueues one job per configured type.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, jobType := range s.jobTypes {
		_, err := s.service.EnqueueUnique(ctx, jobType, nil)
		switch {
		case errors.Is(err, ErrJobActive):
			s.logger.Debug("scheduled job skipped, previous run still active", "type", jobType)
		case err != nil:
			s.logger.Error("failed to enqueue scheduled job", "type", jobType, "error", err)
		}
	}
}
