package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/jobs/runtime"
	"github.com/yungbote/videoreview-backend/internal/observability"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/envutil"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/services"
)

type Config struct {
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	StaleRunning time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Concurrency:  envutil.Int("WORKER_CONCURRENCY", 4),
		PollInterval: envutil.Seconds("WORKER_POLL_SECONDS", time.Second),
		MaxAttempts:  envutil.Int("WORKER_MAX_ATTEMPTS", 5),
		RetryDelay:   envutil.Seconds("WORKER_RETRY_DELAY_SECONDS", 30*time.Second),
		StaleRunning: envutil.Seconds("WORKER_STALE_RUNNING_SECONDS", 30*time.Minute),
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 30 * time.Minute
	}
	return c
}

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	cfg      Config
	wg       sync.WaitGroup
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, notify services.JobNotifier, cfg Config) *Worker {
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
		cfg:      cfg.withDefaults(),
	}
}

// Start launches the pool; loops stop when ctx is cancelled. Wait blocks until they have.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency, "job_types", w.registry.Types())
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
}

func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) MaxAttempts() int { return w.cfg.MaxAttempts }

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Drain: keep claiming until the queue is empty before waiting for the next tick.
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.cfg.MaxAttempts, w.cfg.RetryDelay, w.cfg.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.Execute(ctx, job)
	return true, nil
}

// Execute runs an already-claimed job through its handler.
func (w *Worker) Execute(ctx context.Context, job *types.JobRun) {
	jc := runtime.NewContext(ctx, w.db, job, w.repo, w.notify)
	jc.MaxAttempts = w.cfg.MaxAttempts
	log := w.log.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		log.Warn("No handler registered for job_type")
		jc.FailPermanent("dispatch", &missingHandlerError{JobType: job.JobType})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic", "panic", r, "stack", string(debug.Stack()))
			jc.Fail("panic", errFromRecover(r))
		}
	}()

	start := time.Now()
	if runErr := h.Run(jc); runErr != nil {
		// Handlers normally call jc.Fail themselves; this is a safety net.
		if jc.Job.Status != types.JobStatusFailed {
			jc.Fail("run", runErr)
		}
		observability.Current().ObserveJob(job.JobType, types.JobStatusFailed, time.Since(start))
		log.Warn("Job failed", "error", runErr, "elapsed", time.Since(start))
		return
	}
	observability.Current().ObserveJob(job.JobType, jc.Job.Status, time.Since(start))
	log.Debug("Job finished", "status", jc.Job.Status, "elapsed", time.Since(start))
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
