package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/temporalx"
	"github.com/yungbote/videoreview-backend/internal/temporalx/jobrun"
)

const startMaxWait = 60 * time.Second

// Runner hosts the video_analyze_run workflow and its activity on the configured task queue.
type Runner struct {
	log         *logger.Logger
	tc          temporalsdkclient.Client
	cfg         temporalx.Config
	concurrency int
	acts        *jobrun.Activities
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config, jobs repos.JobRunRepo, exec jobrun.Executor, concurrency int) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if jobs == nil || exec == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	log = log.With("component", "TemporalWorker")
	return &Runner{
		log:         log,
		tc:          tc,
		cfg:         cfg,
		concurrency: concurrency,
		acts:        &jobrun.Activities{Log: log, Jobs: jobs, Executor: exec},
	}, nil
}

// Start begins polling and returns once the worker is up. The worker stops when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)

	deadline := time.Now().Add(startMaxWait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) {
			if !r.cfg.AutoRegisterNamespace {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, startErr)
			}
			if err := temporalx.EnsureNamespace(ctx, r.log, r.cfg); err != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", r.cfg.Namespace, "error", err)
			}
		}
		if time.Now().After(deadline) {
			return startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		time.Sleep(time.Duration(attempt) * 250 * time.Millisecond)
	}
}

func (r *Runner) newWorker() worker.Worker {
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     r.concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: r.concurrency,
	})
	w.RegisterWorkflowWithOptions(jobrun.Workflow, workflow.RegisterOptions{Name: jobrun.WorkflowName})
	w.RegisterActivityWithOptions(r.acts.Execute, activity.RegisterOptions{Name: jobrun.ActivityExecute})
	return w
}
