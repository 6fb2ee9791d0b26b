package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

// Executor runs a claimed job through the handler registry. *worker.Worker implements it.
type Executor interface {
	Execute(ctx context.Context, job *types.JobRun)
	MaxAttempts() int
}

type Activities struct {
	Log      *logger.Logger
	Jobs     repos.JobRunRepo
	Executor Executor

	// HeartbeatEvery defaults to 10s.
	HeartbeatEvery time.Duration
}

func (a *Activities) Execute(ctx context.Context, jobID string) (ExecuteResult, error) {
	res := ExecuteResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.Jobs == nil || a.Executor == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("jobrun: invalid job_id %q", jobID)
	}

	dbc := dbctx.Context{Ctx: ctx}
	job, err := a.Jobs.MarkRunning(dbc, id)
	if err != nil {
		return res, err
	}
	if job == nil {
		// Already terminal (canceled or succeeded); report what is there.
		cur, err := a.Jobs.GetByID(dbc, id)
		if err != nil {
			return res, err
		}
		if cur == nil {
			res.Status = types.JobStatusFailed
			res.Permanent = true
			res.Error = "job not found"
			return res, nil
		}
		return a.result(res, cur), nil
	}

	stop := a.startHeartbeat(ctx, id)
	a.Executor.Execute(ctx, job)
	stop()

	updated, err := a.Jobs.GetByID(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, id)
	if err != nil {
		return res, err
	}
	if updated == nil {
		return res, fmt.Errorf("jobrun: job %s vanished", id)
	}
	return a.result(res, updated), nil
}

func (a *Activities) result(res ExecuteResult, job *types.JobRun) ExecuteResult {
	res.Status = job.Status
	res.Stage = job.Stage
	res.Error = job.Error
	res.Permanent = job.Status == types.JobStatusFailed && job.Attempts >= a.Executor.MaxAttempts()
	return res
}

func (a *Activities) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	every := a.HeartbeatEvery
	if every <= 0 {
		every = 10 * time.Second
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
				if err := a.Jobs.Heartbeat(dbctx.Context{Ctx: ctx}, jobID); err != nil && a.Log != nil {
					a.Log.Warn("job heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}
