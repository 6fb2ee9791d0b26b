package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	types "github.com/yungbote/videoreview-backend/internal/domain"
)

// Workflow runs one job_run row; the workflow id is the job id. Job-level retries come from the
// workflow retry policy set at dispatch, so the activity itself runs once.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return temporal.NewNonRetryableApplicationError("jobrun: missing job_id", ErrTypeJobFailedPermanent, nil)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 6 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var out ExecuteResult
	if err := workflow.ExecuteActivity(ctx, ActivityExecute, jobID).Get(ctx, &out); err != nil {
		return err
	}

	switch out.Status {
	case types.JobStatusSucceeded, types.JobStatusCanceled:
		return nil
	case types.JobStatusFailed:
		msg := fmt.Sprintf("job failed (stage=%s): %s", out.Stage, out.Error)
		if out.Permanent {
			return temporal.NewNonRetryableApplicationError(msg, ErrTypeJobFailedPermanent, nil)
		}
		return temporal.NewApplicationError(msg, "JobFailed")
	default:
		return temporal.NewApplicationError(fmt.Sprintf("job left in status %q", out.Status), "JobNotTerminal")
	}
}
