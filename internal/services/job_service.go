package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/ctxutil"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/temporalx/jobrun"
)

type JobService interface {
	Enqueue(dbc dbctx.Context, ownerUserID uuid.UUID, jobType string, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error)
	// Dispatch starts the Temporal workflow for a committed job. It is a no-op on the DB poller.
	Dispatch(dbc dbctx.Context, jobID uuid.UUID) error
	GetForUser(dbc dbctx.Context, userID uuid.UUID, jobID uuid.UUID) (*types.JobRun, error)
	LatestForEntity(dbc dbctx.Context, userID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error)
}

type jobService struct {
	log    *logger.Logger
	repo   repos.JobRunRepo
	notify JobNotifier

	temporal          temporalsdkclient.Client
	temporalTaskQueue string
	maxAttempts       int
}

// NewJobService takes an optional Temporal client; with tc nil, jobs wait for the DB worker pool.
func NewJobService(
	baseLog *logger.Logger,
	repo repos.JobRunRepo,
	notify JobNotifier,
	tc temporalsdkclient.Client,
	taskQueue string,
	maxAttempts int,
) JobService {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &jobService{
		log:               baseLog.With("service", "JobService"),
		repo:              repo,
		notify:            notify,
		temporal:          tc,
		temporalTaskQueue: strings.TrimSpace(taskQueue),
		maxAttempts:       maxAttempts,
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, ownerUserID uuid.UUID, jobType string, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error) {
	if ownerUserID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing owner_user_id", pkgerrors.ErrInvalidArgument)
	}
	if jobType == "" {
		return nil, fmt.Errorf("%w: missing job_type", pkgerrors.ErrInvalidArgument)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if _, ok := payload["trace_id"]; !ok && td.TraceID != "" {
			payload["trace_id"] = td.TraceID
		}
		if _, ok := payload["request_id"]; !ok && td.RequestID != "" {
			payload["request_id"] = td.RequestID
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := time.Now()
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		JobType:     jobType,
		EntityType:  entityType,
		EntityID:    entityID,
		Status:      types.JobStatusQueued,
		Stage:       types.JobStatusQueued,
		Message:     "Queued",
		Payload:     datatypes.JSON(b),
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.repo.Create(dbc, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if s.notify != nil {
		s.notify.JobCreated(ownerUserID, job)
	}

	// Inside a real transaction the row is not visible to Temporal yet; the caller dispatches after commit.
	if isDBTransaction(dbc.Tx) {
		s.log.Debug("Job enqueued inside transaction; awaiting dispatch after commit", "job_id", job.ID, "job_type", job.JobType)
		return job, nil
	}
	if err := s.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, job.ID); err != nil {
		return job, err
	}
	return job, nil
}

type txCommitter interface {
	Commit() error
	Rollback() error
}

// gorm.DB pointers are cloned freely, so compare the conn pool rather than the pointer.
func isDBTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil || db.Statement.ConnPool == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(txCommitter)
	return ok
}

func (s *jobService) Dispatch(dbc dbctx.Context, jobID uuid.UUID) error {
	if s.temporal == nil {
		return nil
	}
	if jobID == uuid.Nil {
		return fmt.Errorf("%w: missing job id", pkgerrors.ErrInvalidArgument)
	}
	ctx := ctxutil.Default(dbc.Ctx)

	err := s.startWorkflow(ctx, jobID)
	if err == nil {
		return nil
	}
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}

	now := time.Now()
	_ = s.repo.UpdateFields(dbctx.Context{Ctx: ctx}, jobID, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"stage":         "dispatch",
		"message":       "",
		"error":         err.Error(),
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	})
	if s.notify != nil {
		if j, rerr := s.repo.GetByID(dbctx.Context{Ctx: ctx}, jobID); rerr == nil && j != nil {
			s.notify.JobFailed(j.OwnerUserID, j, "dispatch", err.Error())
		}
	}
	return fmt.Errorf("start temporal workflow: %w", err)
}

func (s *jobService) startWorkflow(ctx context.Context, jobID uuid.UUID) error {
	tq := s.temporalTaskQueue
	if tq == "" {
		tq = "video-analysis"
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID.String(),
		TaskQueue:             tq,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        30 * time.Second,
			BackoffCoefficient:     1.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        int32(s.maxAttempts),
			NonRetryableErrorTypes: []string{jobrun.ErrTypeJobFailedPermanent},
		},
	}
	_, err := s.temporal.ExecuteWorkflow(ctx, opts, jobrun.WorkflowName)
	return err
}

func (s *jobService) GetForUser(dbc dbctx.Context, userID uuid.UUID, jobID uuid.UUID) (*types.JobRun, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing job id", pkgerrors.ErrInvalidArgument)
	}
	job, err := s.repo.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	// Another user's job is reported as missing.
	if job == nil || job.OwnerUserID != userID {
		return nil, fmt.Errorf("job %s: %w", jobID, pkgerrors.ErrNotFound)
	}
	return job, nil
}

func (s *jobService) LatestForEntity(dbc dbctx.Context, userID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	job, err := s.repo.GetLatestByEntity(dbc, entityType, entityID, jobType)
	if err != nil || job == nil {
		return nil, err
	}
	if job.OwnerUserID != userID {
		return nil, nil
	}
	return job, nil
}
