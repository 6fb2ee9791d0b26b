package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/realtime"
	"github.com/yungbote/videoreview-backend/internal/realtime/bus"
)

type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *types.JobRun)
	JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string)
	JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *types.JobRun)
}

type jobNotifier struct {
	log *logger.Logger
	bus bus.Bus
}

// NewJobNotifier publishes job lifecycle messages on b. A nil bus gives a notifier that drops them.
func NewJobNotifier(log *logger.Logger, b bus.Bus) JobNotifier {
	return &jobNotifier{log: log.With("service", "JobNotifier"), bus: b}
}

func (n *jobNotifier) publish(userID uuid.UUID, event string, data map[string]any) {
	if n.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := n.bus.Publish(ctx, realtime.Message{
		Channel: userID.String(),
		Event:   event,
		Data:    data,
	})
	if err != nil {
		n.log.Warn("job notification publish failed", "event", event, "error", err)
	}
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *types.JobRun) {
	n.publish(userID, realtime.EventJobCreated, map[string]any{"job": job})
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string) {
	n.publish(userID, realtime.EventJobProgress, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"progress": progress,
		"message":  message,
		"job":      job,
	})
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	n.publish(userID, realtime.EventJobFailed, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"error":    errorMessage,
		"job":      job,
	})
}

func (n *jobNotifier) JobDone(userID uuid.UUID, job *types.JobRun) {
	n.publish(userID, realtime.EventJobDone, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"job":      job,
	})
}
