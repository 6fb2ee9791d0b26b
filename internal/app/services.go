package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/videoreview-backend/internal/analysis"
	"github.com/yungbote/videoreview-backend/internal/jobs/pipeline/video_analyze"
	"github.com/yungbote/videoreview-backend/internal/jobs/runtime"
	"github.com/yungbote/videoreview-backend/internal/jobs/worker"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/services"
	"github.com/yungbote/videoreview-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Notifier services.JobNotifier
	Jobs     services.JobService
	Analysis services.AnalysisService
	Video    services.VideoService
	Events   services.EventService

	// Set only when this process runs jobs.
	Orchestrator   *analysis.Orchestrator
	Registry       *runtime.Registry
	JobWorker      *worker.Worker
	TemporalRunner *temporalworker.Runner
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, clients Clients, r Repos) (Services, error) {
	log.Info("Wiring services...")
	var s Services

	s.Notifier = services.NewJobNotifier(log, clients.Bus)
	s.Jobs = services.NewJobService(log, r.JobRun, s.Notifier, clients.Temporal, cfg.Temporal.TaskQueue, cfg.Worker.MaxAttempts)
	s.Analysis = services.NewAnalysisService(log, r.Video, r.Event, r.JobRun, s.Jobs)
	s.Video = services.NewVideoService(log, cfg.Upload, clients.Blob, r.Video, r.Frame, r.DetectedObject, r.Event, s.Analysis)
	s.Events = services.NewEventService(log, r.Video, r.Event)

	if !cfg.RunsJobs() {
		return s, nil
	}

	detector, err := analysis.NewDetector(log, cfg.Analysis, clients.Blob, clients.Model)
	if err != nil {
		return s, fmt.Errorf("init detector: %w", err)
	}
	s.Orchestrator, err = analysis.New(analysis.Deps{
		Log:      log,
		Videos:   r.Video,
		Frames:   r.Frame,
		Objects:  r.DetectedObject,
		Events:   r.Event,
		Blob:     clients.Blob,
		Media:    clients.Media,
		Detector: detector,
		Config:   cfg.Analysis,
	})
	if err != nil {
		return s, fmt.Errorf("init orchestrator: %w", err)
	}

	s.Registry = runtime.NewRegistry()
	if err := s.Registry.Register(video_analyze.New(log, s.Orchestrator)); err != nil {
		return s, fmt.Errorf("register %s: %w", video_analyze.JobType, err)
	}
	s.JobWorker = worker.NewWorker(db, log, r.JobRun, s.Registry, s.Notifier, cfg.Worker)

	// With Temporal configured, workflows drive execution and the DB poller stays off.
	if clients.Temporal != nil {
		s.TemporalRunner, err = temporalworker.NewRunner(log, clients.Temporal, cfg.Temporal, r.JobRun, s.JobWorker, cfg.Worker.Concurrency)
		if err != nil {
			return s, fmt.Errorf("init temporal worker: %w", err)
		}
	}
	return s, nil
}
