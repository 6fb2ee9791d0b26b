package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/yungbote/videoreview-backend/internal/analysis"
	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

// AnalyzeRequest configures a (re-)analysis of one video.
type AnalyzeRequest struct {
	AnalysisTypes []string        `json:"analysis_types"`
	CustomRules   json.RawMessage `json:"custom_rules,omitempty"`
	PurgePrevious bool            `json:"purge_previous,omitempty"`
}

type VideoStatus struct {
	VideoID               uuid.UUID     `json:"video_id"`
	Status                string        `json:"status"`
	ProcessingStartedAt   *time.Time    `json:"processing_started_at"`
	ProcessingCompletedAt *time.Time    `json:"processing_completed_at"`
	ProcessingError       string        `json:"processing_error"`
	ProcessingDuration    *float64      `json:"processing_duration"`
	Generation            int           `json:"generation"`
	EventsCount           int64         `json:"events_count"`
	ViolationsCount       int64         `json:"violations_count"`
	Job                   *types.JobRun `json:"job,omitempty"`
}

type Statistics struct {
	TotalVideos      int64            `json:"total_videos"`
	VideosByStatus   map[string]int64 `json:"videos_by_status"`
	TotalEvents      int64            `json:"total_events"`
	TotalViolations  int64            `json:"total_violations"`
	EventsBySeverity map[string]int64 `json:"events_by_severity"`
}

type AnalysisService interface {
	// Enqueue schedules a video_analyze job, returning the runnable one already queued for the video if any.
	Enqueue(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, cfg *analysis.RunConfig) (*types.JobRun, error)
	// Analyze stores the requested types and rules on the video, then enqueues. While a job is
	// runnable for the video, an identical request returns it and a different one is ErrConflict.
	Analyze(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, req AnalyzeRequest) (*types.JobRun, error)
	Status(ctx context.Context, userID uuid.UUID, videoID uuid.UUID) (*VideoStatus, error)
	Statistics(ctx context.Context, userID uuid.UUID) (*Statistics, error)
}

type analysisService struct {
	log    *logger.Logger
	videos repos.VideoRepo
	events repos.EventRepo
	jobs   repos.JobRunRepo
	jobSvc JobService
	sf     singleflight.Group
}

func NewAnalysisService(baseLog *logger.Logger, videos repos.VideoRepo, events repos.EventRepo, jobs repos.JobRunRepo, jobSvc JobService) AnalysisService {
	return &analysisService{
		log:    baseLog.With("service", "AnalysisService"),
		videos: videos,
		events: events,
		jobs:   jobs,
		jobSvc: jobSvc,
	}
}

func (s *analysisService) Enqueue(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, cfg *analysis.RunConfig) (*types.JobRun, error) {
	if videoID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing video id", pkgerrors.ErrInvalidArgument)
	}
	v, err, _ := s.sf.Do(videoID.String(), func() (interface{}, error) {
		dbc := dbctx.Context{Ctx: ctx}
		existing, err := s.jobs.FindRunnableForEntity(dbc, types.EntityTypeVideo, videoID, types.JobTypeVideoAnalyze)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.log.Debug("analysis already queued", "video_id", videoID, "job_id", existing.ID)
			return existing, nil
		}
		payload := map[string]any{"video_id": videoID.String()}
		if cfg != nil {
			payload["analysis_config"] = cfg
		}
		entityID := videoID
		return s.jobSvc.Enqueue(dbc, userID, types.JobTypeVideoAnalyze, types.EntityTypeVideo, &entityID, payload)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.JobRun), nil
}

func (s *analysisService) Analyze(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, req AnalyzeRequest) (*types.JobRun, error) {
	video, err := s.videos.GetByIDForUser(dbctx.Context{Ctx: ctx}, userID, videoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, fmt.Errorf("video %s: %w", videoID, pkgerrors.ErrNotFound)
	}
	if len(req.AnalysisTypes) == 0 {
		return nil, fmt.Errorf("%w: analysis_types must not be empty", pkgerrors.ErrInvalidArgument)
	}
	if err := analysis.ValidateTypes(req.AnalysisTypes); err != nil {
		return nil, err
	}
	if err := analysis.ParseCustomRules(req.CustomRules); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidArgument, err)
	}

	typesJSON, _ := json.Marshal(req.AnalysisTypes)
	rules := datatypes.JSON([]byte(`{}`))
	if len(req.CustomRules) > 0 && string(req.CustomRules) != "null" {
		rules = datatypes.JSON(req.CustomRules)
	}

	// A queued or running job keeps its settings; only an identical request may join it.
	existing, err := s.jobs.FindRunnableForEntity(dbctx.Context{Ctx: ctx}, types.EntityTypeVideo, video.ID, types.JobTypeVideoAnalyze)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if sameAnalysis(video, existing, req, rules) {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: analysis job %s is %s with different settings", pkgerrors.ErrConflict, existing.ID, existing.Status)
	}

	if err := s.videos.UpdateFields(dbctx.Context{Ctx: ctx}, video.ID, map[string]interface{}{
		"analysis_types": datatypes.JSON(typesJSON),
		"custom_rules":   rules,
	}); err != nil {
		return nil, fmt.Errorf("store analysis config: %w", err)
	}

	return s.Enqueue(ctx, userID, video.ID, &analysis.RunConfig{
		AnalysisTypes: req.AnalysisTypes,
		PurgePrevious: req.PurgePrevious,
	})
}

// sameAnalysis reports whether job will run with the settings req asks for.
func sameAnalysis(video *types.Video, job *types.JobRun, req AnalyzeRequest, rules datatypes.JSON) bool {
	var payload struct {
		AnalysisConfig *analysis.RunConfig `json:"analysis_config"`
	}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return false
		}
	}
	var queuedTypes []string
	queuedPurge := false
	if cfg := payload.AnalysisConfig; cfg != nil {
		queuedTypes = cfg.AnalysisTypes
		queuedPurge = cfg.PurgePrevious
	} else if len(video.AnalysisTypes) > 0 {
		if err := json.Unmarshal(video.AnalysisTypes, &queuedTypes); err != nil {
			return false
		}
	}
	return queuedPurge == req.PurgePrevious &&
		sameTypeSet(queuedTypes, req.AnalysisTypes) &&
		sameJSON(video.CustomRules, rules)
}

func sameTypeSet(a, b []string) bool {
	set := func(in []string) map[string]bool {
		out := map[string]bool{}
		for _, t := range in {
			if t = strings.TrimSpace(t); t != "" {
				out[t] = true
			}
		}
		return out
	}
	return reflect.DeepEqual(set(a), set(b))
}

// sameJSON compares documents structurally; empty and null count as {}.
func sameJSON(a, b []byte) bool {
	decode := func(raw []byte) (any, bool) {
		if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
			return map[string]any{}, true
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, false
		}
		return v, true
	}
	av, ok := decode(a)
	if !ok {
		return false
	}
	bv, ok := decode(b)
	if !ok {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

func (s *analysisService) Status(ctx context.Context, userID uuid.UUID, videoID uuid.UUID) (*VideoStatus, error) {
	dbc := dbctx.Context{Ctx: ctx}
	video, err := s.videos.GetByIDForUser(dbc, userID, videoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, fmt.Errorf("video %s: %w", videoID, pkgerrors.ErrNotFound)
	}
	gen := video.AnalysisGeneration
	counts, err := s.events.Counts(dbc, repos.EventFilter{VideoID: video.ID, Generation: &gen})
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.GetLatestByEntity(dbc, types.EntityTypeVideo, video.ID, types.JobTypeVideoAnalyze)
	if err != nil {
		return nil, err
	}
	out := &VideoStatus{
		VideoID:               video.ID,
		Status:                video.Status,
		ProcessingStartedAt:   video.ProcessingStartedAt,
		ProcessingCompletedAt: video.ProcessingCompletedAt,
		ProcessingError:       video.ProcessingError,
		Generation:            gen,
		EventsCount:           counts.Total,
		ViolationsCount:       counts.Violations,
		Job:                   job,
	}
	if d := video.ProcessingDuration(); d != nil {
		secs := d.Seconds()
		out.ProcessingDuration = &secs
	}
	return out, nil
}

func (s *analysisService) Statistics(ctx context.Context, userID uuid.UUID) (*Statistics, error) {
	dbc := dbctx.Context{Ctx: ctx}
	byStatus, err := s.videos.CountByStatus(dbc, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.events.Counts(dbc, repos.EventFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	bySeverity, err := s.events.CountBySeverity(dbc, userID)
	if err != nil {
		return nil, err
	}
	out := &Statistics{
		VideosByStatus:   byStatus,
		TotalEvents:      counts.Total,
		TotalViolations:  counts.Violations,
		EventsBySeverity: bySeverity,
	}
	for _, n := range byStatus {
		out.TotalVideos += n
	}
	return out, nil
}
