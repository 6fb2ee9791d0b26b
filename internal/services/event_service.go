package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

const detectedByManual = "manual"

// EventInput is a reviewer-created event. StartTime and Confidence are required.
type EventInput struct {
	EventType          string          `json:"event_type"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Severity           string          `json:"severity"`
	StartTime          *float64        `json:"start_time"`
	EndTime            *float64        `json:"end_time"`
	LocationX          *float64        `json:"location_x"`
	LocationY          *float64        `json:"location_y"`
	Confidence         *float64        `json:"confidence"`
	DetectedBy         string          `json:"detected_by"`
	IsViolation        bool            `json:"is_violation"`
	GuidelineReference string          `json:"guideline_reference"`
	Metadata           json.RawMessage `json:"metadata"`
}

// EventPatch changes only the fields that are set.
type EventPatch struct {
	EventType          *string         `json:"event_type"`
	Title              *string         `json:"title"`
	Description        *string         `json:"description"`
	Severity           *string         `json:"severity"`
	StartTime          *float64        `json:"start_time"`
	EndTime            *float64        `json:"end_time"`
	LocationX          *float64        `json:"location_x"`
	LocationY          *float64        `json:"location_y"`
	Confidence         *float64        `json:"confidence"`
	IsViolation        *bool           `json:"is_violation"`
	GuidelineReference *string         `json:"guideline_reference"`
	Metadata           json.RawMessage `json:"metadata"`
}

type EventService interface {
	// Create adds an event to the video's current generation.
	Create(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, in EventInput) (*types.Event, error)
	Get(ctx context.Context, userID uuid.UUID, eventID uuid.UUID) (*types.Event, error)
	Update(ctx context.Context, userID uuid.UUID, eventID uuid.UUID, patch EventPatch) (*types.Event, error)
	Delete(ctx context.Context, userID uuid.UUID, eventID uuid.UUID) error
}

type eventService struct {
	log    *logger.Logger
	videos repos.VideoRepo
	events repos.EventRepo
}

func NewEventService(baseLog *logger.Logger, videos repos.VideoRepo, events repos.EventRepo) EventService {
	return &eventService{
		log:    baseLog.With("service", "EventService"),
		videos: videos,
		events: events,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", pkgerrors.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func metadataJSON(raw json.RawMessage) (datatypes.JSON, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return datatypes.JSON([]byte(`{}`)), nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, invalid("metadata must be a JSON object")
	}
	return datatypes.JSON(raw), nil
}

func (s *eventService) Create(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, in EventInput) (*types.Event, error) {
	dbc := dbctx.Context{Ctx: ctx}
	video, err := s.videos.GetByIDForUser(dbc, userID, videoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, fmt.Errorf("video %s: %w", videoID, pkgerrors.ErrNotFound)
	}

	eventType := strings.TrimSpace(in.EventType)
	title := strings.TrimSpace(in.Title)
	switch {
	case eventType == "":
		return nil, invalid("event_type is required")
	case title == "":
		return nil, invalid("title is required")
	case in.StartTime == nil:
		return nil, invalid("start_time is required")
	case *in.StartTime < 0:
		return nil, invalid("start_time must not be negative")
	case in.Confidence == nil:
		return nil, invalid("confidence is required")
	}
	meta, err := metadataJSON(in.Metadata)
	if err != nil {
		return nil, err
	}
	severity := strings.TrimSpace(in.Severity)
	if severity == "" {
		severity = types.SeverityInfo
	}
	detectedBy := strings.TrimSpace(in.DetectedBy)
	if detectedBy == "" {
		detectedBy = detectedByManual
	}
	ev := &types.Event{
		VideoID:            video.ID,
		Generation:         video.AnalysisGeneration,
		EventType:          eventType,
		Title:              title,
		Description:        strings.TrimSpace(in.Description),
		Severity:           severity,
		StartTime:          *in.StartTime,
		EndTime:            in.EndTime,
		LocationX:          in.LocationX,
		LocationY:          in.LocationY,
		Confidence:         *in.Confidence,
		DetectedBy:         detectedBy,
		IsViolation:        in.IsViolation,
		GuidelineReference: strings.TrimSpace(in.GuidelineReference),
		Metadata:           meta,
	}
	if ev.EndTime != nil {
		d := *ev.EndTime - ev.StartTime
		ev.Duration = &d
	}
	if err := ev.Validate(); err != nil {
		return nil, invalid("%v", err)
	}
	if _, err := s.events.Create(dbc, []*types.Event{ev}); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	s.log.Info("event created", "video_id", video.ID, "event_id", ev.ID, "user_id", userID)
	return ev, nil
}

func (s *eventService) Get(ctx context.Context, userID uuid.UUID, eventID uuid.UUID) (*types.Event, error) {
	ev, err := s.events.GetByIDForUser(dbctx.Context{Ctx: ctx}, userID, eventID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, fmt.Errorf("event %s: %w", eventID, pkgerrors.ErrNotFound)
	}
	return ev, nil
}

func (s *eventService) Update(ctx context.Context, userID uuid.UUID, eventID uuid.UUID, patch EventPatch) (*types.Event, error) {
	ev, err := s.Get(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if patch.EventType != nil {
		v := strings.TrimSpace(*patch.EventType)
		if v == "" {
			return nil, invalid("event_type must not be empty")
		}
		ev.EventType = v
		updates["event_type"] = v
	}
	if patch.Title != nil {
		v := strings.TrimSpace(*patch.Title)
		if v == "" {
			return nil, invalid("title must not be empty")
		}
		ev.Title = v
		updates["title"] = v
	}
	if patch.Description != nil {
		ev.Description = strings.TrimSpace(*patch.Description)
		updates["description"] = ev.Description
	}
	if patch.Severity != nil {
		ev.Severity = strings.TrimSpace(*patch.Severity)
		updates["severity"] = ev.Severity
	}
	if patch.StartTime != nil {
		if *patch.StartTime < 0 {
			return nil, invalid("start_time must not be negative")
		}
		ev.StartTime = *patch.StartTime
		updates["start_time"] = ev.StartTime
	}
	if patch.EndTime != nil {
		ev.EndTime = patch.EndTime
		updates["end_time"] = *patch.EndTime
	}
	if patch.StartTime != nil || patch.EndTime != nil {
		if ev.EndTime != nil {
			d := *ev.EndTime - ev.StartTime
			ev.Duration = &d
			updates["duration"] = d
		} else {
			ev.Duration = nil
			updates["duration"] = nil
		}
	}
	if patch.LocationX != nil {
		ev.LocationX = patch.LocationX
		updates["location_x"] = *patch.LocationX
	}
	if patch.LocationY != nil {
		ev.LocationY = patch.LocationY
		updates["location_y"] = *patch.LocationY
	}
	if patch.Confidence != nil {
		ev.Confidence = *patch.Confidence
		updates["confidence"] = ev.Confidence
	}
	if patch.IsViolation != nil {
		ev.IsViolation = *patch.IsViolation
		updates["is_violation"] = ev.IsViolation
	}
	if patch.GuidelineReference != nil {
		ev.GuidelineReference = strings.TrimSpace(*patch.GuidelineReference)
		updates["guideline_reference"] = ev.GuidelineReference
	}
	if len(patch.Metadata) > 0 {
		meta, err := metadataJSON(patch.Metadata)
		if err != nil {
			return nil, err
		}
		ev.Metadata = meta
		updates["metadata"] = meta
	}
	if len(updates) == 0 {
		return ev, nil
	}
	if ev.Severity == "" {
		return nil, invalid("severity must not be empty")
	}
	if err := ev.Validate(); err != nil {
		return nil, invalid("%v", err)
	}
	if err := s.events.UpdateFields(dbctx.Context{Ctx: ctx}, ev.ID, updates); err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	return ev, nil
}

func (s *eventService) Delete(ctx context.Context, userID uuid.UUID, eventID uuid.UUID) error {
	ev, err := s.Get(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if err := s.events.Delete(dbctx.Context{Ctx: ctx}, ev.ID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	s.log.Info("event deleted", "video_id", ev.VideoID, "event_id", ev.ID, "user_id", userID)
	return nil
}
