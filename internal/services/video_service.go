package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"gorm.io/datatypes"

	"github.com/yungbote/videoreview-backend/internal/analysis"
	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/envutil"
	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/platform/blob"
)

var AllowedVideoExtensions = []string{"mp4", "avi", "mov", "mkv"}

// ErrTooLarge is wrapped with ErrInvalidArgument so callers can map it to a 4xx.
var ErrTooLarge = errors.New("file too large")

type UploadConfig struct {
	MaxBytes int64
}

func UploadConfigFromEnv() UploadConfig {
	return UploadConfig{MaxBytes: envutil.Int64("UPLOAD_MAX_BYTES", 50<<20)}
}

type UploadInput struct {
	UserID        uuid.UUID
	Title         string
	Description   string
	Filename      string
	Size          int64
	Body          io.Reader
	AnalysisTypes []string
	CustomRules   json.RawMessage
}

// VideoPatch edits descriptive fields; analysis settings change through Analyze.
type VideoPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type VideoService interface {
	// Upload stores the file, creates the video row in uploaded, and enqueues its first analysis.
	Upload(ctx context.Context, in UploadInput) (*types.Video, *types.JobRun, error)
	Get(ctx context.Context, userID uuid.UUID, videoID uuid.UUID) (*types.Video, error)
	List(ctx context.Context, filter repos.VideoFilter) ([]*types.Video, error)
	Update(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, patch VideoPatch) (*types.Video, error)
	Delete(ctx context.Context, userID uuid.UUID, videoID uuid.UUID) error

	Frames(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, generation *int) ([]*types.Frame, error)
	FrameObjects(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, frameID uuid.UUID) ([]*types.DetectedObject, error)
	Events(ctx context.Context, userID uuid.UUID, filter repos.EventFilter) ([]*types.Event, error)
}

type videoService struct {
	log      *logger.Logger
	cfg      UploadConfig
	store    blob.Store
	videos   repos.VideoRepo
	frames   repos.FrameRepo
	objects  repos.DetectedObjectRepo
	events   repos.EventRepo
	analysis AnalysisService
}

func NewVideoService(
	baseLog *logger.Logger,
	cfg UploadConfig,
	store blob.Store,
	videos repos.VideoRepo,
	frames repos.FrameRepo,
	objects repos.DetectedObjectRepo,
	events repos.EventRepo,
	analysisSvc AnalysisService,
) VideoService {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 50 << 20
	}
	return &videoService{
		log:      baseLog.With("service", "VideoService"),
		cfg:      cfg,
		store:    store,
		videos:   videos,
		frames:   frames,
		objects:  objects,
		events:   events,
		analysis: analysisSvc,
	}
}

func (s *videoService) Upload(ctx context.Context, in UploadInput) (*types.Video, *types.JobRun, error) {
	if in.UserID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: missing user", pkgerrors.ErrInvalidArgument)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, nil, fmt.Errorf("%w: title is required", pkgerrors.ErrInvalidArgument)
	}
	if in.Body == nil {
		return nil, nil, fmt.Errorf("%w: file is required", pkgerrors.ErrInvalidArgument)
	}
	ext, err := videoExtension(in.Filename)
	if err != nil {
		return nil, nil, err
	}
	if in.Size > s.cfg.MaxBytes {
		return nil, nil, fmt.Errorf("%w: %w: %d bytes exceeds %d", pkgerrors.ErrInvalidArgument, ErrTooLarge, in.Size, s.cfg.MaxBytes)
	}
	if err := analysis.ValidateTypes(in.AnalysisTypes); err != nil {
		return nil, nil, err
	}
	if err := analysis.ParseCustomRules(in.CustomRules); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidArgument, err)
	}

	br := bufio.NewReaderSize(in.Body, 512)
	head, _ := br.Peek(262)
	if !filetype.IsVideo(head) {
		kind, _ := filetype.Match(head)
		return nil, nil, fmt.Errorf("%w: content is not a video (detected %q)", pkgerrors.ErrInvalidArgument, kind.MIME.Value)
	}

	videoID := uuid.New()
	key := blob.VideoKey(videoID.String(), ext)
	limited := &io.LimitedReader{R: br, N: s.cfg.MaxBytes + 1}
	n, err := s.store.Put(ctx, key, limited)
	if err != nil {
		return nil, nil, fmt.Errorf("store upload: %w", err)
	}
	if n > s.cfg.MaxBytes {
		_ = s.store.Delete(ctx, key)
		return nil, nil, fmt.Errorf("%w: %w: exceeds %d bytes", pkgerrors.ErrInvalidArgument, ErrTooLarge, s.cfg.MaxBytes)
	}

	analysisTypes := in.AnalysisTypes
	if analysisTypes == nil {
		analysisTypes = []string{}
	}
	typesJSON, _ := json.Marshal(analysisTypes)
	rules := datatypes.JSON([]byte(`{}`))
	if len(in.CustomRules) > 0 && string(in.CustomRules) != "null" {
		rules = datatypes.JSON(in.CustomRules)
	}
	size := n
	video := &types.Video{
		ID:            videoID,
		UserID:        in.UserID,
		Title:         title,
		Description:   strings.TrimSpace(in.Description),
		StorageKey:    key,
		OriginalName:  filepath.Base(in.Filename),
		FileSize:      &size,
		Status:        types.VideoStatusUploaded,
		AnalysisTypes: datatypes.JSON(typesJSON),
		CustomRules:   rules,
	}
	if _, err := s.videos.Create(dbctx.Context{Ctx: ctx}, []*types.Video{video}); err != nil {
		_ = s.store.Delete(ctx, key)
		return nil, nil, fmt.Errorf("create video: %w", err)
	}
	s.log.Info("video uploaded", "video_id", video.ID, "user_id", in.UserID, "bytes", n)

	job, err := s.analysis.Enqueue(ctx, in.UserID, video.ID, nil)
	if err != nil {
		// The upload stands; analysis can be started again via analyze.
		s.log.Warn("enqueue analysis failed", "video_id", video.ID, "error", err)
		return video, nil, err
	}
	return video, job, nil
}

func videoExtension(name string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, a := range AllowedVideoExtensions {
		if ext == a {
			return ext, nil
		}
	}
	return "", fmt.Errorf("%w: file extension %q not allowed (allowed: %s)", pkgerrors.ErrInvalidArgument, ext, strings.Join(AllowedVideoExtensions, ", "))
}

func (s *videoService) Get(ctx context.Context, userID uuid.UUID, videoID uuid.UUID) (*types.Video, error) {
	v, err := s.videos.GetByIDForUser(dbctx.Context{Ctx: ctx}, userID, videoID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("video %s: %w", videoID, pkgerrors.ErrNotFound)
	}
	return v, nil
}

func (s *videoService) List(ctx context.Context, filter repos.VideoFilter) ([]*types.Video, error) {
	if filter.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user", pkgerrors.ErrInvalidArgument)
	}
	return s.videos.List(dbctx.Context{Ctx: ctx}, filter)
}

func (s *videoService) Update(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, patch VideoPatch) (*types.Video, error) {
	v, err := s.Get(ctx, userID, videoID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title must not be empty", pkgerrors.ErrInvalidArgument)
		}
		updates["title"] = title
	}
	if patch.Description != nil {
		updates["description"] = strings.TrimSpace(*patch.Description)
	}
	if len(updates) == 0 {
		return v, nil
	}
	if err := s.videos.UpdateFields(dbctx.Context{Ctx: ctx}, v.ID, updates); err != nil {
		return nil, fmt.Errorf("update video: %w", err)
	}
	return s.Get(ctx, userID, videoID)
}

func (s *videoService) Delete(ctx context.Context, userID uuid.UUID, videoID uuid.UUID) error {
	v, err := s.Get(ctx, userID, videoID)
	if err != nil {
		return err
	}
	if err := s.videos.DeleteCascade(dbctx.Context{Ctx: ctx}, v.ID); err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	// Rows are gone; a leftover blob is only wasted space.
	if err := s.store.DeletePrefix(ctx, blob.VideoPrefix(v.ID.String())); err != nil {
		s.log.Warn("delete video blobs failed", "video_id", v.ID, "error", err)
	}
	return nil
}

func (s *videoService) Frames(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, generation *int) ([]*types.Frame, error) {
	v, err := s.Get(ctx, userID, videoID)
	if err != nil {
		return nil, err
	}
	return s.frames.ListByVideo(dbctx.Context{Ctx: ctx}, v.ID, generation)
}

func (s *videoService) FrameObjects(ctx context.Context, userID uuid.UUID, videoID uuid.UUID, frameID uuid.UUID) ([]*types.DetectedObject, error) {
	v, err := s.Get(ctx, userID, videoID)
	if err != nil {
		return nil, err
	}
	f, err := s.frames.GetByID(dbctx.Context{Ctx: ctx}, frameID)
	if err != nil {
		return nil, err
	}
	if f == nil || f.VideoID != v.ID {
		return nil, fmt.Errorf("frame %s: %w", frameID, pkgerrors.ErrNotFound)
	}
	return s.objects.ListByFrame(dbctx.Context{Ctx: ctx}, f.ID)
}

func (s *videoService) Events(ctx context.Context, userID uuid.UUID, filter repos.EventFilter) ([]*types.Event, error) {
	v, err := s.Get(ctx, userID, filter.VideoID)
	if err != nil {
		return nil, err
	}
	if filter.Severity != "" && !types.IsSeverity(filter.Severity) {
		return nil, fmt.Errorf("%w: unknown severity %q", pkgerrors.ErrInvalidArgument, filter.Severity)
	}
	filter.UserID = userID
	filter.VideoID = v.ID
	return s.events.List(dbctx.Context{Ctx: ctx}, filter)
}
