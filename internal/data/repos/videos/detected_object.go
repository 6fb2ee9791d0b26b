package videos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

type DetectedObjectRepo interface {
	Create(dbc dbctx.Context, objects []*types.DetectedObject) ([]*types.DetectedObject, error)
	ListByFrame(dbc dbctx.Context, frameID uuid.UUID) ([]*types.DetectedObject, error)
	ListByTrackIDs(dbc dbctx.Context, videoID uuid.UUID, generation int, trackIDs []string) ([]*types.DetectedObject, error)
	CountByVideo(dbc dbctx.Context, videoID uuid.UUID, generation int) (int64, error)
}

type detectedObjectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDetectedObjectRepo(db *gorm.DB, baseLog *logger.Logger) DetectedObjectRepo {
	return &detectedObjectRepo{
		db:  db,
		log: baseLog.With("repo", "DetectedObjectRepo"),
	}
}

func (r *detectedObjectRepo) Create(dbc dbctx.Context, objects []*types.DetectedObject) ([]*types.DetectedObject, error) {
	if len(objects) == 0 {
		return []*types.DetectedObject{}, nil
	}
	if err := dbc.Conn(r.db).Create(&objects).Error; err != nil {
		return nil, err
	}
	return objects, nil
}

func (r *detectedObjectRepo) ListByFrame(dbc dbctx.Context, frameID uuid.UUID) ([]*types.DetectedObject, error) {
	var out []*types.DetectedObject
	if frameID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("frame_id = ?", frameID).
		Order("confidence DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *detectedObjectRepo) ListByTrackIDs(dbc dbctx.Context, videoID uuid.UUID, generation int, trackIDs []string) ([]*types.DetectedObject, error) {
	var out []*types.DetectedObject
	if videoID == uuid.Nil || len(trackIDs) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Joins("JOIN video_frames f ON f.id = detected_objects.frame_id").
		Where("f.video_id = ? AND f.generation = ? AND detected_objects.track_id IN ?", videoID, generation, trackIDs).
		Order("detected_objects.confidence DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *detectedObjectRepo) CountByVideo(dbc dbctx.Context, videoID uuid.UUID, generation int) (int64, error) {
	var n int64
	err := dbc.Conn(r.db).
		Model(&types.DetectedObject{}).
		Joins("JOIN video_frames f ON f.id = detected_objects.frame_id").
		Where("f.video_id = ? AND f.generation = ?", videoID, generation).
		Count(&n).Error
	return n, err
}
