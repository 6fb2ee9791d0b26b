package videos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

type FrameRepo interface {
	Create(dbc dbctx.Context, frames []*types.Frame) ([]*types.Frame, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Frame, error)
	ListByVideo(dbc dbctx.Context, videoID uuid.UUID, generation *int) ([]*types.Frame, error)
	SetHasObjects(dbc dbctx.Context, id uuid.UUID, hasObjects bool) error
	MarkHasEventsBetween(dbc dbctx.Context, videoID uuid.UUID, generation int, start float64, end float64) (int64, error)
	DeleteBeforeGeneration(dbc dbctx.Context, videoID uuid.UUID, generation int) error
}

type frameRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFrameRepo(db *gorm.DB, baseLog *logger.Logger) FrameRepo {
	return &frameRepo{
		db:  db,
		log: baseLog.With("repo", "FrameRepo"),
	}
}

func (r *frameRepo) Create(dbc dbctx.Context, frames []*types.Frame) ([]*types.Frame, error) {
	if len(frames) == 0 {
		return []*types.Frame{}, nil
	}
	if err := dbc.Conn(r.db).Omit("Objects").Create(&frames).Error; err != nil {
		return nil, err
	}
	return frames, nil
}

func (r *frameRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Frame, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var f types.Frame
	if err := dbc.Conn(r.db).Where("id = ?", id).Limit(1).Find(&f).Error; err != nil {
		return nil, err
	}
	if f.ID == uuid.Nil {
		return nil, nil
	}
	return &f, nil
}

// ListByVideo returns frames ordered by timestamp. A nil generation lists every generation.
func (r *frameRepo) ListByVideo(dbc dbctx.Context, videoID uuid.UUID, generation *int) ([]*types.Frame, error) {
	var out []*types.Frame
	if videoID == uuid.Nil {
		return out, nil
	}
	q := dbc.Conn(r.db).Where("video_id = ?", videoID)
	if generation != nil {
		q = q.Where("generation = ?", *generation)
	}
	if err := q.Order("timestamp ASC").Order("generation ASC").Order("frame_number ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *frameRepo) SetHasObjects(dbc dbctx.Context, id uuid.UUID, hasObjects bool) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.Conn(r.db).
		Model(&types.Frame{}).
		Where("id = ?", id).
		Update("has_objects", hasObjects).Error
}

func (r *frameRepo) MarkHasEventsBetween(dbc dbctx.Context, videoID uuid.UUID, generation int, start float64, end float64) (int64, error) {
	if videoID == uuid.Nil {
		return 0, nil
	}
	res := dbc.Conn(r.db).
		Model(&types.Frame{}).
		Where("video_id = ? AND generation = ? AND timestamp >= ? AND timestamp <= ?", videoID, generation, start, end).
		Update("has_events", true)
	return res.RowsAffected, res.Error
}

// DeleteBeforeGeneration removes frames (and their objects) older than generation.
func (r *frameRepo) DeleteBeforeGeneration(dbc dbctx.Context, videoID uuid.UUID, generation int) error {
	if videoID == uuid.Nil {
		return nil
	}
	return dbc.Conn(r.db).Transaction(func(txx *gorm.DB) error {
		old := txx.Model(&types.Frame{}).Select("id").Where("video_id = ? AND generation < ?", videoID, generation)
		if err := txx.Exec("DELETE FROM event_related_objects WHERE detected_object_id IN (SELECT id FROM detected_objects WHERE frame_id IN (?))", old).Error; err != nil {
			return err
		}
		if err := txx.Where("frame_id IN (?)", old).Delete(&types.DetectedObject{}).Error; err != nil {
			return err
		}
		return txx.Where("video_id = ? AND generation < ?", videoID, generation).Delete(&types.Frame{}).Error
	})
}
