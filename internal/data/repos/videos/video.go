package videos

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

type VideoFilter struct {
	UserID        uuid.UUID
	Status        string
	Query         string
	HasViolations *bool // nil matches all; false keeps videos without a violation event
	AnalysisType  string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	Limit         int
	Offset        int
}

type VideoRepo interface {
	Create(dbc dbctx.Context, videos []*types.Video) ([]*types.Video, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Video, error)
	GetByIDForUser(dbc dbctx.Context, userID uuid.UUID, id uuid.UUID) (*types.Video, error)
	List(dbc dbctx.Context, filter VideoFilter) ([]*types.Video, error)
	CountByStatus(dbc dbctx.Context, userID uuid.UUID) (map[string]int64, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error

	// AcquireLease starts a new analysis generation if no live lease exists. ok is false when
	// another run holds the video.
	AcquireLease(dbc dbctx.Context, id uuid.UUID, token uuid.UUID, ttl time.Duration) (generation int, ok bool, err error)
	CompleteUnderLease(dbc dbctx.Context, id uuid.UUID, token uuid.UUID) (bool, error)
	FailUnderLease(dbc dbctx.Context, id uuid.UUID, token uuid.UUID, errMsg string) (bool, error)
	RenewLease(dbc dbctx.Context, id uuid.UUID, token uuid.UUID, ttl time.Duration) (bool, error)

	DeleteCascade(dbc dbctx.Context, id uuid.UUID) error
}

type videoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoRepo(db *gorm.DB, baseLog *logger.Logger) VideoRepo {
	return &videoRepo{
		db:  db,
		log: baseLog.With("repo", "VideoRepo"),
	}
}

func (r *videoRepo) Create(dbc dbctx.Context, videos []*types.Video) ([]*types.Video, error) {
	if len(videos) == 0 {
		return []*types.Video{}, nil
	}
	if err := dbc.Conn(r.db).Create(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *videoRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Video, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var v types.Video
	if err := dbc.Conn(r.db).Where("id = ?", id).Limit(1).Find(&v).Error; err != nil {
		return nil, err
	}
	if v.ID == uuid.Nil {
		return nil, nil
	}
	return &v, nil
}

func (r *videoRepo) GetByIDForUser(dbc dbctx.Context, userID uuid.UUID, id uuid.UUID) (*types.Video, error) {
	if id == uuid.Nil || userID == uuid.Nil {
		return nil, nil
	}
	var v types.Video
	if err := dbc.Conn(r.db).Where("id = ? AND user_id = ?", id, userID).Limit(1).Find(&v).Error; err != nil {
		return nil, err
	}
	if v.ID == uuid.Nil {
		return nil, nil
	}
	return &v, nil
}

func (r *videoRepo) List(dbc dbctx.Context, filter VideoFilter) ([]*types.Video, error) {
	q := dbc.Conn(r.db).Model(&types.Video{})
	if filter.UserID != uuid.Nil {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if s := strings.TrimSpace(filter.Status); s != "" {
		q = q.Where("status = ?", s)
	}
	if s := strings.ToLower(strings.TrimSpace(filter.Query)); s != "" {
		like := "%" + s + "%"
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", like, like)
	}
	if filter.HasViolations != nil {
		cond := "EXISTS (SELECT 1 FROM events e WHERE e.video_id = videos.id AND e.is_violation = ?)"
		if !*filter.HasViolations {
			cond = "NOT " + cond
		}
		q = q.Where(cond, true)
	}
	if s := strings.TrimSpace(filter.AnalysisType); s != "" {
		q = q.Where("CAST(analysis_types AS TEXT) LIKE ?", `%"`+s+`"%`)
	}
	if filter.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		q = q.Where("created_at <= ?", *filter.CreatedTo)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var out []*types.Video
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) CountByStatus(dbc dbctx.Context, userID uuid.UUID) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	q := dbc.Conn(r.db).Model(&types.Video{}).Select("status, COUNT(*) AS n")
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := map[string]int64{
		types.VideoStatusUploaded:   0,
		types.VideoStatusProcessing: 0,
		types.VideoStatusCompleted:  0,
		types.VideoStatusFailed:     0,
	}
	for _, rr := range rows {
		out[rr.Status] = rr.N
	}
	return out, nil
}

func (r *videoRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.Conn(r.db).
		Model(&types.Video{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *videoRepo) AcquireLease(dbc dbctx.Context, id uuid.UUID, token uuid.UUID, ttl time.Duration) (int, bool, error) {
	if id == uuid.Nil || token == uuid.Nil {
		return 0, false, nil
	}
	now := time.Now()
	var generation int
	acquired := false
	err := dbc.Conn(r.db).Transaction(func(txx *gorm.DB) error {
		res := txx.Model(&types.Video{}).
			Where("id = ? AND (lease_token IS NULL OR lease_expires_at IS NULL OR lease_expires_at < ?)", id, now).
			Updates(map[string]interface{}{
				"status":                  types.VideoStatusProcessing,
				"processing_started_at":   now,
				"processing_completed_at": nil,
				"processing_error":        "",
				"analysis_generation":     gorm.Expr("analysis_generation + 1"),
				"lease_token":             token,
				"lease_expires_at":        now.Add(ttl),
				"updated_at":              now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		var v types.Video
		if err := txx.Select("id", "analysis_generation").Where("id = ? AND lease_token = ?", id, token).Limit(1).Find(&v).Error; err != nil {
			return err
		}
		generation = v.AnalysisGeneration
		acquired = v.ID != uuid.Nil
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return generation, acquired, nil
}

func (r *videoRepo) CompleteUnderLease(dbc dbctx.Context, id uuid.UUID, token uuid.UUID) (bool, error) {
	now := time.Now()
	return r.updateUnderLease(dbc, id, token, map[string]interface{}{
		"status":                  types.VideoStatusCompleted,
		"processing_completed_at": now,
		"processing_error":        "",
		"lease_token":             nil,
		"lease_expires_at":        nil,
		"updated_at":              now,
	})
}

func (r *videoRepo) FailUnderLease(dbc dbctx.Context, id uuid.UUID, token uuid.UUID, errMsg string) (bool, error) {
	if strings.TrimSpace(errMsg) == "" {
		errMsg = "analysis failed"
	}
	return r.updateUnderLease(dbc, id, token, map[string]interface{}{
		"status":                  types.VideoStatusFailed,
		"processing_completed_at": nil,
		"processing_error":        errMsg,
		"lease_token":             nil,
		"lease_expires_at":        nil,
		"updated_at":              time.Now(),
	})
}

func (r *videoRepo) RenewLease(dbc dbctx.Context, id uuid.UUID, token uuid.UUID, ttl time.Duration) (bool, error) {
	now := time.Now()
	return r.updateUnderLease(dbc, id, token, map[string]interface{}{
		"lease_expires_at": now.Add(ttl),
		"updated_at":       now,
	})
}

func (r *videoRepo) updateUnderLease(dbc dbctx.Context, id uuid.UUID, token uuid.UUID, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || token == uuid.Nil {
		return false, nil
	}
	res := dbc.Conn(r.db).
		Model(&types.Video{}).
		Where("id = ? AND lease_token = ?", id, token).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteCascade hard-deletes a video with its frames, detected objects and events.
func (r *videoRepo) DeleteCascade(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.Conn(r.db).Transaction(func(txx *gorm.DB) error {
		frameIDs := txx.Model(&types.Frame{}).Select("id").Where("video_id = ?", id)
		eventIDs := txx.Model(&types.Event{}).Select("id").Where("video_id = ?", id)
		if err := txx.Exec("DELETE FROM event_related_objects WHERE event_id IN (?)", eventIDs).Error; err != nil {
			return err
		}
		if err := txx.Where("frame_id IN (?)", frameIDs).Delete(&types.DetectedObject{}).Error; err != nil {
			return err
		}
		if err := txx.Where("video_id = ?", id).Delete(&types.Frame{}).Error; err != nil {
			return err
		}
		if err := txx.Where("video_id = ?", id).Delete(&types.Event{}).Error; err != nil {
			return err
		}
		return txx.Unscoped().Where("id = ?", id).Delete(&types.Video{}).Error
	})
}
