package videos

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

type EventFilter struct {
	VideoID     uuid.UUID
	UserID      uuid.UUID
	Generation  *int
	Severity    string
	IsViolation *bool
	StartFrom   *float64
	StartTo     *float64
	EventType   string
}

type EventCounts struct {
	Total      int64 `json:"total"`
	Violations int64 `json:"violations"`
}

type EventRepo interface {
	Create(dbc dbctx.Context, events []*types.Event) ([]*types.Event, error)
	// GetByIDForUser returns nil when the event does not exist or belongs to another owner's video.
	GetByIDForUser(dbc dbctx.Context, userID uuid.UUID, id uuid.UUID) (*types.Event, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
	List(dbc dbctx.Context, filter EventFilter) ([]*types.Event, error)
	Counts(dbc dbctx.Context, filter EventFilter) (EventCounts, error)
	CountBySeverity(dbc dbctx.Context, userID uuid.UUID) (map[string]int64, error)
	AttachObjects(dbc dbctx.Context, event *types.Event, objects []*types.DetectedObject) error
	DeleteBeforeGeneration(dbc dbctx.Context, videoID uuid.UUID, generation int) error
}

type eventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventRepo(db *gorm.DB, baseLog *logger.Logger) EventRepo {
	return &eventRepo{
		db:  db,
		log: baseLog.With("repo", "EventRepo"),
	}
}

func (r *eventRepo) Create(dbc dbctx.Context, events []*types.Event) ([]*types.Event, error) {
	if len(events) == 0 {
		return []*types.Event{}, nil
	}
	if err := dbc.Conn(r.db).Omit("RelatedObjects").Create(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *eventRepo) GetByIDForUser(dbc dbctx.Context, userID uuid.UUID, id uuid.UUID) (*types.Event, error) {
	if id == uuid.Nil || userID == uuid.Nil {
		return nil, nil
	}
	var out []*types.Event
	q := r.scoped(dbc.Conn(r.db).Model(&types.Event{}), EventFilter{UserID: userID})
	if err := q.Where("events.id = ?", id).Preload("RelatedObjects").Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *eventRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.Conn(r.db).
		Model(&types.Event{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *eventRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.Conn(r.db).Transaction(func(txx *gorm.DB) error {
		if err := txx.Exec("DELETE FROM event_related_objects WHERE event_id = ?", id).Error; err != nil {
			return err
		}
		return txx.Where("id = ?", id).Delete(&types.Event{}).Error
	})
}

func (r *eventRepo) scoped(q *gorm.DB, filter EventFilter) *gorm.DB {
	if filter.VideoID != uuid.Nil {
		q = q.Where("events.video_id = ?", filter.VideoID)
	}
	if filter.UserID != uuid.Nil {
		q = q.Where("events.video_id IN (?)", r.db.Model(&types.Video{}).Select("id").Where("user_id = ?", filter.UserID))
	}
	if filter.Generation != nil {
		q = q.Where("events.generation = ?", *filter.Generation)
	}
	if s := strings.TrimSpace(filter.Severity); s != "" {
		q = q.Where("events.severity = ?", s)
	}
	if filter.IsViolation != nil {
		q = q.Where("events.is_violation = ?", *filter.IsViolation)
	}
	if filter.StartFrom != nil {
		q = q.Where("events.start_time >= ?", *filter.StartFrom)
	}
	if filter.StartTo != nil {
		q = q.Where("events.start_time <= ?", *filter.StartTo)
	}
	if s := strings.TrimSpace(filter.EventType); s != "" {
		q = q.Where("events.event_type = ?", s)
	}
	return q
}

// List returns matching events ordered by start_time, with related objects preloaded.
func (r *eventRepo) List(dbc dbctx.Context, filter EventFilter) ([]*types.Event, error) {
	var out []*types.Event
	q := r.scoped(dbc.Conn(r.db).Model(&types.Event{}), filter)
	if err := q.Preload("RelatedObjects").
		Order("events.start_time ASC").
		Order("events.created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *eventRepo) Counts(dbc dbctx.Context, filter EventFilter) (EventCounts, error) {
	var out EventCounts
	filter.IsViolation = nil
	if err := r.scoped(dbc.Conn(r.db).Model(&types.Event{}), filter).Count(&out.Total).Error; err != nil {
		return out, err
	}
	yes := true
	filter.IsViolation = &yes
	if err := r.scoped(dbc.Conn(r.db).Model(&types.Event{}), filter).Count(&out.Violations).Error; err != nil {
		return out, err
	}
	return out, nil
}

func (r *eventRepo) CountBySeverity(dbc dbctx.Context, userID uuid.UUID) (map[string]int64, error) {
	type row struct {
		Severity string
		N        int64
	}
	var rows []row
	q := r.scoped(dbc.Conn(r.db).Model(&types.Event{}), EventFilter{UserID: userID})
	if err := q.Select("events.severity AS severity, COUNT(*) AS n").Group("events.severity").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for _, s := range []string{types.SeverityInfo, types.SeverityWarning, types.SeverityViolation, types.SeverityCritical} {
		out[s] = 0
	}
	for _, rr := range rows {
		out[rr.Severity] = rr.N
	}
	return out, nil
}

func (r *eventRepo) AttachObjects(dbc dbctx.Context, event *types.Event, objects []*types.DetectedObject) error {
	if event == nil || event.ID == uuid.Nil || len(objects) == 0 {
		return nil
	}
	return dbc.Conn(r.db).Model(event).Association("RelatedObjects").Append(objects)
}

func (r *eventRepo) DeleteBeforeGeneration(dbc dbctx.Context, videoID uuid.UUID, generation int) error {
	if videoID == uuid.Nil {
		return nil
	}
	return dbc.Conn(r.db).Transaction(func(txx *gorm.DB) error {
		old := txx.Model(&types.Event{}).Select("id").Where("video_id = ? AND generation < ?", videoID, generation)
		if err := txx.Exec("DELETE FROM event_related_objects WHERE event_id IN (?)", old).Error; err != nil {
			return err
		}
		return txx.Where("video_id = ? AND generation < ?", videoID, generation).Delete(&types.Event{}).Error
	})
}
