package videos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SeverityInfo      = "info"
	SeverityWarning   = "warning"
	SeverityViolation = "violation"
	SeverityCritical  = "critical"
)

var Severities = []string{SeverityInfo, SeverityWarning, SeverityViolation, SeverityCritical}

func IsSeverity(s string) bool {
	for _, v := range Severities {
		if v == s {
			return true
		}
	}
	return false
}

// Event is one timeline occurrence tied to a video. Detector output is never rewritten; owners
// may add, edit or remove events by hand.
type Event struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	VideoID     uuid.UUID `gorm:"type:uuid;not null;index:idx_event_video_gen,priority:1" json:"video_id"`
	Generation  int       `gorm:"column:generation;not null;index:idx_event_video_gen,priority:2" json:"generation"`
	EventType   string    `gorm:"column:event_type;not null;index" json:"event_type"`
	Title       string    `gorm:"column:title;not null" json:"title"`
	Description string    `gorm:"column:description" json:"description"`
	Severity    string    `gorm:"column:severity;not null;index" json:"severity"`

	StartTime float64  `gorm:"column:start_time;not null;index" json:"start_time"`
	EndTime   *float64 `gorm:"column:end_time" json:"end_time,omitempty"`
	Duration  *float64 `gorm:"column:duration" json:"duration,omitempty"`

	LocationX *float64 `gorm:"column:location_x" json:"location_x,omitempty"`
	LocationY *float64 `gorm:"column:location_y" json:"location_y,omitempty"`

	Confidence float64 `gorm:"column:confidence;not null" json:"confidence"`
	DetectedBy string  `gorm:"column:detected_by;not null" json:"detected_by"`

	RelatedObjects []*DetectedObject `gorm:"many2many:event_related_objects;constraint:OnDelete:CASCADE" json:"related_objects,omitempty"`
	Metadata       datatypes.JSON    `gorm:"column:metadata;type:jsonb" json:"metadata"`

	IsViolation        bool   `gorm:"column:is_violation;not null;default:false;index" json:"is_violation"`
	GuidelineReference string `gorm:"column:guideline_reference" json:"guideline_reference,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Event) TableName() string { return "events" }

func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if len(e.Metadata) == 0 {
		e.Metadata = datatypes.JSON([]byte(`{}`))
	}
	return e.Validate()
}

// CalculatedDuration is Duration when set, else EndTime-StartTime when EndTime is set, else 0.
func (e *Event) CalculatedDuration() float64 {
	if e == nil {
		return 0
	}
	if e.Duration != nil {
		return *e.Duration
	}
	if e.EndTime != nil {
		return *e.EndTime - e.StartTime
	}
	return 0
}

// Covers reports whether t falls inside the event span. Events without an end cover only their start.
func (e *Event) Covers(t float64) bool {
	if e == nil {
		return false
	}
	if e.EndTime == nil {
		return t == e.StartTime
	}
	return t >= e.StartTime && t <= *e.EndTime
}

func (e *Event) Validate() error {
	if e.EndTime != nil && !(*e.EndTime > e.StartTime) {
		return fmt.Errorf("event %q: end_time %.3f must be after start_time %.3f", e.EventType, *e.EndTime, e.StartTime)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("event %q: confidence %.3f outside [0,1]", e.EventType, e.Confidence)
	}
	if e.Severity != "" && !IsSeverity(e.Severity) {
		return fmt.Errorf("event %q: unknown severity %q", e.EventType, e.Severity)
	}
	return nil
}
