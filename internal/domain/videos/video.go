package videos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	VideoStatusUploaded   = "uploaded"
	VideoStatusProcessing = "processing"
	VideoStatusCompleted  = "completed"
	VideoStatusFailed     = "failed"
)

// Video is one user-owned media asset and the resting place of the analysis state machine.
// Status moves uploaded -> processing -> completed|failed; processing may be re-entered from a
// terminal state for re-analysis, which bumps AnalysisGeneration.
type Video struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Title        string    `gorm:"column:title;not null" json:"title"`
	Description  string    `gorm:"column:description" json:"description,omitempty"`
	StorageKey   string    `gorm:"column:storage_key;not null" json:"storage_key"`
	OriginalName string    `gorm:"column:original_name" json:"original_name,omitempty"`

	DurationSeconds  *float64 `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	FileSize         *int64   `gorm:"column:file_size" json:"file_size,omitempty"`
	ResolutionWidth  *int     `gorm:"column:resolution_width" json:"resolution_width,omitempty"`
	ResolutionHeight *int     `gorm:"column:resolution_height" json:"resolution_height,omitempty"`
	FrameRate        *float64 `gorm:"column:frame_rate" json:"frame_rate,omitempty"`
	Format           *string  `gorm:"column:format" json:"format,omitempty"`

	Status                string     `gorm:"column:status;not null;index" json:"status"`
	ProcessingStartedAt   *time.Time `gorm:"column:processing_started_at" json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `gorm:"column:processing_completed_at" json:"processing_completed_at,omitempty"`
	ProcessingError       string     `gorm:"column:processing_error" json:"processing_error,omitempty"`

	AnalysisTypes datatypes.JSON `gorm:"column:analysis_types;type:jsonb" json:"analysis_types"`
	CustomRules   datatypes.JSON `gorm:"column:custom_rules;type:jsonb" json:"custom_rules"`

	AnalysisGeneration int        `gorm:"column:analysis_generation;not null;default:0" json:"analysis_generation"`
	LeaseToken         *uuid.UUID `gorm:"type:uuid;column:lease_token;index" json:"-"`
	LeaseExpiresAt     *time.Time `gorm:"column:lease_expires_at" json:"-"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Video) TableName() string { return "videos" }

func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Status == "" {
		v.Status = VideoStatusUploaded
	}
	if len(v.AnalysisTypes) == 0 {
		v.AnalysisTypes = datatypes.JSON([]byte(`[]`))
	}
	if len(v.CustomRules) == 0 {
		v.CustomRules = datatypes.JSON([]byte(`{}`))
	}
	return nil
}

// Duration returns the extracted duration in seconds, 0 when unknown.
func (v *Video) Duration() float64 {
	if v == nil || v.DurationSeconds == nil {
		return 0
	}
	return *v.DurationSeconds
}

// FPS returns the extracted frame rate, 0 when unknown.
func (v *Video) FPS() float64 {
	if v == nil || v.FrameRate == nil {
		return 0
	}
	return *v.FrameRate
}

// ProcessingDuration is nil unless both processing timestamps are set.
func (v *Video) ProcessingDuration() *time.Duration {
	if v == nil || v.ProcessingStartedAt == nil || v.ProcessingCompletedAt == nil {
		return nil
	}
	d := v.ProcessingCompletedAt.Sub(*v.ProcessingStartedAt)
	return &d
}

func (v *Video) IsTerminal() bool {
	return v != nil && (v.Status == VideoStatusCompleted || v.Status == VideoStatusFailed)
}
