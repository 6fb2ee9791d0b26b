package videos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Frame is one sampled instant of a video. (video_id, generation, frame_number) is unique, so a
// re-analysis appends a fresh set under its own generation.
type Frame struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	VideoID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_frame_video_gen_number,priority:1;index" json:"video_id"`
	Generation  int       `gorm:"column:generation;not null;uniqueIndex:idx_frame_video_gen_number,priority:2" json:"generation"`
	FrameNumber int       `gorm:"column:frame_number;not null;uniqueIndex:idx_frame_video_gen_number,priority:3" json:"frame_number"`
	Timestamp   float64   `gorm:"column:timestamp;not null;index" json:"timestamp"`
	ImageKey    string    `gorm:"column:image_key" json:"image_key"`
	Width       int       `gorm:"column:width;not null" json:"width"`
	Height      int       `gorm:"column:height;not null" json:"height"`
	FileSize    int64     `gorm:"column:file_size;not null" json:"file_size"`
	HasObjects  bool      `gorm:"column:has_objects;not null;default:false" json:"has_objects"`
	HasEvents   bool      `gorm:"column:has_events;not null;default:false" json:"has_events"`
	IsKeyframe  bool      `gorm:"column:is_keyframe;not null;default:false" json:"is_keyframe"`

	Objects []*DetectedObject `gorm:"foreignKey:FrameID;constraint:OnDelete:CASCADE" json:"objects,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Frame) TableName() string { return "video_frames" }

func (f *Frame) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
