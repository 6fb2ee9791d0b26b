package videos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DetectedObject is one object instance within a frame. Bounding box values are normalized to
// the frame, each in [0,1].
type DetectedObject struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	FrameID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"frame_id"`
	ClassName  string         `gorm:"column:class_name;not null;index" json:"class_name"`
	Confidence float64        `gorm:"column:confidence;not null" json:"confidence"`
	BBoxX      float64        `gorm:"column:bbox_x;not null" json:"bbox_x"`
	BBoxY      float64        `gorm:"column:bbox_y;not null" json:"bbox_y"`
	BBoxWidth  float64        `gorm:"column:bbox_width;not null" json:"bbox_width"`
	BBoxHeight float64        `gorm:"column:bbox_height;not null" json:"bbox_height"`
	TrackID    *string        `gorm:"column:track_id;index" json:"track_id,omitempty"`
	Attributes datatypes.JSON `gorm:"column:attributes;type:jsonb" json:"attributes"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
}

func (DetectedObject) TableName() string { return "detected_objects" }

func (o *DetectedObject) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if len(o.Attributes) == 0 {
		o.Attributes = datatypes.JSON([]byte(`{}`))
	}
	return nil
}
