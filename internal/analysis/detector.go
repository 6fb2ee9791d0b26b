package analysis

import (
	"context"

	types "github.com/yungbote/videoreview-backend/internal/domain"
)

// Detector is the pluggable model behind the object, event and guideline stages.
// Implementations must be safe for concurrent use across videos.
type Detector interface {
	Name() string
	DetectObjects(ctx context.Context, video *types.Video, frame *types.Frame) ([]ObjectDetection, error)
	ClassifyEvents(ctx context.Context, video *types.Video) ([]EventDetection, error)
	CheckGuidelines(ctx context.Context, video *types.Video, rules []GuidelineRule, events []*types.Event) ([]EventDetection, error)
}

// runReleaser is implemented by detectors that cache per-run state.
type runReleaser interface {
	Release(videoID string, generation int)
}

// ObjectDetection uses normalized coordinates; X, Y is the top-left corner.
type ObjectDetection struct {
	ClassName  string
	Confidence float64
	X          float64
	Y          float64
	Width      float64
	Height     float64
	TrackID    string
	Attributes map[string]any
}

type EventDetection struct {
	EventType   string
	Title       string
	Description string
	Severity    string
	StartTime   float64
	EndTime     *float64
	LocationX   *float64
	LocationY   *float64
	Confidence  float64
	DetectedBy  string

	IsViolation        bool
	GuidelineReference string

	// TrackIDs link the event to detected objects of the same generation.
	TrackIDs []string
	Metadata map[string]any
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// normalizeBox clamps a detection into the unit square, shrinking width/height so the box stays inside.
func normalizeBox(d ObjectDetection) ObjectDetection {
	d.Confidence = clamp01(d.Confidence)
	d.X = clamp01(d.X)
	d.Y = clamp01(d.Y)
	d.Width = clamp01(d.Width)
	d.Height = clamp01(d.Height)
	if d.X+d.Width > 1 {
		d.Width = 1 - d.X
	}
	if d.Y+d.Height > 1 {
		d.Height = 1 - d.Y
	}
	return d
}
