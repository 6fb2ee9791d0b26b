package analysis

import (
	"context"
	"fmt"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

type EventClassifier struct {
	log      *logger.Logger
	detector Detector
	events   repos.EventRepo
	frames   repos.FrameRepo
	objects  repos.DetectedObjectRepo
}

func NewEventClassifier(log *logger.Logger, detector Detector, events repos.EventRepo, frames repos.FrameRepo, objects repos.DetectedObjectRepo) *EventClassifier {
	return &EventClassifier{
		log:      log.With("stage", StageEvents),
		detector: detector,
		events:   events,
		frames:   frames,
		objects:  objects,
	}
}

// Classify stores non-violation events for the current generation and returns how many.
func (c *EventClassifier) Classify(ctx context.Context, video *types.Video) (int, error) {
	dets, err := c.detector.ClassifyEvents(ctx, video)
	if err != nil {
		return 0, fmt.Errorf("%s classify events: %w", c.detector.Name(), err)
	}
	n := 0
	for _, d := range dets {
		d.IsViolation = false
		d.GuidelineReference = ""
		if d.Severity == "" {
			d.Severity = types.SeverityInfo
		}
		if _, err := persistEvent(ctx, c.events, c.frames, c.objects, video, d); err != nil {
			return n, err
		}
		n++
	}
	c.log.Debug("events classified", "video_id", video.ID, "generation", video.AnalysisGeneration, "events", n)
	return n, nil
}
