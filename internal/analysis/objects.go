package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

// ObjectDetector runs the detector over sampled frames and stores what it finds.
type ObjectDetector struct {
	log      *logger.Logger
	detector Detector
	frames   repos.FrameRepo
	objects  repos.DetectedObjectRepo
}

func NewObjectDetector(log *logger.Logger, detector Detector, frames repos.FrameRepo, objects repos.DetectedObjectRepo) *ObjectDetector {
	return &ObjectDetector{
		log:      log.With("stage", StageObjects),
		detector: detector,
		frames:   frames,
		objects:  objects,
	}
}

// Detect returns the number of objects stored. A failure aborts on the frame it happened.
func (o *ObjectDetector) Detect(ctx context.Context, video *types.Video, frames []*types.Frame) (int, error) {
	dbc := dbctx.Context{Ctx: ctx}
	total := 0
	for _, f := range frames {
		dets, err := o.detector.DetectObjects(ctx, video, f)
		if err != nil {
			return total, fmt.Errorf("%s detect objects (frame %d): %w", o.detector.Name(), f.FrameNumber, err)
		}
		if len(dets) == 0 {
			continue
		}
		rows := make([]*types.DetectedObject, 0, len(dets))
		for _, d := range dets {
			row, err := objectRow(f.ID, normalizeBox(d))
			if err != nil {
				return total, err
			}
			rows = append(rows, row)
		}
		if _, err := o.objects.Create(dbc, rows); err != nil {
			return total, fmt.Errorf("store objects (frame %d): %w", f.FrameNumber, err)
		}
		if err := o.frames.SetHasObjects(dbc, f.ID, true); err != nil {
			return total, fmt.Errorf("flag frame %d: %w", f.FrameNumber, err)
		}
		f.HasObjects = true
		total += len(rows)
	}
	o.log.Debug("objects detected", "video_id", video.ID, "generation", video.AnalysisGeneration, "frames", len(frames), "objects", total)
	return total, nil
}

func objectRow(frameID uuid.UUID, d ObjectDetection) (*types.DetectedObject, error) {
	attrs := datatypes.JSON([]byte(`{}`))
	if len(d.Attributes) > 0 {
		b, err := json.Marshal(d.Attributes)
		if err != nil {
			return nil, fmt.Errorf("marshal object attributes: %w", err)
		}
		attrs = datatypes.JSON(b)
	}
	row := &types.DetectedObject{
		ID:         uuid.New(),
		FrameID:    frameID,
		ClassName:  d.ClassName,
		Confidence: d.Confidence,
		BBoxX:      d.X,
		BBoxY:      d.Y,
		BBoxWidth:  d.Width,
		BBoxHeight: d.Height,
		Attributes: attrs,
	}
	if d.TrackID != "" {
		id := d.TrackID
		row.TrackID = &id
	}
	return row, nil
}
