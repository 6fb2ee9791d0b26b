package analysis

import (
	"fmt"

	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/platform/blob"
	"github.com/yungbote/videoreview-backend/internal/platform/gcp"
)

// ModelClients are the Google Cloud clients the model detector may use. Either may be nil.
type ModelClients struct {
	Tracker   gcp.ObjectTracker
	Localizer gcp.ObjectLocalizer
}

// NewDetector builds the detector named by cfg.Detector.
func NewDetector(log *logger.Logger, cfg Config, store blob.Store, clients ModelClients) (Detector, error) {
	switch cfg.Detector {
	case "", DetectorMock:
		log.Info("analysis detector selected", "detector", DetectorMock, "seed", cfg.Seed)
		return NewSeededMockDetector(cfg.Seed), nil
	case DetectorModel:
		d, err := NewModelBackedDetector(log, store, clients.Tracker, clients.Localizer)
		if err != nil {
			return nil, err
		}
		log.Info("analysis detector selected",
			"detector", DetectorModel,
			"object_tracking", clients.Tracker != nil,
			"object_localization", clients.Localizer != nil,
		)
		return d, nil
	default:
		return nil, fmt.Errorf("unknown ANALYSIS_DETECTOR %q (want %s or %s)", cfg.Detector, DetectorMock, DetectorModel)
	}
}
