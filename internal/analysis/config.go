package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/videoreview-backend/internal/pkg/envutil"
	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
)

const (
	TypeObjectDetection     = "object_detection"
	TypeActivityRecognition = "activity_recognition"
	TypeEventClassification = "event_classification"
	TypeGuidelineAdherence  = "guideline_adherence"
	TypeAnomalyDetection    = "anomaly_detection"
)

// AcceptedTypes is the vocabulary accepted at the API boundary.
var AcceptedTypes = []string{
	TypeObjectDetection,
	TypeActivityRecognition,
	TypeEventClassification,
	TypeGuidelineAdherence,
	TypeAnomalyDetection,
}

// implementedTypes run a stage; the rest of AcceptedTypes produce a warning.
var implementedTypes = map[string]bool{
	TypeObjectDetection:     true,
	TypeEventClassification: true,
	TypeGuidelineAdherence:  true,
}

const (
	DetectorMock  = "mock"
	DetectorModel = "model"
)

// Minimum video durations (seconds) below which a stage is skipped.
const (
	MinEventClassificationDuration = 5.0
	MinGuidelineCheckDuration      = 2.0
)

// Config is process-level analysis configuration read from the environment.
type Config struct {
	FrameIntervalSeconds float64
	FrameMaxWidth        int
	MaxFrames            int
	JPEGQuality          int
	LeaseTTL             time.Duration
	Detector             string
	Seed                 int64
}

func ConfigFromEnv() Config {
	return Config{
		FrameIntervalSeconds: envutil.Float("ANALYSIS_FRAME_INTERVAL_SECONDS", 1.0),
		FrameMaxWidth:        envutil.Int("ANALYSIS_FRAME_MAX_WIDTH", 1280),
		MaxFrames:            envutil.Int("ANALYSIS_MAX_FRAMES", 0),
		JPEGQuality:          envutil.Int("ANALYSIS_JPEG_QUALITY", 85),
		LeaseTTL:             envutil.Seconds("ANALYSIS_LEASE_TTL_SECONDS", 30*time.Minute),
		Detector:             strings.ToLower(envutil.String("ANALYSIS_DETECTOR", DetectorMock)),
		Seed:                 envutil.Int64("ANALYSIS_SEED", 0),
	}
}

func (c Config) withDefaults() Config {
	if c.FrameIntervalSeconds <= 0 {
		c.FrameIntervalSeconds = 1.0
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 85
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Minute
	}
	if c.MaxFrames < 0 {
		c.MaxFrames = 0
	}
	return c
}

// RunConfig overrides a video's stored analysis settings for one run. A nil *RunConfig means
// "use what is stored on the video".
type RunConfig struct {
	AnalysisTypes []string `json:"analysis_types"`
	// PurgePrevious drops frames, objects and events of earlier generations before sampling.
	PurgePrevious bool `json:"purge_previous,omitempty"`
}

// ValidateTypes rejects values outside AcceptedTypes.
func ValidateTypes(types []string) error {
	for _, t := range types {
		if !isAccepted(t) {
			return fmt.Errorf("%w: unknown analysis type %q (accepted: %s)", pkgerrors.ErrInvalidArgument, t, strings.Join(AcceptedTypes, ", "))
		}
	}
	return nil
}

func isAccepted(t string) bool {
	for _, a := range AcceptedTypes {
		if a == t {
			return true
		}
	}
	return false
}

// resolveTypes dedupes requested types in order and splits them into runnable stages and warnings.
func resolveTypes(requested []string) (run map[string]bool, warnings []string) {
	run = map[string]bool{}
	seen := map[string]bool{}
	for _, raw := range requested {
		t := strings.TrimSpace(raw)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if implementedTypes[t] {
			run[t] = true
			continue
		}
		if isAccepted(t) {
			warnings = append(warnings, fmt.Sprintf("unsupported analysis type %q: accepted but not implemented", t))
		} else {
			warnings = append(warnings, fmt.Sprintf("unsupported analysis type %q: unknown", t))
		}
	}
	return run, warnings
}
