package analysis

import "github.com/google/uuid"

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

const (
	StageMetadata   = "metadata"
	StageSampling   = "frame_sampling"
	StageObjects    = "object_detection"
	StageEvents     = "event_classification"
	StageGuidelines = "guideline_check"
	StageSummary    = "summary"
	StagePurge      = "purge"
	StageLease      = "lease"
	StageFinalize   = "finalize"
)

// StageSkip records a requested stage that did not run.
type StageSkip struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Outcome is the result of one orchestrator run.
type Outcome struct {
	Status          string      `json:"status"`
	VideoID         uuid.UUID   `json:"video_id"`
	Generation      int         `json:"generation"`
	FramesProcessed int         `json:"frames_processed"`
	EventsDetected  int64       `json:"events_detected"`
	Error           string      `json:"error,omitempty"`
	Warnings        []string    `json:"warnings,omitempty"`
	SkippedStages   []StageSkip `json:"skipped_stages,omitempty"`
}

func (o *Outcome) OK() bool { return o != nil && o.Status == OutcomeSuccess }

func (o *Outcome) warn(msg string) { o.Warnings = append(o.Warnings, msg) }

func (o *Outcome) skip(stage, reason string) {
	o.SkippedStages = append(o.SkippedStages, StageSkip{Stage: stage, Reason: reason})
}

// Map flattens the outcome for job_run.result.
func (o *Outcome) Map() map[string]any {
	m := map[string]any{
		"status":           o.Status,
		"video_id":         o.VideoID.String(),
		"generation":       o.Generation,
		"frames_processed": o.FramesProcessed,
		"events_detected":  o.EventsDetected,
	}
	if o.Error != "" {
		m["error"] = o.Error
	}
	if len(o.Warnings) > 0 {
		m["warnings"] = o.Warnings
	}
	if len(o.SkippedStages) > 0 {
		m["skipped_stages"] = o.SkippedStages
	}
	return m
}
