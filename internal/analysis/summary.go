package analysis

import (
	"context"
	"fmt"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

const (
	summaryEventType   = "summary"
	summaryDetectedBy  = "summary_generator"
	summaryTitleFormat = "Analysis Complete: %d Violations Found"
	summaryDescFormat  = "Video analysis completed. Found %d total events, including %d violations."
)

// SummaryGenerator adds one closing event when the current generation has violations.
type SummaryGenerator struct {
	log    *logger.Logger
	events repos.EventRepo
}

func NewSummaryGenerator(log *logger.Logger, events repos.EventRepo) *SummaryGenerator {
	return &SummaryGenerator{log: log.With("stage", StageSummary), events: events}
}

// Summarize returns the counts it observed before writing the summary event.
func (s *SummaryGenerator) Summarize(ctx context.Context, video *types.Video) (repos.EventCounts, bool, error) {
	gen := video.AnalysisGeneration
	counts, err := s.events.Counts(dbctx.Context{Ctx: ctx}, repos.EventFilter{VideoID: video.ID, Generation: &gen})
	if err != nil {
		return counts, false, fmt.Errorf("count events: %w", err)
	}
	if counts.Violations == 0 {
		return counts, false, nil
	}
	d := EventDetection{
		EventType:   summaryEventType,
		Title:       fmt.Sprintf(summaryTitleFormat, counts.Violations),
		Description: fmt.Sprintf(summaryDescFormat, counts.Total, counts.Violations),
		Severity:    types.SeverityWarning,
		StartTime:   0,
		Confidence:  1.0,
		DetectedBy:  summaryDetectedBy,
		Metadata: map[string]any{
			"total_events": counts.Total,
			"violations":   counts.Violations,
		},
	}
	if dur := video.Duration(); dur > 0 {
		d.EndTime = &dur
	}
	if _, err := persistEvent(ctx, s.events, nil, nil, video, d); err != nil {
		return counts, false, err
	}
	s.log.Debug("summary written", "video_id", video.ID, "generation", gen, "violations", counts.Violations)
	return counts, true, nil
}
