package video_analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/videoreview-backend/internal/analysis"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	jobrt "github.com/yungbote/videoreview-backend/internal/jobs/runtime"
	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

const JobType = types.JobTypeVideoAnalyze

// Analyzer is satisfied by *analysis.Orchestrator.
type Analyzer interface {
	Run(ctx context.Context, videoID uuid.UUID, cfg *analysis.RunConfig) (*analysis.Outcome, error)
}

type Pipeline struct {
	log      *logger.Logger
	analyzer Analyzer
}

func New(baseLog *logger.Logger, analyzer Analyzer) *Pipeline {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &Pipeline{log: baseLog.With("job", JobType), analyzer: analyzer}
}

func (p *Pipeline) Type() string { return JobType }

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	videoID, ok := jc.PayloadUUID("video_id")
	if !ok {
		jc.FailPermanent("validate", fmt.Errorf("missing video_id"))
		return nil
	}

	var cfg *analysis.RunConfig
	var rc analysis.RunConfig
	found, err := jc.DecodePayloadKey("analysis_config", &rc)
	if err != nil {
		jc.FailPermanent("validate", fmt.Errorf("decode analysis_config: %w", err))
		return nil
	}
	if found {
		cfg = &rc
	}

	jc.Progress("analysis", 5, "Analyzing video")
	out, err := p.analyzer.Run(jc.Ctx, videoID, cfg)
	switch {
	case errors.Is(err, pkgerrors.ErrLeaseHeld):
		jc.FailPermanent("lease", err)
		return nil
	case errors.Is(err, pkgerrors.ErrNotFound):
		jc.FailPermanent("load", err)
		return nil
	case err != nil:
		jc.Fail("analysis", err)
		return nil
	}

	if !out.OK() {
		if uerr := jc.Update(map[string]any{"result": resultJSON(out)}); uerr != nil {
			p.log.Warn("store analysis result failed", "job_id", jc.Job.ID, "error", uerr)
		}
		// The video row is already failed; retrying would start a new generation.
		jc.FailPermanent("analysis", errors.New(out.Error))
		return nil
	}

	p.log.Info("analysis finished",
		"video_id", videoID,
		"generation", out.Generation,
		"frames", out.FramesProcessed,
		"events", out.EventsDetected,
		"warnings", len(out.Warnings),
	)
	jc.Succeed("done", out.Map())
	return nil
}

func resultJSON(out *analysis.Outcome) datatypes.JSON {
	b, err := json.Marshal(out.Map())
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(b)
}
