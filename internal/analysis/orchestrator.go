package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/observability"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/platform/blob"
	"github.com/yungbote/videoreview-backend/internal/platform/localmedia"
)

var errLeaseLost = errors.New("analysis lease lost")

type Deps struct {
	Log      *logger.Logger
	Videos   repos.VideoRepo
	Frames   repos.FrameRepo
	Objects  repos.DetectedObjectRepo
	Events   repos.EventRepo
	Blob     blob.Store
	Media    localmedia.Tools
	Detector Detector
	Catalog  *Catalog
	Config   Config
}

// Orchestrator runs the analysis pipeline for one video under an exclusive lease.
type Orchestrator struct {
	log    *logger.Logger
	deps   Deps
	cfg    Config
	tracer trace.Tracer

	metadata   *MetadataExtractor
	sampler    *FrameSampler
	objects    *ObjectDetector
	classifier *EventClassifier
	checker    *GuidelineChecker
	summary    *SummaryGenerator
}

func New(deps Deps) (*Orchestrator, error) {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	switch {
	case deps.Videos == nil || deps.Frames == nil || deps.Objects == nil || deps.Events == nil:
		return nil, errors.New("analysis: repos required")
	case deps.Blob == nil:
		return nil, errors.New("analysis: blob store required")
	case deps.Media == nil:
		return nil, errors.New("analysis: media tools required")
	case deps.Detector == nil:
		return nil, errors.New("analysis: detector required")
	}
	if deps.Catalog == nil {
		c, err := LoadCatalog()
		if err != nil {
			return nil, err
		}
		deps.Catalog = c
	}
	cfg := deps.Config.withDefaults()
	log := deps.Log.With("service", "AnalysisOrchestrator", "detector", deps.Detector.Name())
	return &Orchestrator{
		log:        log,
		deps:       deps,
		cfg:        cfg,
		tracer:     otel.Tracer("videoreview/analysis"),
		metadata:   NewMetadataExtractor(log, deps.Media, deps.Videos),
		sampler:    NewFrameSampler(log, deps.Media, deps.Blob, deps.Frames, cfg),
		objects:    NewObjectDetector(log, deps.Detector, deps.Frames, deps.Objects),
		classifier: NewEventClassifier(log, deps.Detector, deps.Events, deps.Frames, deps.Objects),
		checker:    NewGuidelineChecker(log, deps.Detector, deps.Events, deps.Frames, deps.Objects),
		summary:    NewSummaryGenerator(log, deps.Events),
	}, nil
}

// Run analyses a video. It returns ErrNotFound for an unknown id and ErrLeaseHeld while another
// run owns the video; neither mutates state. Stage failures come back as an Outcome with status
// error and a nil error.
func (o *Orchestrator) Run(ctx context.Context, videoID uuid.UUID, cfg *RunConfig) (*Outcome, error) {
	dbc := dbctx.Context{Ctx: ctx}
	video, err := o.deps.Videos.GetByID(dbc, videoID)
	if err != nil {
		return nil, fmt.Errorf("load video: %w", err)
	}
	if video == nil {
		return nil, fmt.Errorf("video %s: %w", videoID, pkgerrors.ErrNotFound)
	}

	token := uuid.New()
	gen, ok, err := o.deps.Videos.AcquireLease(dbc, videoID, token, o.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, pkgerrors.ErrLeaseHeld)
	}
	now := time.Now().UTC()
	video.AnalysisGeneration = gen
	video.Status = types.VideoStatusProcessing
	video.ProcessingStartedAt = &now
	video.ProcessingCompletedAt = nil
	video.ProcessingError = ""

	log := o.log.With("video_id", videoID, "generation", gen)
	log.Info("analysis started")

	ctx, span := o.tracer.Start(ctx, "analysis.run", trace.WithAttributes(
		attribute.String("video.id", videoID.String()),
		attribute.Int("analysis.generation", gen),
	))
	defer span.End()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopRenew := o.renewLease(runCtx, cancel, log, videoID, token)

	out := &Outcome{VideoID: videoID, Generation: gen}
	runErr := o.runStages(runCtx, log, video, cfg, out)
	stopRenew()
	if cause := context.Cause(runCtx); runErr != nil && errors.Is(cause, errLeaseLost) {
		runErr = fmt.Errorf("%w: %v", errLeaseLost, runErr)
	}

	if rr, ok := o.deps.Detector.(runReleaser); ok {
		rr.Release(videoID.String(), gen)
	}

	finCtx := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	var held bool
	if runErr == nil {
		out.Status = OutcomeSuccess
		held, err = o.deps.Videos.CompleteUnderLease(finCtx, videoID, token)
	} else {
		out.Status = OutcomeError
		out.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		held, err = o.deps.Videos.FailUnderLease(finCtx, videoID, token, runErr.Error())
	}
	if err != nil {
		log.Error("analysis finalize failed", "error", err)
		return out, fmt.Errorf("finalize analysis: %w", err)
	}
	if !held {
		out.warn("analysis lease was lost before finalize; terminal status not written")
	}
	observability.Current().ObserveAnalysisRun(out.Status, out.FramesProcessed, out.EventsDetected)
	log.Info("analysis finished",
		"status", out.Status,
		"frames", out.FramesProcessed,
		"events", out.EventsDetected,
		"warnings", len(out.Warnings),
		"skipped", len(out.SkippedStages),
	)
	return out, nil
}

// renewLease extends the lease every TTL/3 and cancels the run if it is lost.
func (o *Orchestrator) renewLease(ctx context.Context, cancel context.CancelCauseFunc, log *logger.Logger, videoID uuid.UUID, token uuid.UUID) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	interval := o.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		defer close(stopped)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				ok, err := o.deps.Videos.RenewLease(dbctx.Context{Ctx: ctx}, videoID, token, o.cfg.LeaseTTL)
				if err != nil {
					log.Warn("lease renew failed", "error", err)
					continue
				}
				if !ok {
					log.Warn("lease lost, cancelling run")
					cancel(errLeaseLost)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (o *Orchestrator) runStages(ctx context.Context, log *logger.Logger, video *types.Video, cfg *RunConfig, out *Outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	path, cleanup, err := o.materialize(ctx, video)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("%s: %w", StageMetadata, context.Cause(ctx))
		}
		log.Warn("source video unavailable", "error", err)
		out.warn(fmt.Sprintf("source video unavailable, metadata and sampling skipped: %v", err))
		path = ""
	}
	defer cleanup()

	if cfg != nil && cfg.PurgePrevious {
		if err := o.stage(ctx, StagePurge, func(ctx context.Context) error { return o.purge(ctx, video) }); err != nil {
			return err
		}
	}

	var frames []*types.Frame
	if path != "" {
		_ = o.stage(ctx, StageMetadata, func(ctx context.Context) error {
			if !o.metadata.Extract(ctx, video, path) {
				out.warn("metadata extraction failed; duration and frame rate unknown")
			}
			return nil
		})
		_ = o.stage(ctx, StageSampling, func(ctx context.Context) error {
			frames = o.sampler.Sample(ctx, video, path, o.cfg.FrameIntervalSeconds)
			return nil
		})
	}
	out.FramesProcessed = len(frames)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", StageSampling, context.Cause(ctx))
	}

	requested, warnings := o.effectiveTypes(video, cfg)
	for _, w := range warnings {
		out.warn(w)
	}
	run, warnings := resolveTypes(requested)
	for _, w := range warnings {
		out.warn(w)
	}

	duration := video.Duration()
	if run[TypeObjectDetection] {
		if err := o.stage(ctx, StageObjects, func(ctx context.Context) error {
			_, err := o.objects.Detect(ctx, video, frames)
			return err
		}); err != nil {
			return err
		}
	}
	if run[TypeEventClassification] {
		if duration <= MinEventClassificationDuration {
			out.skip(StageEvents, fmt.Sprintf("video duration %.2fs is not above %.0fs", duration, MinEventClassificationDuration))
		} else if err := o.stage(ctx, StageEvents, func(ctx context.Context) error {
			_, err := o.classifier.Classify(ctx, video)
			return err
		}); err != nil {
			return err
		}
	}
	if run[TypeGuidelineAdherence] {
		if duration <= MinGuidelineCheckDuration {
			out.skip(StageGuidelines, fmt.Sprintf("video duration %.2fs is not above %.0fs", duration, MinGuidelineCheckDuration))
		} else {
			rules, ruleWarnings := o.deps.Catalog.RulesFor(video.CustomRules)
			for _, w := range ruleWarnings {
				out.warn(w)
			}
			if err := o.stage(ctx, StageGuidelines, func(ctx context.Context) error {
				return o.checker.Check(ctx, video, rules)
			}); err != nil {
				return err
			}
		}
	}

	return o.stage(ctx, StageSummary, func(ctx context.Context) error {
		if _, _, err := o.summary.Summarize(ctx, video); err != nil {
			return err
		}
		gen := video.AnalysisGeneration
		counts, err := o.deps.Events.Counts(dbctx.Context{Ctx: ctx}, repos.EventFilter{VideoID: video.ID, Generation: &gen})
		if err != nil {
			return fmt.Errorf("count events: %w", err)
		}
		out.EventsDetected = counts.Total
		return nil
	})
}

// stage wraps fn in a span and prefixes its error with the stage name.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "analysis."+name)
	defer span.End()
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("%s: %w", name, context.Cause(ctx))
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	start := time.Now()
	if err := fn(ctx); err != nil {
		observability.Current().ObserveAnalysisStage(name, "error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", name, err)
	}
	observability.Current().ObserveAnalysisStage(name, "ok", time.Since(start))
	return nil
}

// effectiveTypes prefers the per-run override and falls back to the stored list.
func (o *Orchestrator) effectiveTypes(video *types.Video, cfg *RunConfig) ([]string, []string) {
	if cfg != nil {
		return cfg.AnalysisTypes, nil
	}
	raw := strings.TrimSpace(string(video.AnalysisTypes))
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var stored []string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, []string{fmt.Sprintf("ignored malformed stored analysis types: %v", err)}
	}
	return stored, nil
}

// materialize returns a local path to the source video.
func (o *Orchestrator) materialize(ctx context.Context, video *types.Video) (string, func(), error) {
	if p, ok := blob.LocalPath(o.deps.Blob, video.StorageKey); ok {
		return p, func() {}, nil
	}
	rc, err := o.deps.Blob.Open(ctx, video.StorageKey)
	if err != nil {
		return "", func() {}, fmt.Errorf("open source video: %w", err)
	}
	defer func(c io.Closer) { _ = c.Close() }(rc)
	path, cleanup, err := o.deps.Media.WriteTempFile(ctx, rc, filepath.Ext(video.StorageKey))
	if err != nil {
		return "", func() {}, fmt.Errorf("stage source video: %w", err)
	}
	return path, cleanup, nil
}

// purge drops rows and frame images of generations older than the current one.
func (o *Orchestrator) purge(ctx context.Context, video *types.Video) error {
	dbc := dbctx.Context{Ctx: ctx}
	gen := video.AnalysisGeneration
	if err := o.deps.Events.DeleteBeforeGeneration(dbc, video.ID, gen); err != nil {
		return fmt.Errorf("purge events: %w", err)
	}
	if err := o.deps.Frames.DeleteBeforeGeneration(dbc, video.ID, gen); err != nil {
		return fmt.Errorf("purge frames: %w", err)
	}
	for g := 1; g < gen; g++ {
		if err := o.deps.Blob.DeletePrefix(ctx, blob.FramePrefix(video.ID.String(), g)); err != nil {
			return fmt.Errorf("purge frame images g%d: %w", g, err)
		}
	}
	return nil
}
