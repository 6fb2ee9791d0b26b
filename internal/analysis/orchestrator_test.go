package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	"github.com/yungbote/videoreview-backend/internal/data/repos/testutil"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/platform/blob"
)

func reload(t *testing.T, h *harness, id uuid.UUID) *types.Video {
	t.Helper()
	v, err := h.videos.GetByID(dbctx.Context{Ctx: context.Background()}, id)
	require.NoError(t, err)
	require.NotNil(t, v)
	return v
}

func listEvents(t *testing.T, h *harness, videoID uuid.UUID, gen *int) []*types.Event {
	t.Helper()
	evs, err := h.events.List(dbctx.Context{Ctx: context.Background()}, repos.EventFilter{VideoID: videoID, Generation: gen})
	require.NoError(t, err)
	return evs
}

func requireTerminalTimestamps(t *testing.T, v *types.Video) {
	t.Helper()
	require.NotNil(t, v.ProcessingStartedAt)
	require.NotNil(t, v.ProcessingCompletedAt)
	assert.False(t, v.ProcessingCompletedAt.Before(*v.ProcessingStartedAt))
	assert.Nil(t, v.LeaseToken)
}

func requireFailedTimestamps(t *testing.T, v *types.Video) {
	t.Helper()
	require.NotNil(t, v.ProcessingStartedAt)
	assert.Nil(t, v.ProcessingCompletedAt)
	assert.Nil(t, v.LeaseToken)
}

func TestRunObjectDetectionOnly(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(60, 30)})
	v := h.seedVideo(t, `["object_detection"]`)

	out, err := h.orchestrator(t, NewSeededMockDetector(42)).Run(context.Background(), v.ID, nil)
	require.NoError(t, err)
	require.True(t, out.OK(), "error=%s", out.Error)
	assert.Equal(t, 1, out.Generation)
	assert.Equal(t, 60, out.FramesProcessed)
	assert.EqualValues(t, 0, out.EventsDetected)
	assert.Empty(t, out.Warnings)
	assert.Empty(t, out.SkippedStages)

	got := reload(t, h, v.ID)
	assert.Equal(t, types.VideoStatusCompleted, got.Status)
	assert.Empty(t, got.ProcessingError)
	assert.InDelta(t, 60.0, got.Duration(), 1e-9)
	assert.InDelta(t, 30.0, got.FPS(), 1e-9)
	requireTerminalTimestamps(t, got)

	gen := 1
	frames, err := h.frames.ListByVideo(dbctx.Context{Ctx: context.Background()}, v.ID, &gen)
	require.NoError(t, err)
	require.Len(t, frames, 60)
	for i, f := range frames {
		assert.InDelta(t, float64(i), f.Timestamp, 1e-9)
		assert.Equal(t, i*30, f.FrameNumber)
		assert.Equal(t, i == 0, f.IsKeyframe)
		assert.Positive(t, f.FileSize)

		objs, err := h.objects.ListByFrame(dbctx.Context{Ctx: context.Background()}, f.ID)
		require.NoError(t, err)
		assert.Equal(t, len(objs) > 0, f.HasObjects)
		for _, o := range objs {
			assert.GreaterOrEqual(t, o.Confidence, 0.0)
			assert.LessOrEqual(t, o.Confidence, 1.0)
			for _, c := range []float64{o.BBoxX, o.BBoxY, o.BBoxWidth, o.BBoxHeight} {
				assert.GreaterOrEqual(t, c, 0.0)
				assert.LessOrEqual(t, c, 1.0)
			}
		}
	}
	assert.Empty(t, listEvents(t, h, v.ID, nil))
}

func TestRunMetadataFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, &fakeMedia{infoErr: errors.New("moov atom not found")})
	v := h.seedVideo(t, `["object_detection","event_classification","guideline_adherence"]`)

	out, err := h.orchestrator(t, NewSeededMockDetector(1)).Run(context.Background(), v.ID, nil)
	require.NoError(t, err)
	require.True(t, out.OK(), "error=%s", out.Error)
	assert.Zero(t, out.FramesProcessed)

	got := reload(t, h, v.ID)
	assert.Equal(t, types.VideoStatusCompleted, got.Status)
	assert.Nil(t, got.DurationSeconds)
	requireTerminalTimestamps(t, got)

	stages := map[string]bool{}
	for _, s := range out.SkippedStages {
		stages[s.Stage] = true
	}
	assert.True(t, stages[StageEvents])
	assert.True(t, stages[StageGuidelines])
}

func TestRunMissingSourceVideoStillCompletes(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(60, 30)})
	v := testutil.SeedVideo(t, context.Background(), h.db, uuid.New(), `["object_detection","event_classification"]`)

	out, err := h.orchestrator(t, NewSeededMockDetector(5)).Run(context.Background(), v.ID, nil)
	require.NoError(t, err)
	require.True(t, out.OK(), "error=%s", out.Error)
	assert.Zero(t, out.FramesProcessed)
	require.NotEmpty(t, out.Warnings)
	assert.Contains(t, out.Warnings[0], "source video unavailable")
	require.Len(t, out.SkippedStages, 1)
	assert.Equal(t, StageEvents, out.SkippedStages[0].Stage)

	got := reload(t, h, v.ID)
	assert.Equal(t, types.VideoStatusCompleted, got.Status)
	assert.Empty(t, got.ProcessingError)
	assert.Nil(t, got.DurationSeconds)
	requireTerminalTimestamps(t, got)
}

func TestRunShortVideoSkipsEventClassification(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(3, 30)})
	v := h.seedVideo(t, `["event_classification","guideline_adherence"]`)

	out, err := h.orchestrator(t, NewSeededMockDetector(3)).Run(context.Background(), v.ID, nil)
	require.NoError(t, err)
	require.True(t, out.OK(), "error=%s", out.Error)
	assert.Equal(t, 3, out.FramesProcessed)

	require.Len(t, out.SkippedStages, 1)
	assert.Equal(t, StageEvents, out.SkippedStages[0].Stage)
	assert.Contains(t, out.SkippedStages[0].Reason, "5s")

	for _, ev := range listEvents(t, h, v.ID, nil) {
		if ev.EventType == summaryEventType {
			continue
		}
		assert.True(t, ev.IsViolation, "only the guideline stage ran, got %s", ev.EventType)
	}
	assert.Equal(t, types.VideoStatusCompleted, reload(t, h, v.ID).Status)
}

func TestRunVeryShortVideoSkipsBothTimedStages(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(1.5, 30)})
	v := h.seedVideo(t, `["event_classification","guideline_adherence"]`)

	out, err := h.orchestrator(t, NewSeededMockDetector(3)).Run(context.Background(), v.ID, nil)
	require.NoError(t, err)
	require.True(t, out.OK())
	require.Len(t, out.SkippedStages, 2)
	assert.Equal(t, StageEvents, out.SkippedStages[0].Stage)
	assert.Equal(t, StageGuidelines, out.SkippedStages[1].Stage)
	assert.Empty(t, listEvents(t, h, v.ID, nil))
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(10, 10)})
	v := h.seedVideo(t, `["object_detection"]`)
	det := newBlockingDetector()
	o := h.orchestrator(t, det)

	type result struct {
		out *Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := o.Run(context.Background(), v.ID, nil)
		done <- result{out, err}
	}()

	select {
	case <-det.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("first run never reached object detection")
	}

	_, err := o.Run(context.Background(), v.ID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrLeaseHeld))

	mid := reload(t, h, v.ID)
	assert.Equal(t, types.VideoStatusProcessing, mid.Status)
	assert.Equal(t, 1, mid.AnalysisGeneration)

	close(det.release)
	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.out.OK(), "error=%s", res.out.Error)

	got := reload(t, h, v.ID)
	assert.Equal(t, types.VideoStatusCompleted, got.Status)
	assert.Equal(t, 1, got.AnalysisGeneration)
	frames, err := h.frames.ListByVideo(dbctx.Context{Ctx: context.Background()}, v.ID, nil)
	require.NoError(t, err)
	assert.Len(t, frames, 10)
}

func TestRunUnsupportedTypesAreReported(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(4, 5)})
	v := h.seedVideo(t, `[]`)

	out, err := h.orchestrator(t, NewSeededMockDetector(9)).Run(context.Background(), v.ID, &RunConfig{
		AnalysisTypes: []string{"activity_recognition", "object_detection", "object_detection", "lane_keeping", "anomaly_detection"},
	})
	require.NoError(t, err)
	require.True(t, out.OK())
	require.Len(t, out.Warnings, 3)
	for _, w := range out.Warnings {
		assert.True(t, strings.HasPrefix(w, "unsupported analysis type"), w)
	}
	assert.Contains(t, out.Warnings[1], "lane_keeping")
	assert.Contains(t, out.Warnings[1], "unknown")
}

func TestRunMalformedStoredTypesWarns(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(4, 5)})
	v := h.seedVideo(t, `["object_detection"]`)
	require.NoError(t, h.db.Model(&types.Video{}).Where("id = ?", v.ID).
		Update("analysis_types", datatypes.JSON([]byte(`{"oops":1}`))).Error)

	out, err := h.orchestrator(t, NewSeededMockDetector(9)).Run(context.Background(), v.ID, nil)
	require.NoError(t, err)
	require.True(t, out.OK())
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "malformed")
}

func TestRunFullPipelineSummaryOnlyWithViolations(t *testing.T) {
	all := `["object_detection","event_classification","guideline_adherence"]`
	sawSummary := false
	for seed := int64(1); seed <= 8; seed++ {
		h := newHarness(t, &fakeMedia{info: mediaFor(30, 10)})
		v := h.seedVideo(t, all)

		out, err := h.orchestrator(t, NewSeededMockDetector(seed)).Run(context.Background(), v.ID, nil)
		require.NoError(t, err)
		require.True(t, out.OK(), "seed %d: %s", seed, out.Error)

		evs := listEvents(t, h, v.ID, nil)
		assert.EqualValues(t, len(evs), out.EventsDetected)

		var violations, summaries, classified int
		for _, ev := range evs {
			assert.Equal(t, 1, ev.Generation)
			if ev.EndTime != nil {
				assert.Greater(t, *ev.EndTime, ev.StartTime)
			}
			assert.GreaterOrEqual(t, ev.Confidence, 0.0)
			assert.LessOrEqual(t, ev.Confidence, 1.0)
			switch {
			case ev.EventType == summaryEventType:
				summaries++
				assert.Equal(t, summaryDetectedBy, ev.DetectedBy)
				assert.Equal(t, types.SeverityWarning, ev.Severity)
				require.NotNil(t, ev.EndTime)
				assert.InDelta(t, 30.0, *ev.EndTime, 1e-9)
			case ev.IsViolation:
				violations++
				assert.NotEmpty(t, ev.GuidelineReference)
			default:
				classified++
			}
		}
		assert.GreaterOrEqual(t, classified, 2)
		assert.LessOrEqual(t, classified, 8)
		assert.LessOrEqual(t, violations, 3)
		if violations > 0 {
			require.Equal(t, 1, summaries, "seed %d", seed)
			sawSummary = true
		} else {
			assert.Zero(t, summaries, "seed %d", seed)
		}
	}
	assert.True(t, sawSummary, "no seed produced a violation")
}

func TestRunWithoutViolationsWritesNoSummary(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(20, 10)})
	v := h.seedVideo(t, `["event_classification"]`)
	ctx := context.Background()

	o := h.orchestrator(t, NewSeededMockDetector(5))
	out, err := o.Run(ctx, v.ID, nil)
	require.NoError(t, err)
	require.True(t, out.OK())

	gen := out.Generation
	counts, err := h.events.Counts(dbctx.Context{Ctx: ctx}, repos.EventFilter{VideoID: v.ID, Generation: &gen})
	require.NoError(t, err)
	assert.Zero(t, counts.Violations)
	for _, ev := range listEvents(t, h, v.ID, &gen) {
		assert.NotEqual(t, summaryEventType, ev.EventType)
	}
}

func TestRunStageErrorFailsVideoAndKeepsPartialData(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(10, 10)})
	v := h.seedVideo(t, `["object_detection"]`)
	det := &failingDetector{MockDetector: NewSeededMockDetector(11), failAt: 4}

	out, err := h.orchestrator(t, det).Run(context.Background(), v.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, out.Status)
	assert.Contains(t, out.Error, StageObjects)
	assert.Contains(t, out.Error, "model unavailable")
	assert.Equal(t, 10, out.FramesProcessed)

	got := reload(t, h, v.ID)
	assert.Equal(t, types.VideoStatusFailed, got.Status)
	assert.NotEmpty(t, got.ProcessingError)
	requireFailedTimestamps(t, got)

	frames, err := h.frames.ListByVideo(dbctx.Context{Ctx: context.Background()}, v.ID, nil)
	require.NoError(t, err)
	assert.Len(t, frames, 10)
}

func TestRunPartialSamplingStillCompletes(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(10, 10), extractErrAfter: 4})
	v := h.seedVideo(t, `["object_detection"]`)

	out, err := h.orchestrator(t, NewSeededMockDetector(2)).Run(context.Background(), v.ID, nil)
	require.NoError(t, err)
	require.True(t, out.OK())
	assert.Equal(t, 4, out.FramesProcessed)
}

func TestRunReanalysisAppendsThenPurges(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(5, 4)})
	v := h.seedVideo(t, `["object_detection"]`)
	o := h.orchestrator(t, NewSeededMockDetector(4))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	first, err := o.Run(ctx, v.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 1, first.Generation)

	second, err := o.Run(ctx, v.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 2, second.Generation)
	all, err := h.frames.ListByVideo(dbc, v.ID, nil)
	require.NoError(t, err)
	assert.Len(t, all, 10, "re-analysis appends under a new generation")

	third, err := o.Run(ctx, v.ID, &RunConfig{AnalysisTypes: []string{TypeObjectDetection}, PurgePrevious: true})
	require.NoError(t, err)
	require.True(t, third.OK(), third.Error)
	require.Equal(t, 3, third.Generation)

	all, err = h.frames.ListByVideo(dbc, v.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for _, f := range all {
		assert.Equal(t, 3, f.Generation)
	}

	root, ok := blob.LocalPath(h.store, blob.FrameKey(v.ID.String(), 3, 0))
	require.True(t, ok)
	framesDir := filepath.Dir(filepath.Dir(root))
	entries, err := os.ReadDir(framesDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "g3", entries[0].Name())
}

func TestRunUnknownVideo(t *testing.T) {
	h := newHarness(t, &fakeMedia{})
	_, err := h.orchestrator(t, NewSeededMockDetector(1)).Run(context.Background(), uuid.New(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrNotFound))
}

func TestRunDownscalesWideFrames(t *testing.T) {
	h := newHarness(t, &fakeMedia{info: mediaFor(2, 1), frameW: 2000, frameH: 1000})
	v := h.seedVideo(t, `[]`)

	out, err := h.orchestrator(t, NewSeededMockDetector(1)).Run(context.Background(), v.ID, nil)
	require.NoError(t, err)
	require.True(t, out.OK())

	frames, err := h.frames.ListByVideo(dbctx.Context{Ctx: context.Background()}, v.ID, nil)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	for _, f := range frames {
		assert.Equal(t, 1280, f.Width)
		assert.Equal(t, 640, f.Height)
	}
}

func TestSampleStep(t *testing.T) {
	cases := []struct {
		fps, interval float64
		want          int
	}{
		{30, 1, 30},
		{29.97, 1, 30},
		{24, 0.5, 12},
		{0.4, 1, 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SampleStep(c.fps, c.interval), "fps=%v interval=%v", c.fps, c.interval)
	}
}
