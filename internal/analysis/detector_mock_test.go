package analysis

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/videoreview-backend/internal/domain"
)

func videoWithDuration(d float64) *types.Video {
	return &types.Video{ID: uuid.New(), DurationSeconds: &d, AnalysisGeneration: 1}
}

func TestMockDetectorIsDeterministicPerSeed(t *testing.T) {
	ctx := context.Background()
	v := videoWithDuration(40)
	frame := &types.Frame{FrameNumber: 90}
	rules := mustCatalog(t).Rules

	run := func(seed int64) ([]ObjectDetection, []EventDetection, []EventDetection) {
		m := NewSeededMockDetector(seed)
		objs, err := m.DetectObjects(ctx, v, frame)
		require.NoError(t, err)
		evs, err := m.ClassifyEvents(ctx, v)
		require.NoError(t, err)
		vios, err := m.CheckGuidelines(ctx, v, rules, nil)
		require.NoError(t, err)
		return objs, evs, vios
	}
	o1, e1, v1 := run(1234)
	o2, e2, v2 := run(1234)
	assert.Equal(t, o1, o2)
	assert.Equal(t, e1, e2)
	assert.Equal(t, v1, v2)
}

func TestMockDetectorDistributions(t *testing.T) {
	ctx := context.Background()
	v := videoWithDuration(20)
	m := NewSeededMockDetector(77)
	rules := mustCatalog(t).Rules
	trackRe := regexp.MustCompile(`^track_\d+_12$`)
	archetypes := map[string]eventArchetype{}
	for _, a := range mockEventArchetypes {
		archetypes[a.eventType] = a
	}
	ruleByKey := map[string]GuidelineRule{}
	for _, r := range rules {
		ruleByKey[r.Key] = r
	}

	for i := 0; i < 200; i++ {
		objs, err := m.DetectObjects(ctx, v, &types.Frame{FrameNumber: 12})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(objs), 5)
		for _, o := range objs {
			assert.Contains(t, ObjectVocabulary, o.ClassName)
			assert.True(t, o.Confidence >= 0.7 && o.Confidence <= 0.95)
			assert.True(t, o.X >= 0 && o.X < 0.8)
			assert.True(t, o.Y >= 0 && o.Y < 0.8)
			assert.True(t, o.Width >= 0.1 && o.Width < 0.2)
			assert.True(t, o.Height >= 0.1 && o.Height < 0.2)
			assert.Regexp(t, trackRe, o.TrackID)
		}

		evs, err := m.ClassifyEvents(ctx, v)
		require.NoError(t, err)
		assert.True(t, len(evs) >= 2 && len(evs) <= 8)
		for _, e := range evs {
			a, ok := archetypes[e.EventType]
			require.True(t, ok, e.EventType)
			assert.Equal(t, a.title, e.Title)
			assert.Equal(t, a.severity, e.Severity)
			assert.True(t, e.StartTime >= 0 && e.StartTime < 15)
			require.NotNil(t, e.EndTime)
			span := *e.EndTime - e.StartTime
			assert.True(t, span >= 1 && span <= 5)
			assert.Equal(t, mockClassifierName, e.DetectedBy)
			assert.False(t, e.IsViolation)
		}

		vios, err := m.CheckGuidelines(ctx, v, rules, nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(vios), 3)
		for _, e := range vios {
			r, ok := ruleByKey[e.EventType]
			require.True(t, ok)
			assert.Equal(t, r.Severity, e.Severity)
			assert.Equal(t, r.Guideline, e.GuidelineReference)
			assert.True(t, e.IsViolation)
			assert.True(t, e.StartTime >= 0 && e.StartTime < 18)
			assert.True(t, e.Confidence >= 0.8 && e.Confidence <= 0.95)
			assert.Equal(t, mockCheckerName, e.DetectedBy)
		}
	}
}

func TestMockDetectorShortDurations(t *testing.T) {
	ctx := context.Background()
	m := NewSeededMockDetector(1)
	rules := mustCatalog(t).Rules

	_, err := m.ClassifyEvents(ctx, videoWithDuration(5))
	assert.Error(t, err)
	_, err = m.CheckGuidelines(ctx, videoWithDuration(2), rules, nil)
	assert.Error(t, err)

	vios, err := m.CheckGuidelines(ctx, videoWithDuration(10), nil, nil)
	assert.NoError(t, err)
	assert.Empty(t, vios)
}

func TestNormalizeBox(t *testing.T) {
	d := normalizeBox(ObjectDetection{Confidence: 1.3, X: 0.9, Y: -0.2, Width: 0.5, Height: 1.4})
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, 0.9, d.X)
	assert.Equal(t, 0.0, d.Y)
	assert.InDelta(t, 0.1, d.Width, 1e-9)
	assert.Equal(t, 1.0, d.Height)
}

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadCatalog()
	require.NoError(t, err)
	return c
}
