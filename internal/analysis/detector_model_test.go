package analysis

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/videoreview-backend/internal/data/repos/testutil"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/platform/blob"
	"github.com/yungbote/videoreview-backend/internal/platform/gcp"
)

type fakeTracker struct {
	tracks []gcp.TrackedObject
	calls  atomic.Int32
	uris   []string
}

func (f *fakeTracker) TrackObjects(ctx context.Context, uri string) ([]gcp.TrackedObject, error) {
	f.calls.Add(1)
	f.uris = append(f.uris, uri)
	return f.tracks, nil
}

func (f *fakeTracker) Close() error { return nil }

type fakeLocalizer struct {
	objects []gcp.LocalizedObject
	images  int
}

func (f *fakeLocalizer) LocalizeObjects(ctx context.Context, img []byte) ([]gcp.LocalizedObject, error) {
	f.images++
	return f.objects, nil
}

func (f *fakeLocalizer) Close() error { return nil }

// gsStore pretends the local store is a bucket.
type gsStore struct{ blob.Store }

func (s gsStore) URI(key string) string { return "gs://test-bucket/" + key }

func boxesAt(offsets []float64, dx float64) []gcp.TrackedBox {
	out := make([]gcp.TrackedBox, 0, len(offsets))
	for i, t := range offsets {
		x := 0.1 + dx*float64(i)
		out = append(out, gcp.TrackedBox{OffsetSec: t, Left: x, Top: 0.4, Right: x + 0.1, Bottom: 0.5})
	}
	return out
}

func TestModelDetectorObjectTracking(t *testing.T) {
	ctx := context.Background()
	local, err := blob.NewLocalStore(testutil.Logger(t), t.TempDir())
	require.NoError(t, err)
	tracker := &fakeTracker{tracks: []gcp.TrackedObject{
		{TrackID: "track_7", Entity: "car", Confidence: 0.91, StartSec: 0, EndSec: 2, Boxes: boxesAt([]float64{0, 1, 2}, 0.05)},
		{TrackID: "track_8", Entity: "person", Confidence: 0.83, StartSec: 5, EndSec: 7, Boxes: boxesAt([]float64{5, 6, 7}, 0.01)},
		{TrackID: "track_9", Entity: "umbrella", Confidence: 0.7, StartSec: 1, EndSec: 3, Boxes: boxesAt([]float64{1, 3}, 0)},
	}}
	d, err := NewModelBackedDetector(testutil.Logger(t), gsStore{local}, tracker, nil)
	require.NoError(t, err)

	v := videoWithDuration(10)
	v.StorageKey = "videos/x/original.mp4"

	objs, err := d.DetectObjects(ctx, v, &types.Frame{Timestamp: 1.2})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "car", objs[0].ClassName)
	assert.Equal(t, "track_7", objs[0].TrackID)
	assert.InDelta(t, 0.15, objs[0].X, 1e-9)
	assert.InDelta(t, 0.1, objs[0].Width, 1e-9)
	assert.Equal(t, "umbrella", objs[1].ClassName)

	objs, err = d.DetectObjects(ctx, v, &types.Frame{Timestamp: 4})
	require.NoError(t, err)
	assert.Empty(t, objs)

	evs, err := d.ClassifyEvents(ctx, v)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "vehicle_movement", evs[0].EventType)
	assert.Equal(t, "Vehicle Movement Detected", evs[0].Title)
	assert.Equal(t, []string{"track_7"}, evs[0].TrackIDs)
	require.NotNil(t, evs[0].EndTime)
	assert.Equal(t, 2.0, *evs[0].EndTime)
	assert.Equal(t, "model:gcp_videointelligence", evs[0].DetectedBy)
	assert.Equal(t, "pedestrian_crossing", evs[1].EventType)

	assert.EqualValues(t, 1, tracker.calls.Load())
	assert.Equal(t, "gs://test-bucket/videos/x/original.mp4", tracker.uris[0])

	d.Release(v.ID.String(), v.AnalysisGeneration)
	_, err = d.DetectObjects(ctx, v, &types.Frame{Timestamp: 0})
	require.NoError(t, err)
	assert.EqualValues(t, 2, tracker.calls.Load())
}

func TestModelDetectorFrameLocalization(t *testing.T) {
	ctx := context.Background()
	store, err := blob.NewLocalStore(testutil.Logger(t), t.TempDir())
	require.NoError(t, err)
	loc := &fakeLocalizer{objects: []gcp.LocalizedObject{
		{Name: "car", Score: 0.88, Left: 0.2, Top: 0.3, Right: 0.4, Bottom: 0.6},
		{Name: "traffic light", Score: 0.9, Left: 0.7, Top: 0.1, Right: 0.75, Bottom: 0.2},
	}}
	d, err := NewModelBackedDetector(testutil.Logger(t), store, &fakeTracker{}, loc)
	require.NoError(t, err)

	v := videoWithDuration(10)
	for i := 0; i < 3; i++ {
		key := blob.FrameKey(v.ID.String(), 1, int64(i))
		_, err := store.Put(ctx, key, bytes.NewReader([]byte{0xff, 0xd8, 0xff}))
		require.NoError(t, err)
		objs, err := d.DetectObjects(ctx, v, &types.Frame{ID: uuid.New(), FrameNumber: i, Timestamp: float64(i), ImageKey: key})
		require.NoError(t, err)
		require.Len(t, objs, 2)
		assert.Equal(t, "traffic_light", objs[1].ClassName)
		assert.InDelta(t, 0.3, objs[0].Height, 1e-9)
	}
	assert.Equal(t, 3, loc.images)

	evs, err := d.ClassifyEvents(ctx, v)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	for _, e := range evs {
		assert.Equal(t, "model:gcp_vision", e.DetectedBy)
		require.NotNil(t, e.EndTime)
		assert.Equal(t, 0.0, e.StartTime)
		assert.Equal(t, 2.0, *e.EndTime)
	}
	got := []string{evs[0].EventType, evs[1].EventType}
	assert.ElementsMatch(t, []string{"vehicle_movement", "traffic_light_change"}, got)

	_, err = d.DetectObjects(ctx, v, &types.Frame{Timestamp: 4})
	assert.Error(t, err, "frame without an image")
}

func TestPseudoTracksSplitOnGaps(t *testing.T) {
	tracks := pseudoTracks([]observation{
		{class: "car", t: 0, score: 0.8},
		{class: "car", t: 1, score: 1.0},
		{class: "car", t: 9, score: 0.6},
		{class: "person", t: 2, score: 0.7},
	})
	require.Len(t, tracks, 3)
	assert.Equal(t, "car", tracks[0].Entity)
	assert.Equal(t, 1.0, tracks[0].EndSec)
	assert.InDelta(t, 0.9, tracks[0].Confidence, 1e-9)
	assert.Equal(t, "person", tracks[1].Entity)
	assert.Equal(t, 9.0, tracks[2].StartSec)
}

func TestSuddenStopHeuristic(t *testing.T) {
	moving := gcp.TrackedObject{Entity: "car", Boxes: boxesAt([]float64{0, 1, 2, 3, 4, 5}, 0.1)}
	assert.False(t, isSuddenStop(moving))

	stops := gcp.TrackedObject{Entity: "car", StartSec: 0, EndSec: 5, Confidence: 0.9}
	stops.Boxes = append(boxesAt([]float64{0, 1, 2, 3}, 0.1), boxesAt([]float64{4, 5}, 0)...)
	for i := 3; i < 6; i++ {
		stops.Boxes[i].Left, stops.Boxes[i].Right = 0.4, 0.5
	}
	assert.True(t, isSuddenStop(stops))
	evs := eventsFromTracks([]gcp.TrackedObject{stops}, 10, "model:test")
	require.Len(t, evs, 1)
	assert.Equal(t, "sudden_stop", evs[0].EventType)
	assert.Equal(t, types.SeverityWarning, evs[0].Severity)
}

func TestViolationsFromRules(t *testing.T) {
	rules := mustCatalog(t).Rules
	end := func(v float64) *float64 { return &v }
	track := "track_3"
	events := []*types.Event{
		{ID: uuid.New(), EventType: "vehicle_movement", StartTime: 2, EndTime: end(3), Confidence: 0.9,
			RelatedObjects: []*types.DetectedObject{{TrackID: &track}}},
		{ID: uuid.New(), EventType: "vehicle_movement", StartTime: 4, EndTime: end(9), Confidence: 0.8},
		{ID: uuid.New(), EventType: "traffic_light_change", StartTime: 1, EndTime: end(2), Confidence: 0.8},
	}
	vios := violationsFromRules(rules, events, "model:rules")
	require.Len(t, vios, 2)
	assert.Equal(t, "speed_violation", vios[0].EventType)
	assert.Equal(t, 2.0, vios[0].StartTime)
	assert.Equal(t, []string{"track_3"}, vios[0].TrackIDs)
	assert.Equal(t, "wrong_lane", vios[1].EventType)
	assert.Equal(t, types.SeverityWarning, vios[1].Severity)
	for _, v := range vios {
		assert.True(t, v.IsViolation)
		assert.NotEmpty(t, v.GuidelineReference)
	}
}

func TestNewDetector(t *testing.T) {
	log := testutil.Logger(t)
	d, err := NewDetector(log, Config{Detector: DetectorMock, Seed: 1}, nil, ModelClients{})
	require.NoError(t, err)
	assert.Equal(t, DetectorMock, d.Name())

	_, err = NewDetector(log, Config{Detector: DetectorModel}, nil, ModelClients{})
	assert.Error(t, err)

	d, err = NewDetector(log, Config{Detector: DetectorModel}, nil, ModelClients{Localizer: &fakeLocalizer{}})
	require.NoError(t, err)
	assert.Equal(t, DetectorModel, d.Name())

	_, err = NewDetector(log, Config{Detector: "yolo"}, nil, ModelClients{})
	assert.Error(t, err)
}
