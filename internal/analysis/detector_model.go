package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/platform/blob"
	"github.com/yungbote/videoreview-backend/internal/platform/gcp"
)

const (
	providerVideoIntelligence = "gcp_videointelligence"
	providerVision            = "gcp_vision"
	providerRules             = "rules"

	// A tracked box counts for a frame when its offset is within this many seconds.
	trackMatchWindow = 0.5
	// Localizations of one class in frames closer than this are joined into one pseudo-track.
	pseudoTrackGap = 2.5
)

var entityEventTypes = map[string]string{
	"car":           "vehicle_movement",
	"truck":         "vehicle_movement",
	"bus":           "vehicle_movement",
	"motorcycle":    "vehicle_movement",
	"bicycle":       "vehicle_movement",
	"vehicle":       "vehicle_movement",
	"person":        "pedestrian_crossing",
	"pedestrian":    "pedestrian_crossing",
	"traffic light": "traffic_light_change",
	"traffic_light": "traffic_light_change",
}

// ModelBackedDetector calls Google Cloud models. Object tracking over the whole video is used when
// the blob store exposes a gs:// URI; otherwise each sampled frame goes through Vision object
// localization. Events are derived from tracks and violations from catalog rule triggers.
type ModelBackedDetector struct {
	log       *logger.Logger
	store     blob.Store
	tracker   gcp.ObjectTracker
	localizer gcp.ObjectLocalizer

	sf    singleflight.Group
	mu    sync.Mutex
	cache map[string]*modelRun
}

// modelRun holds what one analysis generation has observed so far.
type modelRun struct {
	provider string
	tracks   []gcp.TrackedObject
	// observations from per-frame localization, grouped into tracks lazily
	observations []observation
}

type observation struct {
	class  string
	t      float64
	score  float64
	cx, cy float64
}

func NewModelBackedDetector(log *logger.Logger, store blob.Store, tracker gcp.ObjectTracker, localizer gcp.ObjectLocalizer) (*ModelBackedDetector, error) {
	if tracker == nil && localizer == nil {
		return nil, errors.New("model detector needs an object tracker or an object localizer")
	}
	return &ModelBackedDetector{
		log:       log.With("service", "ModelBackedDetector"),
		store:     store,
		tracker:   tracker,
		localizer: localizer,
		cache:     map[string]*modelRun{},
	}, nil
}

func (d *ModelBackedDetector) Name() string { return DetectorModel }

func runKey(videoID string, generation int) string {
	return fmt.Sprintf("%s/%d", videoID, generation)
}

func (d *ModelBackedDetector) run(video *types.Video) *modelRun {
	key := runKey(video.ID.String(), video.AnalysisGeneration)
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.cache[key]
	if !ok {
		r = &modelRun{}
		d.cache[key] = r
	}
	return r
}

// Release drops cached annotations for a finished run.
func (d *ModelBackedDetector) Release(videoID string, generation int) {
	d.mu.Lock()
	delete(d.cache, runKey(videoID, generation))
	d.mu.Unlock()
}

// tracks fetches (once per run) the Video Intelligence object tracks, or nil when unavailable.
func (d *ModelBackedDetector) tracks(ctx context.Context, video *types.Video) ([]gcp.TrackedObject, bool, error) {
	if d.tracker == nil || d.store == nil {
		return nil, false, nil
	}
	uri := d.store.URI(video.StorageKey)
	if uri == "" {
		return nil, false, nil
	}
	r := d.run(video)
	d.mu.Lock()
	if r.provider == providerVideoIntelligence {
		t := r.tracks
		d.mu.Unlock()
		return t, true, nil
	}
	d.mu.Unlock()

	key := runKey(video.ID.String(), video.AnalysisGeneration)
	v, err, _ := d.sf.Do(key, func() (interface{}, error) {
		return d.tracker.TrackObjects(ctx, uri)
	})
	if err != nil {
		return nil, true, fmt.Errorf("object tracking: %w", err)
	}
	tracks, _ := v.([]gcp.TrackedObject)
	d.mu.Lock()
	r.provider = providerVideoIntelligence
	r.tracks = tracks
	d.mu.Unlock()
	return tracks, true, nil
}

func (d *ModelBackedDetector) DetectObjects(ctx context.Context, video *types.Video, frame *types.Frame) ([]ObjectDetection, error) {
	tracks, ok, err := d.tracks(ctx, video)
	if err != nil {
		return nil, err
	}
	if ok {
		return detectionsAt(tracks, frame.Timestamp), nil
	}
	if d.localizer == nil {
		return nil, errors.New("no model provider available for this video")
	}
	img, err := d.readFrame(ctx, frame)
	if err != nil {
		return nil, err
	}
	objs, err := d.localizer.LocalizeObjects(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("localize objects: %w", err)
	}
	out := make([]ObjectDetection, 0, len(objs))
	obs := make([]observation, 0, len(objs))
	for _, o := range objs {
		out = append(out, ObjectDetection{
			ClassName:  canonicalClass(o.Name),
			Confidence: o.Score,
			X:          o.Left,
			Y:          o.Top,
			Width:      o.Right - o.Left,
			Height:     o.Bottom - o.Top,
			Attributes: map[string]any{"provider": providerVision, "label": o.Name},
		})
		obs = append(obs, observation{
			class: o.Name,
			t:     frame.Timestamp,
			score: o.Score,
			cx:    (o.Left + o.Right) / 2,
			cy:    (o.Top + o.Bottom) / 2,
		})
	}
	r := d.run(video)
	d.mu.Lock()
	r.provider = providerVision
	r.observations = append(r.observations, obs...)
	d.mu.Unlock()
	return out, nil
}

func (d *ModelBackedDetector) readFrame(ctx context.Context, frame *types.Frame) ([]byte, error) {
	if d.store == nil || frame.ImageKey == "" {
		return nil, errors.New("frame image unavailable")
	}
	rc, err := d.store.Open(ctx, frame.ImageKey)
	if err != nil {
		return nil, fmt.Errorf("open frame image: %w", err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// detectionsAt picks, per track, the box nearest to t within trackMatchWindow.
func detectionsAt(tracks []gcp.TrackedObject, t float64) []ObjectDetection {
	out := []ObjectDetection{}
	for _, tr := range tracks {
		best := -1
		bestDist := math.Inf(1)
		for i, b := range tr.Boxes {
			if dist := math.Abs(b.OffsetSec - t); dist < bestDist {
				best, bestDist = i, dist
			}
		}
		if best < 0 || bestDist > trackMatchWindow {
			continue
		}
		b := tr.Boxes[best]
		out = append(out, ObjectDetection{
			ClassName:  canonicalClass(tr.Entity),
			Confidence: tr.Confidence,
			X:          b.Left,
			Y:          b.Top,
			Width:      b.Right - b.Left,
			Height:     b.Bottom - b.Top,
			TrackID:    tr.TrackID,
			Attributes: map[string]any{"provider": providerVideoIntelligence, "label": tr.Entity},
		})
	}
	return out
}

func canonicalClass(label string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
}

func (d *ModelBackedDetector) ClassifyEvents(ctx context.Context, video *types.Video) ([]EventDetection, error) {
	tracks, ok, err := d.tracks(ctx, video)
	if err != nil {
		return nil, err
	}
	provider := providerVideoIntelligence
	if !ok {
		provider = providerVision
		r := d.run(video)
		d.mu.Lock()
		obs := append([]observation(nil), r.observations...)
		d.mu.Unlock()
		tracks = pseudoTracks(obs)
	}
	return eventsFromTracks(tracks, video.Duration(), "model:"+provider), nil
}

// pseudoTracks joins per-frame observations of one class into spans.
func pseudoTracks(obs []observation) []gcp.TrackedObject {
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].t < obs[j].t })
	open := map[string]*gcp.TrackedObject{}
	confSum := map[string]float64{}
	var out []gcp.TrackedObject
	flush := func(class string) {
		tr := open[class]
		if tr == nil {
			return
		}
		tr.Confidence = confSum[class] / float64(len(tr.Boxes))
		out = append(out, *tr)
		delete(open, class)
		delete(confSum, class)
	}
	for _, o := range obs {
		if tr := open[o.class]; tr != nil && o.t-tr.EndSec > pseudoTrackGap {
			flush(o.class)
		}
		tr := open[o.class]
		if tr == nil {
			tr = &gcp.TrackedObject{Entity: o.class, StartSec: o.t}
			open[o.class] = tr
		}
		tr.EndSec = o.t
		tr.Boxes = append(tr.Boxes, gcp.TrackedBox{OffsetSec: o.t, Left: o.cx, Top: o.cy, Right: o.cx, Bottom: o.cy})
		confSum[o.class] += o.score
	}
	classes := make([]string, 0, len(open))
	for c := range open {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	for _, c := range classes {
		flush(c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartSec < out[j].StartSec })
	return out
}

func eventsFromTracks(tracks []gcp.TrackedObject, duration float64, detectedBy string) []EventDetection {
	out := []EventDetection{}
	for _, tr := range tracks {
		eventType, ok := entityEventTypes[strings.ToLower(strings.TrimSpace(tr.Entity))]
		if !ok {
			continue
		}
		if eventType == "vehicle_movement" && isSuddenStop(tr) {
			eventType = "sudden_stop"
		}
		a := archetype(eventType)
		start := tr.StartSec
		if start < 0 {
			start = 0
		}
		ev := EventDetection{
			EventType:   a.eventType,
			Title:       a.title,
			Description: a.description,
			Severity:    a.severity,
			StartTime:   start,
			Confidence:  clamp01(tr.Confidence),
			DetectedBy:  detectedBy,
			Metadata:    map[string]any{"entity": tr.Entity, "boxes": len(tr.Boxes)},
		}
		end := tr.EndSec
		if duration > 0 && end > duration {
			end = duration
		}
		if end > start {
			ev.EndTime = &end
		}
		if len(tr.Boxes) > 0 {
			b := tr.Boxes[0]
			x, y := (b.Left+b.Right)/2, (b.Top+b.Bottom)/2
			ev.LocationX, ev.LocationY = &x, &y
		}
		if tr.TrackID != "" {
			ev.TrackIDs = []string{tr.TrackID}
		}
		out = append(out, ev)
	}
	return out
}

// isSuddenStop: the first half of the track moves, the last third barely does.
func isSuddenStop(tr gcp.TrackedObject) bool {
	n := len(tr.Boxes)
	if n < 6 {
		return false
	}
	center := func(b gcp.TrackedBox) (float64, float64) { return (b.Left + b.Right) / 2, (b.Top + b.Bottom) / 2 }
	dist := func(a, b gcp.TrackedBox) float64 {
		ax, ay := center(a)
		bx, by := center(b)
		return math.Hypot(ax-bx, ay-by)
	}
	early := dist(tr.Boxes[0], tr.Boxes[n/2])
	late := dist(tr.Boxes[n-n/3-1], tr.Boxes[n-1])
	return early > 0.1 && late < 0.01
}

func archetype(eventType string) eventArchetype {
	for _, a := range mockEventArchetypes {
		if a.eventType == eventType {
			return a
		}
	}
	return eventArchetype{eventType: eventType, title: eventType, severity: types.SeverityInfo}
}

func (d *ModelBackedDetector) CheckGuidelines(ctx context.Context, video *types.Video, rules []GuidelineRule, events []*types.Event) ([]EventDetection, error) {
	return violationsFromRules(rules, events, "model:"+providerRules), nil
}

// violationsFromRules emits one violation per (rule, matching event) pair.
func violationsFromRules(rules []GuidelineRule, events []*types.Event, detectedBy string) []EventDetection {
	out := []EventDetection{}
	for _, r := range rules {
		for _, ev := range events {
			if !r.Trigger.Matches(ev) {
				continue
			}
			v := EventDetection{
				EventType:          r.Key,
				Title:              r.Title,
				Description:        r.Description,
				Severity:           r.Severity,
				StartTime:          ev.StartTime,
				EndTime:            ev.EndTime,
				LocationX:          ev.LocationX,
				LocationY:          ev.LocationY,
				Confidence:         ev.Confidence,
				DetectedBy:         detectedBy,
				IsViolation:        true,
				GuidelineReference: r.Guideline,
				Metadata:           map[string]any{"rule": r.Key, "trigger_event_id": ev.ID.String()},
			}
			for _, o := range ev.RelatedObjects {
				if o != nil && o.TrackID != nil {
					v.TrackIDs = append(v.TrackIDs, *o.TrackID)
				}
			}
			out = append(out, v)
		}
	}
	return out
}
