package gcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	videointelligence "cloud.google.com/go/videointelligence/apiv1"
	vipb "cloud.google.com/go/videointelligence/apiv1/videointelligencepb"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yungbote/videoreview-backend/internal/pkg/ctxutil"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/pkg/retry"
)

// ObjectTracker runs Video Intelligence OBJECT_TRACKING on a video stored in GCS.
type ObjectTracker interface {
	TrackObjects(ctx context.Context, gcsURI string) ([]TrackedObject, error)
	Close() error
}

type TrackedObject struct {
	TrackID    string
	Entity     string
	Confidence float64
	StartSec   float64
	EndSec     float64
	Boxes      []TrackedBox
}

// TrackedBox is a normalized bounding box observed at OffsetSec.
type TrackedBox struct {
	OffsetSec float64
	Left      float64
	Top       float64
	Right     float64
	Bottom    float64
}

type videoService struct {
	log        *logger.Logger
	client     *videointelligence.Client
	maxRetries int
}

func NewObjectTracker(log *logger.Logger) (ObjectTracker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.ObjectTracker")

	c, err := videointelligence.NewClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("videointelligence client: %w", err)
	}
	return &videoService{log: slog, client: c, maxRetries: 4}, nil
}

func (s *videoService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *videoService) TrackObjects(ctx context.Context, gcsURI string) ([]TrackedObject, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	if !strings.HasPrefix(gcsURI, "gs://") {
		return nil, fmt.Errorf("gcsURI must be gs://... got %q", gcsURI)
	}

	req := &vipb.AnnotateVideoRequest{
		InputUri: gcsURI,
		Features: []vipb.Feature{vipb.Feature_OBJECT_TRACKING},
	}
	resp, err := s.retryAnnotate(ctx, func() (*vipb.AnnotateVideoResponse, error) {
		op, err := s.client.AnnotateVideo(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("videointelligence AnnotateVideo: %w", err)
	}
	if resp == nil || len(resp.AnnotationResults) == 0 || resp.AnnotationResults[0] == nil {
		s.log.Warn("no annotation results", "uri", gcsURI)
		return nil, nil
	}
	out := parseObjectTracks(resp.AnnotationResults[0].ObjectAnnotations)
	s.log.Debug("object tracking done", "uri", gcsURI, "tracks", len(out))
	return out, nil
}

func parseObjectTracks(anns []*vipb.ObjectTrackingAnnotation) []TrackedObject {
	out := make([]TrackedObject, 0, len(anns))
	for i, a := range anns {
		if a == nil {
			continue
		}
		obj := TrackedObject{
			TrackID:    fmt.Sprintf("track_%d", i),
			Confidence: float64(a.GetConfidence()),
		}
		if id := a.GetTrackId(); id != 0 {
			obj.TrackID = fmt.Sprintf("track_%d", id)
		}
		if e := a.GetEntity(); e != nil {
			obj.Entity = strings.ToLower(strings.TrimSpace(e.GetDescription()))
		}
		for _, f := range a.GetFrames() {
			if f == nil || f.GetNormalizedBoundingBox() == nil {
				continue
			}
			nb := f.GetNormalizedBoundingBox()
			obj.Boxes = append(obj.Boxes, TrackedBox{
				OffsetSec: durToSec(f.GetTimeOffset()),
				Left:      clamp01(float64(nb.GetLeft())),
				Top:       clamp01(float64(nb.GetTop())),
				Right:     clamp01(float64(nb.GetRight())),
				Bottom:    clamp01(float64(nb.GetBottom())),
			})
		}
		sort.Slice(obj.Boxes, func(i, j int) bool { return obj.Boxes[i].OffsetSec < obj.Boxes[j].OffsetSec })
		if seg := a.GetSegment(); seg != nil {
			obj.StartSec = durToSec(seg.GetStartTimeOffset())
			obj.EndSec = durToSec(seg.GetEndTimeOffset())
		} else if len(obj.Boxes) > 0 {
			obj.StartSec = obj.Boxes[0].OffsetSec
			obj.EndSec = obj.Boxes[len(obj.Boxes)-1].OffsetSec
		}
		out = append(out, obj)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartSec < out[j].StartSec })
	return out
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}

func (s *videoService) retryAnnotate(ctx context.Context, fn func() (*vipb.AnnotateVideoResponse, error)) (*vipb.AnnotateVideoResponse, error) {
	backoff := 750 * time.Millisecond
	var last error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		if !retryableCode(status.Code(err)) {
			return nil, err
		}
		if attempt == s.maxRetries {
			break
		}

		if err := retry.Sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = retry.Next(backoff, 10*time.Second)
	}
	return nil, last
}

func retryableCode(code codes.Code) bool {
	return code == codes.Unavailable || code == codes.ResourceExhausted || code == codes.DeadlineExceeded
}
