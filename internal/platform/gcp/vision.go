package gcp

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"google.golang.org/grpc/status"

	"github.com/yungbote/videoreview-backend/internal/pkg/ctxutil"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/pkg/retry"
)

// ObjectLocalizer runs Cloud Vision OBJECT_LOCALIZATION on a single image.
type ObjectLocalizer interface {
	LocalizeObjects(ctx context.Context, img []byte) ([]LocalizedObject, error)
	Close() error
}

type LocalizedObject struct {
	Name   string
	Score  float64
	Left   float64
	Top    float64
	Right  float64
	Bottom float64
}

type visionService struct {
	log        *logger.Logger
	client     *vision.ImageAnnotatorClient
	maxResults int32
	maxRetries int
}

func NewObjectLocalizer(log *logger.Logger) (ObjectLocalizer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.ObjectLocalizer")

	c, err := vision.NewImageAnnotatorClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &visionService{log: slog, client: c, maxResults: 20, maxRetries: 3}, nil
}

func (s *visionService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *visionService) LocalizeObjects(ctx context.Context, img []byte) ([]LocalizedObject, error) {
	if len(img) == 0 {
		return nil, nil
	}
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	br := &visionpb.BatchAnnotateImagesRequest{Requests: []*visionpb.AnnotateImageRequest{{
		Image:    &visionpb.Image{Content: img},
		Features: []*visionpb.Feature{{Type: visionpb.Feature_OBJECT_LOCALIZATION, MaxResults: s.maxResults}},
	}}}

	var resp *visionpb.BatchAnnotateImagesResponse
	var err error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		resp, err = s.client.BatchAnnotateImages(ctx, br)
		if err == nil || !retryableCode(status.Code(err)) || attempt == s.maxRetries {
			break
		}
		if serr := retry.Sleep(ctx, backoff); serr != nil {
			return nil, serr
		}
		backoff = retry.Next(backoff, 8*time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	return parseLocalizedObjects(r0.LocalizedObjectAnnotations), nil
}

func parseLocalizedObjects(anns []*visionpb.LocalizedObjectAnnotation) []LocalizedObject {
	out := make([]LocalizedObject, 0, len(anns))
	for _, a := range anns {
		if a == nil || a.GetBoundingPoly() == nil {
			continue
		}
		verts := a.GetBoundingPoly().GetNormalizedVertices()
		if len(verts) == 0 {
			continue
		}
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, v := range verts {
			x, y := float64(v.GetX()), float64(v.GetY())
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
		out = append(out, LocalizedObject{
			Name:   strings.ToLower(strings.TrimSpace(a.GetName())),
			Score:  clamp01(float64(a.GetScore())),
			Left:   clamp01(minX),
			Top:    clamp01(minY),
			Right:  clamp01(maxX),
			Bottom: clamp01(maxY),
		})
	}
	return out
}
