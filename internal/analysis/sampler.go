package analysis

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/platform/blob"
	"github.com/yungbote/videoreview-backend/internal/platform/localmedia"
)

// ffmpeg -q:v for the intermediate extraction; frames are re-encoded at Config.JPEGQuality.
const extractQuality = 2

// FrameSampler extracts one frame every interval seconds, stores the image and records a Frame row.
type FrameSampler struct {
	log    *logger.Logger
	media  localmedia.Tools
	store  blob.Store
	frames repos.FrameRepo
	cfg    Config
}

func NewFrameSampler(log *logger.Logger, media localmedia.Tools, store blob.Store, frames repos.FrameRepo, cfg Config) *FrameSampler {
	return &FrameSampler{
		log:    log.With("stage", StageSampling),
		media:  media,
		store:  store,
		frames: frames,
		cfg:    cfg.withDefaults(),
	}
}

// SampleStep is the source-frame stride for an interval: max(1, round(fps*interval)).
func SampleStep(fps float64, interval float64) int {
	step := int(math.Round(fps * interval))
	if step < 1 {
		step = 1
	}
	return step
}

// Sample returns the frames persisted for the video's current generation. Failures stop the loop
// and return whatever was persisted before them; a video without a known frame rate yields none.
func (s *FrameSampler) Sample(ctx context.Context, video *types.Video, path string, interval float64) []*types.Frame {
	out := []*types.Frame{}
	fps := video.FPS()
	if fps <= 0 {
		s.log.Warn("frame rate unknown, no frames sampled", "video_id", video.ID)
		return out
	}
	if interval <= 0 {
		interval = s.cfg.FrameIntervalSeconds
	}
	step := SampleStep(fps, interval)

	dir, cleanup, err := s.media.TempDir(ctx)
	if err != nil {
		s.log.Warn("frame temp dir failed", "video_id", video.ID, "error", err)
		return out
	}
	defer cleanup()

	extracted, err := s.media.ExtractFrames(ctx, path, dir, localmedia.FrameOptions{
		Step:        step,
		MaxFrames:   s.cfg.MaxFrames,
		JPEGQuality: extractQuality,
	})
	if err != nil {
		s.log.Warn("frame extraction incomplete", "video_id", video.ID, "frames", len(extracted), "error", err)
	}

	dbc := dbctx.Context{Ctx: ctx}
	for i, ef := range extracted {
		if ctx.Err() != nil {
			break
		}
		frame, err := s.persist(ctx, video, ef, i == 0, fps)
		if err != nil {
			s.log.Warn("frame sampling stopped", "video_id", video.ID, "frame_index", ef.Index, "error", err)
			break
		}
		if _, err := s.frames.Create(dbc, []*types.Frame{frame}); err != nil {
			s.log.Warn("frame sampling stopped", "video_id", video.ID, "frame_index", ef.Index, "error", err)
			_ = s.store.Delete(ctx, frame.ImageKey)
			break
		}
		out = append(out, frame)
	}
	s.log.Debug("frames sampled", "video_id", video.ID, "generation", video.AnalysisGeneration, "step", step, "frames", len(out))
	return out
}

func (s *FrameSampler) persist(ctx context.Context, video *types.Video, ef localmedia.ExtractedFrame, keyframe bool, fps float64) (*types.Frame, error) {
	raw, err := os.ReadFile(ef.Path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	img = downscale(img, s.cfg.FrameMaxWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	b := img.Bounds()
	key := blob.FrameKey(video.ID.String(), video.AnalysisGeneration, ef.Index)
	n, err := s.store.Put(ctx, key, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("store frame: %w", err)
	}
	return &types.Frame{
		ID:          uuid.New(),
		VideoID:     video.ID,
		Generation:  video.AnalysisGeneration,
		FrameNumber: int(ef.Index),
		Timestamp:   float64(ef.Index) / fps,
		ImageKey:    key,
		Width:       b.Dx(),
		Height:      b.Dy(),
		FileSize:    n,
		IsKeyframe:  keyframe,
	}, nil
}

// downscale keeps the aspect ratio; images at or under maxWidth are returned as is.
func downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := int(math.Round(float64(b.Dy()) * float64(maxWidth) / float64(b.Dx())))
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
