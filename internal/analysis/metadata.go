package analysis

import (
	"context"
	"os"
	"strings"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/platform/localmedia"
)

// MetadataExtractor fills the technical fields of a video from ffprobe.
type MetadataExtractor struct {
	log    *logger.Logger
	media  localmedia.Tools
	videos repos.VideoRepo
}

func NewMetadataExtractor(log *logger.Logger, media localmedia.Tools, videos repos.VideoRepo) *MetadataExtractor {
	return &MetadataExtractor{log: log.With("stage", StageMetadata), media: media, videos: videos}
}

// Extract never fails the run: an ffprobe or write error is logged and the video keeps whatever
// it had. It returns false when nothing could be extracted.
func (m *MetadataExtractor) Extract(ctx context.Context, video *types.Video, path string) bool {
	info, err := m.media.Inspect(ctx, path)
	if err != nil {
		m.log.Warn("read media metadata failed", "video_id", video.ID, "error", err)
		return false
	}

	duration := 0.0
	if info.FPS > 0 && info.FrameCount > 0 {
		duration = float64(info.FrameCount) / info.FPS
	}
	fps := info.FPS
	width, height := info.Width, info.Height
	format := strings.TrimSpace(info.Format)
	size := info.SizeBytes
	if size <= 0 {
		if fi, err := os.Stat(path); err == nil {
			size = fi.Size()
		}
	}

	updates := map[string]interface{}{
		"duration_seconds":  duration,
		"frame_rate":        fps,
		"resolution_width":  width,
		"resolution_height": height,
		"file_size":         size,
	}
	if format != "" {
		updates["format"] = format
	}
	if err := m.videos.UpdateFields(dbctx.Context{Ctx: ctx}, video.ID, updates); err != nil {
		m.log.Warn("metadata update failed", "video_id", video.ID, "error", err)
		return false
	}

	video.DurationSeconds = &duration
	video.FrameRate = &fps
	video.ResolutionWidth = &width
	video.ResolutionHeight = &height
	video.FileSize = &size
	if format != "" {
		video.Format = &format
	}
	m.log.Debug("metadata extracted",
		"video_id", video.ID,
		"duration", duration,
		"fps", fps,
		"width", width,
		"height", height,
	)
	return true
}
