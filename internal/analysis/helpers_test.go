package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	"github.com/yungbote/videoreview-backend/internal/data/repos/testutil"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/platform/blob"
	"github.com/yungbote/videoreview-backend/internal/platform/localmedia"
)

// fakeMedia stands in for ffmpeg: Inspect returns a fixed result and ExtractFrames writes small JPEGs.
type fakeMedia struct {
	info    localmedia.MediaInfo
	infoErr error
	// extractErrAfter > 0 writes that many frames then fails.
	extractErrAfter int
	frameW, frameH  int
}

func (m *fakeMedia) AssertReady(ctx context.Context) error { return nil }

func (m *fakeMedia) Inspect(ctx context.Context, path string) (*localmedia.MediaInfo, error) {
	if m.infoErr != nil {
		return nil, m.infoErr
	}
	p := m.info
	return &p, nil
}

func (m *fakeMedia) ExtractFrames(ctx context.Context, path string, outDir string, opts localmedia.FrameOptions) ([]localmedia.ExtractedFrame, error) {
	step := opts.Step
	if step <= 0 {
		step = 1
	}
	n := int(math.Ceil(float64(m.info.FrameCount) / float64(step)))
	if opts.MaxFrames > 0 && n > opts.MaxFrames {
		n = opts.MaxFrames
	}
	var failErr error
	if m.extractErrAfter > 0 && n > m.extractErrAfter {
		n = m.extractErrAfter
		failErr = errors.New("ffmpeg: corrupt packet")
	}
	w, h := m.frameW, m.frameH
	if w == 0 {
		w, h = 64, 36
	}
	out := make([]localmedia.ExtractedFrame, 0, n)
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		img.Set(i%w, 0, color.RGBA{R: 255, A: 255})
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			return out, err
		}
		p := filepath.Join(outDir, fmt.Sprintf("frame_%06d.jpg", i+1))
		if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
			return out, err
		}
		out = append(out, localmedia.ExtractedFrame{Index: int64(i * step), Path: p})
	}
	return out, failErr
}

func (m *fakeMedia) WriteTempFile(ctx context.Context, r io.Reader, suffix string) (string, func(), error) {
	f, err := os.CreateTemp("", "src-*"+suffix)
	if err != nil {
		return "", func() {}, err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", func() {}, err
	}
	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}

func (m *fakeMedia) TempDir(ctx context.Context) (string, func(), error) {
	dir, err := os.MkdirTemp("", "frames-*")
	if err != nil {
		return "", func() {}, err
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func mediaFor(seconds float64, fps float64) localmedia.MediaInfo {
	return localmedia.MediaInfo{
		Width:      1920,
		Height:     1080,
		FPS:        fps,
		FrameCount: int64(math.Round(seconds * fps)),
		Format:     "mov,mp4,m4a,3gp,3g2,mj2",
		Codec:      "h264",
		SizeBytes:  4 << 20,
	}
}

// blockingDetector parks DetectObjects until release is closed.
type blockingDetector struct {
	*MockDetector
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingDetector() *blockingDetector {
	return &blockingDetector{
		MockDetector: NewSeededMockDetector(7),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (b *blockingDetector) DetectObjects(ctx context.Context, video *types.Video, frame *types.Frame) ([]ObjectDetection, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.MockDetector.DetectObjects(ctx, video, frame)
}

// failingDetector errors on the nth DetectObjects call.
type failingDetector struct {
	*MockDetector
	failAt int
	calls  int
}

func (f *failingDetector) DetectObjects(ctx context.Context, video *types.Video, frame *types.Frame) ([]ObjectDetection, error) {
	f.calls++
	if f.calls == f.failAt {
		return nil, errors.New("model unavailable")
	}
	return f.MockDetector.DetectObjects(ctx, video, frame)
}

type harness struct {
	db      *gorm.DB
	videos  repos.VideoRepo
	frames  repos.FrameRepo
	objects repos.DetectedObjectRepo
	events  repos.EventRepo
	store   blob.Store
	media   *fakeMedia
}

func newHarness(t *testing.T, media *fakeMedia) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	store, err := blob.NewLocalStore(log, t.TempDir())
	require.NoError(t, err)
	return &harness{
		db:      db,
		videos:  repos.NewVideoRepo(db, log),
		frames:  repos.NewFrameRepo(db, log),
		objects: repos.NewDetectedObjectRepo(db, log),
		events:  repos.NewEventRepo(db, log),
		store:   store,
		media:   media,
	}
}

func (h *harness) orchestrator(t *testing.T, detector Detector) *Orchestrator {
	t.Helper()
	o, err := New(Deps{
		Log:      testutil.Logger(t),
		Videos:   h.videos,
		Frames:   h.frames,
		Objects:  h.objects,
		Events:   h.events,
		Blob:     h.store,
		Media:    h.media,
		Detector: detector,
		Config:   Config{FrameIntervalSeconds: 1.0, FrameMaxWidth: 1280, JPEGQuality: 80},
	})
	require.NoError(t, err)
	return o
}

// seedVideo creates a video row and stores placeholder bytes at its storage key.
func (h *harness) seedVideo(t *testing.T, analysisTypes string) *types.Video {
	t.Helper()
	ctx := context.Background()
	v := testutil.SeedVideo(t, ctx, h.db, uuid.New(), analysisTypes)
	_, err := h.store.Put(ctx, v.StorageKey, bytes.NewReader([]byte("not really an mp4")))
	require.NoError(t, err)
	return v
}
