package localmedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/videoreview-backend/internal/pkg/ctxutil"
	"github.com/yungbote/videoreview-backend/internal/pkg/envutil"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

// Tools wraps the ffmpeg/ffprobe binaries.
//
// REQUIRED BINARIES in worker runtime:
// - ffprobe for container/stream metadata
// - ffmpeg for frame extraction
//
// Calls are synchronous and bounded by MEDIA_TOOL_TIMEOUT_SECONDS. They belong in worker jobs,
// not request handlers.
type Tools interface {
	AssertReady(ctx context.Context) error

	Inspect(ctx context.Context, videoPath string) (*MediaInfo, error)
	ExtractFrames(ctx context.Context, videoPath string, outDir string, opts FrameOptions) ([]ExtractedFrame, error)

	// Helpers for callers who only have a stream (blob store objects):
	WriteTempFile(ctx context.Context, r io.Reader, suffix string) (string, func(), error)
	TempDir(ctx context.Context) (string, func(), error)
}

type MediaInfo struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int64
	// Container duration as reported by the format section (seconds). Zero when absent.
	ContainerDuration float64
	Format            string
	Codec             string
	SizeBytes         int64
}

type FrameOptions struct {
	// Step keeps frame indices 0, Step, 2*Step, ...
	Step        int
	MaxFrames   int
	JPEGQuality int
}

type ExtractedFrame struct {
	Index int64
	Path  string
}

type tools struct {
	log *logger.Logger

	ffmpegPath  string
	ffprobePath string

	workRoot string

	defaultTimeout time.Duration
}

func New(log *logger.Logger) Tools {
	slog := log.With("service", "MediaTools")
	return &tools{
		log:            slog,
		ffmpegPath:     envutil.String("FFMPEG_PATH", "ffmpeg"),
		ffprobePath:    envutil.String("FFPROBE_PATH", "ffprobe"),
		workRoot:       envutil.String("MEDIA_WORK_DIR", filepath.Join(os.TempDir(), "videoreview-media")),
		defaultTimeout: envutil.Seconds("MEDIA_TOOL_TIMEOUT_SECONDS", 10*time.Minute),
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	ctx = ctxutil.Default(ctx)
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return ctx.Err()
}

func (m *tools) WriteTempFile(ctx context.Context, r io.Reader, suffix string) (string, func(), error) {
	ctx = ctxutil.Default(ctx)
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	path := filepath.Join(m.workRoot, uuid.New().String()+suffix)
	f, err := os.Create(path)
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(path) }
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close temp file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return path, cleanup, nil
}

func (m *tools) TempDir(ctx context.Context) (string, func(), error) {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	dir, err := os.MkdirTemp(m.workRoot, "frames-")
	if err != nil {
		return "", func() {}, fmt.Errorf("mkdir temp dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func (m *tools) Inspect(ctx context.Context, videoPath string) (*MediaInfo, error) {
	ctx = ctxutil.Default(ctx)
	if videoPath == "" {
		return nil, fmt.Errorf("videoPath required")
	}
	if _, err := exec.LookPath(m.ffprobePath); err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames,codec_name:format=duration,format_name,size",
		"-of", "json",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return ParseMediaInfo(out)
}

type ffprobeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		CodecName    string `json:"codec_name"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
		Size       string `json:"size"`
	} `json:"format"`
}

// ParseMediaInfo decodes `ffprobe -of json` output. The frame count falls back to
// round(format.duration * fps) when the container has no nb_frames.
func ParseMediaInfo(raw []byte) (*MediaInfo, error) {
	var p ffprobeOutput
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(p.Streams) == 0 {
		return nil, fmt.Errorf("no video stream")
	}
	s := p.Streams[0]
	res := &MediaInfo{
		Width:  s.Width,
		Height: s.Height,
		Codec:  s.CodecName,
		Format: strings.Split(p.Format.FormatName, ",")[0],
	}
	res.FPS = ParseRate(s.AvgFrameRate)
	if res.FPS <= 0 {
		res.FPS = ParseRate(s.RFrameRate)
	}
	if d, err := strconv.ParseFloat(strings.TrimSpace(p.Format.Duration), 64); err == nil && d > 0 {
		res.ContainerDuration = d
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(s.NbFrames), 10, 64); err == nil && n > 0 {
		res.FrameCount = n
	} else if res.FPS > 0 && res.ContainerDuration > 0 {
		res.FrameCount = int64(math.Round(res.ContainerDuration * res.FPS))
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(p.Format.Size), 10, 64); err == nil {
		res.SizeBytes = n
	}
	return res, nil
}

// ParseRate parses ffprobe rationals like "30000/1001" or plain "25".
func ParseRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func (m *tools) ExtractFrames(ctx context.Context, videoPath string, outDir string, opts FrameOptions) ([]ExtractedFrame, error) {
	ctx = ctxutil.Default(ctx)
	if err := m.AssertReady(ctx); err != nil {
		return nil, err
	}
	if videoPath == "" {
		return nil, fmt.Errorf("videoPath required")
	}
	if outDir == "" {
		return nil, fmt.Errorf("outDir required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir outDir: %w", err)
	}

	step := opts.Step
	if step <= 0 {
		step = 1
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	outPattern := filepath.Join(outDir, "frame_%06d.jpg")
	args := []string{
		"-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf("select=not(mod(n\\,%d))", step),
		"-fps_mode", "vfr",
	}
	if opts.MaxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(opts.MaxFrames))
	}
	q := opts.JPEGQuality
	if q <= 0 {
		q = 3
	}
	args = append(args, "-q:v", strconv.Itoa(q), outPattern)

	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()

	// ffmpeg may fail mid-stream after writing some frames; callers keep whatever exists.
	paths, _ := globSorted(outDir, "^frame_\\d+\\.jpe?g$")
	frames := make([]ExtractedFrame, 0, len(paths))
	for i, p := range paths {
		frames = append(frames, ExtractedFrame{Index: int64(i) * int64(step), Path: p})
	}
	if err != nil {
		m.log.Warn("ffmpeg frame extraction ended with error", "error", err, "frames", len(frames), "out", tail(string(out), 512))
		return frames, fmt.Errorf("ffmpeg extract frames failed: %w", err)
	}
	return frames, nil
}

// ---------- helpers ----------

func globSorted(dir string, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if re.MatchString(strings.ToLower(e.Name())) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
