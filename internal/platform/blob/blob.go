package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

// Store addresses original uploads and extracted frame images by opaque key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	// URI returns a provider-native address for key ("gs://bucket/key"), or "" when the backend has none.
	URI(key string) string
}

func VideoKey(videoID string, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("videos/%s/original%s", videoID, strings.ToLower(ext))
}

func VideoPrefix(videoID string) string {
	return fmt.Sprintf("videos/%s/", videoID)
}

func FrameKey(videoID string, generation int, frameNumber int64) string {
	return fmt.Sprintf("%sframe_%d.jpg", FramePrefix(videoID, generation), frameNumber)
}

// FramePrefix holds every frame image of one analysis generation.
func FramePrefix(videoID string, generation int) string {
	return fmt.Sprintf("videos/%s/frames/g%d/", videoID, generation)
}

type localStore struct {
	log      *logger.Logger
	basePath string
}

func NewLocalStore(log *logger.Logger, basePath string) (Store, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("basePath required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &localStore{log: log.With("service", "LocalBlobStore"), basePath: basePath}, nil
}

func (s *localStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(key, "/")))
	if clean == "." || strings.Contains(clean, "..") {
		return "", fmt.Errorf("%w: invalid key %q", pkgerrors.ErrInvalidArgument, key)
	}
	return filepath.Join(s.basePath, clean), nil
}

func (s *localStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	full, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}
	tmp := full + ".part"
	dst, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	n, err := io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to save file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to finalize file: %w", err)
	}
	return n, nil
}

func (s *localStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: blob %q", pkgerrors.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

func (s *localStore) Delete(ctx context.Context, key string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (s *localStore) DeletePrefix(ctx context.Context, prefix string) error {
	full, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	// A prefix ending in "/" names a directory; anything else matches file names inside its parent.
	if strings.HasSuffix(prefix, "/") {
		if err := os.RemoveAll(full); err != nil {
			return fmt.Errorf("failed to delete prefix: %w", err)
		}
		return nil
	}
	dir, base := filepath.Split(full)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), base) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			s.log.Warn("delete prefix entry failed", "entry", e.Name(), "error", err)
		}
	}
	return nil
}

func (s *localStore) URI(key string) string { return "" }

// LocalPath exposes the on-disk path for keys held by a local store, letting media tools skip a copy.
func LocalPath(store Store, key string) (string, bool) {
	ls, ok := store.(*localStore)
	if !ok {
		return "", false
	}
	full, err := ls.resolve(key)
	if err != nil {
		return "", false
	}
	if info, err := os.Stat(full); err != nil || info.IsDir() {
		return "", false
	}
	return full, true
}
