package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

func TestLocalStore(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocalStore(logger.Nop(), tmpDir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	t.Run("PutOpen", func(t *testing.T) {
		content := []byte("test video content")
		n, err := store.Put(ctx, "videos/abc/original.mp4", bytes.NewReader(content))
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if n != int64(len(content)) {
			t.Fatalf("Put wrote %d bytes want %d", n, len(content))
		}
		rc, err := store.Open(ctx, "videos/abc/original.mp4")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if !bytes.Equal(got, content) {
			t.Fatalf("Open returned %q", got)
		}
		if p, ok := LocalPath(store, "videos/abc/original.mp4"); !ok || filepath.Dir(p) != filepath.Join(tmpDir, "videos", "abc") {
			t.Fatalf("LocalPath: %q ok=%v", p, ok)
		}
	})

	t.Run("OpenMissing", func(t *testing.T) {
		_, err := store.Open(ctx, "videos/missing.mp4")
		if !errors.Is(err, pkgerrors.ErrNotFound) {
			t.Fatalf("Open missing: want ErrNotFound got %v", err)
		}
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		if _, err := store.Put(ctx, "../escape.txt", bytes.NewReader(nil)); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
			t.Fatalf("Put traversal: want ErrInvalidArgument got %v", err)
		}
	})

	t.Run("DeletePrefix", func(t *testing.T) {
		for _, k := range []string{FrameKey("v1", 1, 0), FrameKey("v1", 1, 30), VideoKey("v1", "mp4"), VideoKey("v2", ".MP4")} {
			if _, err := store.Put(ctx, k, bytes.NewReader([]byte("x"))); err != nil {
				t.Fatalf("Put %s: %v", k, err)
			}
		}
		if err := store.DeletePrefix(ctx, VideoPrefix("v1")); err != nil {
			t.Fatalf("DeletePrefix: %v", err)
		}
		if _, err := os.Stat(filepath.Join(tmpDir, "videos", "v1")); !os.IsNotExist(err) {
			t.Fatalf("v1 prefix still present: %v", err)
		}
		if _, err := os.Stat(filepath.Join(tmpDir, "videos", "v2", "original.mp4")); err != nil {
			t.Fatalf("v2 was removed: %v", err)
		}
		if err := store.Delete(ctx, VideoKey("v2", "mp4")); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := store.Delete(ctx, VideoKey("v2", "mp4")); err != nil {
			t.Fatalf("Delete twice should be a no-op: %v", err)
		}
	})
}

func TestKeys(t *testing.T) {
	if got := FrameKey("vid", 3, 90); got != "videos/vid/frames/g3/frame_90.jpg" {
		t.Fatalf("FrameKey=%s", got)
	}
	if got := VideoKey("vid", "MOV"); got != "videos/vid/original.mov" {
		t.Fatalf("VideoKey=%s", got)
	}
	if got := FramePrefix("vid", 3); !strings.HasPrefix(FrameKey("vid", 3, 0), got) {
		t.Fatalf("FramePrefix=%s", got)
	}
}
