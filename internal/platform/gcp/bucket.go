package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/videoreview-backend/internal/pkg/ctxutil"
	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/platform/blob"
)

type ObjectStorageMode string

const (
	ObjectStorageModeGCS         ObjectStorageMode = "gcs"
	ObjectStorageModeGCSEmulator ObjectStorageMode = "gcs_emulator"
)

type BucketConfig struct {
	Bucket       string
	Mode         ObjectStorageMode
	EmulatorHost string
}

// BucketConfigFromEnv reads VIDEO_GCS_BUCKET_NAME, OBJECT_STORAGE_MODE and STORAGE_EMULATOR_HOST.
// An emulator host without an explicit mode selects gcs_emulator.
func BucketConfigFromEnv() (BucketConfig, error) {
	cfg := BucketConfig{
		Bucket:       strings.TrimSpace(os.Getenv("VIDEO_GCS_BUCKET_NAME")),
		EmulatorHost: strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/"),
	}
	rawMode := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_MODE"))
	switch ObjectStorageMode(strings.ToLower(rawMode)) {
	case "":
		cfg.Mode = ObjectStorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = ObjectStorageModeGCSEmulator
		}
	case ObjectStorageModeGCS:
		cfg.Mode = ObjectStorageModeGCS
	case ObjectStorageModeGCSEmulator:
		cfg.Mode = ObjectStorageModeGCSEmulator
	default:
		return cfg, fmt.Errorf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q)", rawMode, ObjectStorageModeGCS, ObjectStorageModeGCSEmulator)
	}
	return cfg, cfg.Validate()
}

func (c BucketConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("missing env var VIDEO_GCS_BUCKET_NAME")
	}
	if c.Mode != ObjectStorageModeGCSEmulator {
		return nil
	}
	if c.EmulatorHost == "" {
		return fmt.Errorf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST to be set", ObjectStorageModeGCSEmulator)
	}
	u, err := url.Parse(c.EmulatorHost)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", c.EmulatorHost)
	}
	return nil
}

// bucketStore implements blob.Store over a single GCS bucket.
type bucketStore struct {
	log    *logger.Logger
	client *storage.Client
	cfg    BucketConfig
}

func NewBucketStore(log *logger.Logger, cfg BucketConfig) (blob.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	ctx := context.Background()
	client, err := newStorageClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	slog := log.With("service", "BucketStore")
	slog.Info("Object storage initialized", "mode", cfg.Mode, "bucket", cfg.Bucket, "emulator_host", cfg.EmulatorHost)
	return &bucketStore{log: slog, client: client, cfg: cfg}, nil
}

func newStorageClient(ctx context.Context, cfg BucketConfig) (*storage.Client, error) {
	if cfg.Mode == ObjectStorageModeGCSEmulator {
		// The client library routes to the emulator when this is set.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	return storage.NewClient(ctx, opts...)
}

func (bs *bucketStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 5*time.Minute)
	defer cancel()

	w := bs.client.Bucket(bs.cfg.Bucket).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return n, nil
}

// readCloserWithCancel keeps the read context alive until Close.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (bs *bucketStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctxutil.Default(ctx), 10*time.Minute)
	r, err := bs.client.Bucket(bs.cfg.Bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: blob %q", pkgerrors.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (bs *bucketStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 30*time.Second)
	defer cancel()
	err := bs.client.Bucket(bs.cfg.Bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, bs.cfg.Bucket, err)
	}
	return nil
}

func (bs *bucketStore) DeletePrefix(ctx context.Context, prefix string) error {
	ctx = ctxutil.Default(ctx)
	listCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	it := bs.client.Bucket(bs.cfg.Bucket).Objects(listCtx, &storage.Query{Prefix: prefix})
	var firstErr error
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		if err := bs.Delete(ctx, attrs.Name); err != nil {
			bs.log.Warn("delete prefix entry failed", "key", attrs.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (bs *bucketStore) URI(key string) string {
	if bs.cfg.Mode == ObjectStorageModeGCSEmulator {
		// Video Intelligence cannot read from an emulator bucket.
		return ""
	}
	return fmt.Sprintf("gs://%s/%s", bs.cfg.Bucket, strings.TrimLeft(key, "/"))
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".mp4"), strings.HasSuffix(s, ".m4v"):
		return "video/mp4"
	case strings.HasSuffix(s, ".mov"):
		return "video/quicktime"
	case strings.HasSuffix(s, ".avi"):
		return "video/x-msvideo"
	case strings.HasSuffix(s, ".mkv"):
		return "video/x-matroska"
	default:
		return ""
	}
}
