package temporalx

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

func TestClampBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 250 * time.Millisecond},
		{2, 500 * time.Millisecond},
		{4, 2 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := clampBackoff(250*time.Millisecond, 5*time.Second, tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: got %v want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestIsRetryableRPC(t *testing.T) {
	if !isRetryableRPC(status.Error(codes.Unavailable, "down")) {
		t.Fatal("Unavailable should retry")
	}
	if isRetryableRPC(status.Error(codes.PermissionDenied, "no")) {
		t.Fatal("PermissionDenied should not retry")
	}
	if !isRetryableRPC(context.DeadlineExceeded) {
		t.Fatal("deadline should retry")
	}
	if isRetryableRPC(errors.New("boom")) {
		t.Fatal("plain error should not retry")
	}
}

func TestNewClientDisabled(t *testing.T) {
	t.Setenv("TEMPORAL_ADDRESS", "")
	cfg := ConfigFromEnv()
	if cfg.Enabled() {
		t.Fatal("expected disabled config")
	}
	c, err := NewClient(logger.Nop(), cfg)
	if err != nil || c != nil {
		t.Fatalf("client=%v err=%v", c, err)
	}
	if cfg.TaskQueue != "video-analysis" || cfg.Namespace != "videoreview" {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestLoadTLSConfigRequiresPair(t *testing.T) {
	if _, err := loadTLSConfig(Config{ClientCAPath: "/tmp/ca.pem"}); err == nil {
		t.Fatal("expected error without cert/key")
	}
}
