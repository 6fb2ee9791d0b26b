package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/videoreview-backend/internal/domain"
)

func SeedVideo(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, analysisTypes string) *types.Video {
	tb.Helper()
	if analysisTypes == "" {
		analysisTypes = "[]"
	}
	v := &types.Video{
		ID:            uuid.New(),
		UserID:        userID,
		Title:         "dashcam",
		StorageKey:    "videos/" + userID.String() + "/clip.mp4",
		OriginalName:  "clip.mp4",
		Status:        types.VideoStatusUploaded,
		AnalysisTypes: datatypes.JSON([]byte(analysisTypes)),
	}
	if err := tx.WithContext(ctx).Create(v).Error; err != nil {
		tb.Fatalf("seed video: %v", err)
	}
	return v
}

func SeedFrame(tb testing.TB, ctx context.Context, tx *gorm.DB, videoID uuid.UUID, generation int, frameNumber int, ts float64) *types.Frame {
	tb.Helper()
	f := &types.Frame{
		ID:          uuid.New(),
		VideoID:     videoID,
		Generation:  generation,
		FrameNumber: frameNumber,
		Timestamp:   ts,
		ImageKey:    "frames/test.jpg",
		Width:       64,
		Height:      36,
		FileSize:    1024,
	}
	if err := tx.WithContext(ctx).Omit("Objects").Create(f).Error; err != nil {
		tb.Fatalf("seed frame: %v", err)
	}
	return f
}

func SeedEvent(tb testing.TB, ctx context.Context, tx *gorm.DB, videoID uuid.UUID, generation int, start float64, end float64, violation bool) *types.Event {
	tb.Helper()
	severity := types.SeverityInfo
	if violation {
		severity = types.SeverityViolation
	}
	e := &types.Event{
		ID:          uuid.New(),
		VideoID:     videoID,
		Generation:  generation,
		EventType:   "vehicle_movement",
		Title:       "Vehicle Movement Detected",
		Severity:    severity,
		StartTime:   start,
		EndTime:     &end,
		Confidence:  0.8,
		DetectedBy:  "fixture",
		IsViolation: violation,
	}
	if err := tx.WithContext(ctx).Omit("RelatedObjects").Create(e).Error; err != nil {
		tb.Fatalf("seed event: %v", err)
	}
	return e
}
