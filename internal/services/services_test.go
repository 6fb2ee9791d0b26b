package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	"github.com/yungbote/videoreview-backend/internal/data/repos/testutil"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/platform/blob"
)

type fixture struct {
	db       *gorm.DB
	store    blob.Store
	videos   repos.VideoRepo
	frames   repos.FrameRepo
	events   repos.EventRepo
	jobs     repos.JobRunRepo
	analysis AnalysisService
	video    VideoService
	eventSvc EventService
}

func newFixture(t *testing.T, maxBytes int64) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	store, err := blob.NewLocalStore(log, t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	f := &fixture{
		db:     db,
		store:  store,
		videos: repos.NewVideoRepo(db, log),
		frames: repos.NewFrameRepo(db, log),
		events: repos.NewEventRepo(db, log),
		jobs:   repos.NewJobRunRepo(db, log),
	}
	jobSvc := NewJobService(log, f.jobs, NewJobNotifier(log, nil), nil, "", 5)
	f.analysis = NewAnalysisService(log, f.videos, f.events, f.jobs, jobSvc)
	f.video = NewVideoService(log, UploadConfig{MaxBytes: maxBytes}, store, f.videos, f.frames, repos.NewDetectedObjectRepo(db, log), f.events, f.analysis)
	f.eventSvc = NewEventService(log, f.videos, f.events)
	return f
}

// mp4Bytes starts with an ISO base media "ftyp isom" box so content sniffing sees a video.
func mp4Bytes(n int) []byte {
	b := make([]byte, n)
	copy(b, []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00})
	return b
}

func upload(f *fixture, userID uuid.UUID, name string, body []byte) (*types.Video, *types.JobRun, error) {
	return f.video.Upload(context.Background(), UploadInput{
		UserID:        userID,
		Title:         "Morning commute",
		Filename:      name,
		Size:          int64(len(body)),
		Body:          bytes.NewReader(body),
		AnalysisTypes: []string{"object_detection", "event_classification"},
	})
}

func TestUploadStoresVideoAndEnqueuesAnalysis(t *testing.T) {
	f := newFixture(t, 1<<20)
	userID := uuid.New()
	video, job, err := upload(f, userID, "Clip.MP4", mp4Bytes(4096))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if video.Status != types.VideoStatusUploaded || video.FileSize == nil || *video.FileSize != 4096 {
		t.Fatalf("video = %+v", video)
	}
	if !strings.HasSuffix(video.StorageKey, "/original.mp4") {
		t.Fatalf("storage key = %s", video.StorageKey)
	}
	rc, err := f.store.Open(context.Background(), video.StorageKey)
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	rc.Close()

	if job == nil || job.JobType != types.JobTypeVideoAnalyze || job.EntityID == nil || *job.EntityID != video.ID {
		t.Fatalf("job = %+v", job)
	}
	if job.Status != types.JobStatusQueued || job.OwnerUserID != userID {
		t.Fatalf("job status=%s owner=%s", job.Status, job.OwnerUserID)
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	f := newFixture(t, 8192)
	userID := uuid.New()
	cases := []struct {
		name string
		file string
		body []byte
	}{
		{"extension", "clip.webm", mp4Bytes(1024)},
		{"not a video", "clip.mp4", []byte("%PDF-1.7 definitely not video bytes")},
		{"too large", "clip.mp4", mp4Bytes(9000)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := upload(f, userID, tc.file, tc.body)
			if !errors.Is(err, pkgerrors.ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
	list, err := f.video.List(context.Background(), repos.VideoFilter{UserID: userID})
	if err != nil || len(list) != 0 {
		t.Fatalf("rejected uploads left rows: %d err=%v", len(list), err)
	}
}

func TestUploadRejectsUnderstatedSize(t *testing.T) {
	f := newFixture(t, 4096)
	_, _, err := f.video.Upload(context.Background(), UploadInput{
		UserID:   uuid.New(),
		Title:    "liar",
		Filename: "clip.mov",
		Size:     10,
		Body:     bytes.NewReader(mp4Bytes(5000)),
	})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestEnqueueDedupesRunnableJobs(t *testing.T) {
	f := newFixture(t, 0)
	userID := uuid.New()
	v := testutil.SeedVideo(t, context.Background(), f.db, userID, "")

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := f.analysis.Enqueue(context.Background(), userID, v.ID, nil)
			errs[i] = err
			if job != nil {
				ids[i] = job.ID
			}
		}(i)
	}
	wg.Wait()
	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("Enqueue %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("enqueue %d returned job %s, want %s", i, ids[i], ids[0])
		}
	}

	// Once the job is terminal a new one is created.
	if err := f.jobs.UpdateFields(dbctx.Context{Ctx: context.Background()}, ids[0], map[string]interface{}{"status": types.JobStatusSucceeded}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	next, err := f.analysis.Enqueue(context.Background(), userID, v.ID, nil)
	if err != nil || next.ID == ids[0] {
		t.Fatalf("expected a fresh job, got %v err=%v", next, err)
	}
}

func TestAnalyzeValidatesAndStoresConfig(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	userID := uuid.New()
	v := testutil.SeedVideo(t, ctx, f.db, userID, "")

	_, err := f.analysis.Analyze(ctx, userID, v.ID, AnalyzeRequest{AnalysisTypes: []string{"lane_keeping"}})
	if !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("unknown type: err = %v", err)
	}
	_, err = f.analysis.Analyze(ctx, userID, v.ID, AnalyzeRequest{
		AnalysisTypes: []string{"guideline_adherence"},
		CustomRules:   []byte(`{"rules": "nope"}`),
	})
	if !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("bad rules: err = %v", err)
	}
	_, err = f.analysis.Analyze(ctx, uuid.New(), v.ID, AnalyzeRequest{AnalysisTypes: []string{"object_detection"}})
	if !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("other user: err = %v", err)
	}

	job, err := f.analysis.Analyze(ctx, userID, v.ID, AnalyzeRequest{
		AnalysisTypes: []string{"object_detection", "activity_recognition"},
		CustomRules:   []byte(`{"disabled": ["speeding"]}`),
		PurgePrevious: true,
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.Contains(string(job.Payload), `"purge_previous":true`) {
		t.Fatalf("payload = %s", job.Payload)
	}
	got, _ := f.videos.GetByID(dbctx.Context{Ctx: ctx}, v.ID)
	if string(got.AnalysisTypes) != `["object_detection","activity_recognition"]` {
		t.Fatalf("analysis_types = %s", got.AnalysisTypes)
	}
	if !strings.Contains(string(got.CustomRules), "speeding") {
		t.Fatalf("custom_rules = %s", got.CustomRules)
	}
}

func TestAnalyzeWhileJobQueued(t *testing.T) {
	f := newFixture(t, 1<<20)
	ctx := context.Background()
	userID := uuid.New()
	v, queued, err := upload(f, userID, "clip.mp4", mp4Bytes(2048))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	// Same settings as the upload job, in another order: joins it.
	job, err := f.analysis.Analyze(ctx, userID, v.ID, AnalyzeRequest{
		AnalysisTypes: []string{"event_classification", "object_detection"},
	})
	if err != nil || job.ID != queued.ID {
		t.Fatalf("identical request: job=%v err=%v, want %s", job, err, queued.ID)
	}

	for name, req := range map[string]AnalyzeRequest{
		"purge": {AnalysisTypes: []string{"object_detection", "event_classification"}, PurgePrevious: true},
		"types": {AnalysisTypes: []string{"guideline_adherence"}},
		"rules": {AnalysisTypes: []string{"object_detection", "event_classification"}, CustomRules: []byte(`{"disabled":["speeding"]}`)},
	} {
		if _, err := f.analysis.Analyze(ctx, userID, v.ID, req); !errors.Is(err, pkgerrors.ErrConflict) {
			t.Fatalf("%s: err = %v, want ErrConflict", name, err)
		}
	}
	got, _ := f.videos.GetByID(dbctx.Context{Ctx: ctx}, v.ID)
	if string(got.AnalysisTypes) != `["object_detection","event_classification"]` {
		t.Fatalf("conflicting request changed analysis_types: %s", got.AnalysisTypes)
	}

	if err := f.jobs.UpdateFields(dbctx.Context{Ctx: ctx}, queued.ID, map[string]interface{}{"status": types.JobStatusSucceeded}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	next, err := f.analysis.Analyze(ctx, userID, v.ID, AnalyzeRequest{AnalysisTypes: []string{"guideline_adherence"}, PurgePrevious: true})
	if err != nil || next.ID == queued.ID {
		t.Fatalf("after completion: job=%v err=%v", next, err)
	}
}

func TestStatusCountsCurrentGeneration(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	userID := uuid.New()
	v := testutil.SeedVideo(t, ctx, f.db, userID, "")
	if err := f.videos.UpdateFields(dbctx.Context{Ctx: ctx}, v.ID, map[string]interface{}{"analysis_generation": 2}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	testutil.SeedEvent(t, ctx, f.db, v.ID, 1, 0, 1, true)
	testutil.SeedEvent(t, ctx, f.db, v.ID, 2, 0, 1, true)
	testutil.SeedEvent(t, ctx, f.db, v.ID, 2, 2, 3, false)

	st, err := f.analysis.Status(ctx, userID, v.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Generation != 2 || st.EventsCount != 2 || st.ViolationsCount != 1 {
		t.Fatalf("status = %+v", st)
	}
	if st.ProcessingDuration != nil || st.Job != nil {
		t.Fatalf("unexpected duration/job: %+v", st)
	}

	if _, err := f.analysis.Status(ctx, uuid.New(), v.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("other user: err = %v", err)
	}
}

func TestStatisticsRollup(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	userID := uuid.New()
	a := testutil.SeedVideo(t, ctx, f.db, userID, "")
	b := testutil.SeedVideo(t, ctx, f.db, userID, "")
	other := testutil.SeedVideo(t, ctx, f.db, uuid.New(), "")
	_ = f.videos.UpdateFields(dbctx.Context{Ctx: ctx}, b.ID, map[string]interface{}{"status": types.VideoStatusFailed})
	testutil.SeedEvent(t, ctx, f.db, a.ID, 1, 0, 1, true)
	testutil.SeedEvent(t, ctx, f.db, a.ID, 1, 1, 2, false)
	testutil.SeedEvent(t, ctx, f.db, other.ID, 1, 0, 1, true)

	st, err := f.analysis.Statistics(ctx, userID)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if st.TotalVideos != 2 || st.VideosByStatus[types.VideoStatusUploaded] != 1 || st.VideosByStatus[types.VideoStatusFailed] != 1 {
		t.Fatalf("videos = %+v", st)
	}
	if st.TotalEvents != 2 || st.TotalViolations != 1 {
		t.Fatalf("events = %+v", st)
	}
	if st.EventsBySeverity[types.SeverityViolation] != 1 || st.EventsBySeverity[types.SeverityInfo] != 1 || st.EventsBySeverity[types.SeverityCritical] != 0 {
		t.Fatalf("severity = %v", st.EventsBySeverity)
	}
}

func TestDeleteRemovesRowsAndBlobs(t *testing.T) {
	f := newFixture(t, 1<<20)
	ctx := context.Background()
	userID := uuid.New()
	video, _, err := upload(f, userID, "clip.mp4", mp4Bytes(2048))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	testutil.SeedFrame(t, ctx, f.db, video.ID, 1, 0, 0)
	testutil.SeedEvent(t, ctx, f.db, video.ID, 1, 0, 1, false)

	if err := f.video.Delete(ctx, uuid.New(), video.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("other user delete: err = %v", err)
	}
	if err := f.video.Delete(ctx, userID, video.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.video.Get(ctx, userID, video.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("Get after delete: err = %v", err)
	}
	if _, err := f.store.Open(ctx, video.StorageKey); err == nil {
		t.Fatal("original still stored after delete")
	}
	n, err := f.events.Counts(dbctx.Context{Ctx: ctx}, repos.EventFilter{VideoID: video.ID})
	if err != nil || n.Total != 0 {
		t.Fatalf("events left: %+v err=%v", n, err)
	}
}

func TestFrameObjectsScopedToVideo(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	userID := uuid.New()
	a := testutil.SeedVideo(t, ctx, f.db, userID, "")
	b := testutil.SeedVideo(t, ctx, f.db, userID, "")
	frame := testutil.SeedFrame(t, ctx, f.db, a.ID, 1, 0, 0)

	if _, err := f.video.FrameObjects(ctx, userID, b.ID, frame.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("cross-video frame: err = %v", err)
	}
	objs, err := f.video.FrameObjects(ctx, userID, a.ID, frame.ID)
	if err != nil || len(objs) != 0 {
		t.Fatalf("objects = %v err=%v", objs, err)
	}
}

func TestEventsFilterValidatesSeverity(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	userID := uuid.New()
	v := testutil.SeedVideo(t, ctx, f.db, userID, "")
	testutil.SeedEvent(t, ctx, f.db, v.ID, 1, 0, 1, true)
	testutil.SeedEvent(t, ctx, f.db, v.ID, 1, 4, 5, false)

	if _, err := f.video.Events(ctx, userID, repos.EventFilter{VideoID: v.ID, Severity: "loud"}); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
	yes := true
	evs, err := f.video.Events(ctx, userID, repos.EventFilter{VideoID: v.ID, IsViolation: &yes})
	if err != nil || len(evs) != 1 || !evs[0].IsViolation {
		t.Fatalf("events = %v err=%v", evs, err)
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestManualEventCreateUsesCurrentGeneration(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	userID := uuid.New()
	v := testutil.SeedVideo(t, ctx, f.db, userID, "")
	if err := f.videos.UpdateFields(dbctx.Context{Ctx: ctx}, v.ID, map[string]interface{}{"analysis_generation": 3}); err != nil {
		t.Fatalf("bump generation: %v", err)
	}

	ev, err := f.eventSvc.Create(ctx, userID, v.ID, EventInput{
		EventType:  "near_miss",
		Title:      " Late brake ",
		StartTime:  floatPtr(2),
		EndTime:    floatPtr(4),
		Confidence: floatPtr(0.7),
		Metadata:   []byte(`{"note":"reviewer"}`),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ev.Generation != 3 || ev.Title != "Late brake" || ev.DetectedBy != detectedByManual || ev.Severity != types.SeverityInfo {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Duration == nil || *ev.Duration != 2 {
		t.Fatalf("duration = %v", ev.Duration)
	}

	if _, err := f.eventSvc.Create(ctx, userID, v.ID, EventInput{EventType: "x", Title: "y", StartTime: floatPtr(1), Confidence: floatPtr(1.5)}); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("confidence out of range err = %v", err)
	}
	if _, err := f.eventSvc.Create(ctx, uuid.New(), v.ID, EventInput{EventType: "x", Title: "y", StartTime: floatPtr(1), Confidence: floatPtr(0.5)}); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("stranger create err = %v", err)
	}
}

func TestManualEventUpdateAndDelete(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	userID := uuid.New()
	v := testutil.SeedVideo(t, ctx, f.db, userID, "")
	seeded := testutil.SeedEvent(t, ctx, f.db, v.ID, 0, 1, 3, false)

	title := "Rolled the stop"
	severity := types.SeverityViolation
	yes := true
	if _, err := f.eventSvc.Update(ctx, userID, seeded.ID, EventPatch{Title: &title, Severity: &severity, IsViolation: &yes, EndTime: floatPtr(6)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := f.eventSvc.Get(ctx, userID, seeded.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != title || got.Severity != severity || !got.IsViolation || got.Duration == nil || *got.Duration != 5 {
		t.Fatalf("updated = %+v", got)
	}

	empty := ""
	if _, err := f.eventSvc.Update(ctx, userID, seeded.ID, EventPatch{Severity: &empty}); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("empty severity err = %v", err)
	}
	if _, err := f.eventSvc.Update(ctx, userID, seeded.ID, EventPatch{StartTime: floatPtr(9)}); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("start after end err = %v", err)
	}
	if _, err := f.eventSvc.Update(ctx, userID, seeded.ID, EventPatch{Metadata: []byte(`"text"`)}); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("non-object metadata err = %v", err)
	}

	if err := f.eventSvc.Delete(ctx, uuid.New(), seeded.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("stranger delete err = %v", err)
	}
	if err := f.eventSvc.Delete(ctx, userID, seeded.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.eventSvc.Get(ctx, userID, seeded.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("get after delete err = %v", err)
	}
}

func TestVideoUpdateTitleAndDescription(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	userID := uuid.New()
	v := testutil.SeedVideo(t, ctx, f.db, userID, "")

	title, desc := " Evening run ", "rain"
	got, err := f.video.Update(ctx, userID, v.ID, VideoPatch{Title: &title, Description: &desc})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != "Evening run" || got.Description != "rain" {
		t.Fatalf("video = %+v", got)
	}
	blank := " "
	if _, err := f.video.Update(ctx, userID, v.ID, VideoPatch{Title: &blank}); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("blank title err = %v", err)
	}
	if _, err := f.video.Update(ctx, uuid.New(), v.ID, VideoPatch{Title: &title}); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("stranger update err = %v", err)
	}
}
