package videos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/videoreview-backend/internal/data/repos/testutil"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
)

func TestVideoRepoLeaseLifecycle(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewVideoRepo(db, testutil.Logger(t))

	v := testutil.SeedVideo(t, ctx, tx, uuid.New(), `["object_detection"]`)

	first := uuid.New()
	gen, ok, err := repo.AcquireLease(dbc, v.ID, first, time.Hour)
	if err != nil || !ok {
		t.Fatalf("AcquireLease #1: ok=%v err=%v", ok, err)
	}
	if gen != 1 {
		t.Fatalf("AcquireLease #1: generation=%d want=1", gen)
	}

	second := uuid.New()
	if _, ok, err := repo.AcquireLease(dbc, v.ID, second, time.Hour); err != nil || ok {
		t.Fatalf("AcquireLease #2 while held: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.CompleteUnderLease(dbc, v.ID, second); err != nil || ok {
		t.Fatalf("CompleteUnderLease with foreign token: ok=%v err=%v", ok, err)
	}

	if ok, err := repo.CompleteUnderLease(dbc, v.ID, first); err != nil || !ok {
		t.Fatalf("CompleteUnderLease: ok=%v err=%v", ok, err)
	}
	got, err := repo.GetByID(dbc, v.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.VideoStatusCompleted || got.ProcessingCompletedAt == nil || got.LeaseToken != nil {
		t.Fatalf("after complete: status=%s completed_at=%v lease=%v", got.Status, got.ProcessingCompletedAt, got.LeaseToken)
	}
	if got.ProcessingCompletedAt.Before(*got.ProcessingStartedAt) {
		t.Fatalf("completed_at before started_at")
	}

	gen, ok, err = repo.AcquireLease(dbc, v.ID, second, time.Hour)
	if err != nil || !ok || gen != 2 {
		t.Fatalf("AcquireLease re-entry: gen=%d ok=%v err=%v", gen, ok, err)
	}
	got, _ = repo.GetByID(dbc, v.ID)
	if got.Status != types.VideoStatusProcessing || got.ProcessingCompletedAt != nil {
		t.Fatalf("re-entry must clear completed_at: status=%s completed_at=%v", got.Status, got.ProcessingCompletedAt)
	}

	if ok, err := repo.FailUnderLease(dbc, v.ID, second, "boom"); err != nil || !ok {
		t.Fatalf("FailUnderLease: ok=%v err=%v", ok, err)
	}
	got, _ = repo.GetByID(dbc, v.ID)
	if got.Status != types.VideoStatusFailed || got.ProcessingError != "boom" || got.ProcessingCompletedAt != nil {
		t.Fatalf("after fail: status=%s err=%q completed_at=%v", got.Status, got.ProcessingError, got.ProcessingCompletedAt)
	}
}

func TestVideoRepoExpiredLeaseCanBeTaken(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewVideoRepo(db, testutil.Logger(t))

	v := testutil.SeedVideo(t, ctx, tx, uuid.New(), "")
	crashed := uuid.New()
	if _, ok, err := repo.AcquireLease(dbc, v.ID, crashed, -time.Second); err != nil || !ok {
		t.Fatalf("AcquireLease (expired ttl): ok=%v err=%v", ok, err)
	}
	gen, ok, err := repo.AcquireLease(dbc, v.ID, uuid.New(), time.Hour)
	if err != nil || !ok {
		t.Fatalf("AcquireLease over expired lease: ok=%v err=%v", ok, err)
	}
	if gen != 2 {
		t.Fatalf("generation=%d want=2", gen)
	}
	if ok, _ := repo.FailUnderLease(dbc, v.ID, crashed, "late"); ok {
		t.Fatalf("stale lease holder must not write terminal status")
	}
}

func TestVideoRepoListAndCascade(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewVideoRepo(db, testutil.Logger(t))
	events := NewEventRepo(db, testutil.Logger(t))
	objects := NewDetectedObjectRepo(db, testutil.Logger(t))

	user := uuid.New()
	a := testutil.SeedVideo(t, ctx, tx, user, `["object_detection","guideline_adherence"]`)
	b := testutil.SeedVideo(t, ctx, tx, user, `["event_classification"]`)
	testutil.SeedVideo(t, ctx, tx, uuid.New(), `["object_detection"]`)

	testutil.SeedEvent(t, ctx, tx, a.ID, 1, 1, 2, true)

	list, err := repo.List(dbc, VideoFilter{UserID: user})
	if err != nil || len(list) != 2 {
		t.Fatalf("List(user): len=%d err=%v", len(list), err)
	}
	yes, no := true, false
	list, err = repo.List(dbc, VideoFilter{UserID: user, HasViolations: &yes})
	if err != nil || len(list) != 1 || list[0].ID != a.ID {
		t.Fatalf("List(has_violations=true): %v err=%v", list, err)
	}
	list, err = repo.List(dbc, VideoFilter{UserID: user, HasViolations: &no})
	if err != nil || len(list) != 1 || list[0].ID != b.ID {
		t.Fatalf("List(has_violations=false): %v err=%v", list, err)
	}
	list, err = repo.List(dbc, VideoFilter{UserID: user, AnalysisType: "event_classification"})
	if err != nil || len(list) != 1 || list[0].ID != b.ID {
		t.Fatalf("List(analysis_type): %v err=%v", list, err)
	}

	counts, err := repo.CountByStatus(dbc, user)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[types.VideoStatusUploaded] != 2 || counts[types.VideoStatusFailed] != 0 {
		t.Fatalf("CountByStatus: %v", counts)
	}

	f := testutil.SeedFrame(t, ctx, tx, a.ID, 1, 0, 0)
	track := "track_0_0"
	objs, err := objects.Create(dbc, []*types.DetectedObject{{FrameID: f.ID, ClassName: "car", Confidence: 0.9, BBoxX: 0.1, BBoxY: 0.1, BBoxWidth: 0.1, BBoxHeight: 0.1, TrackID: &track}})
	if err != nil {
		t.Fatalf("objects.Create: %v", err)
	}
	ev := testutil.SeedEvent(t, ctx, tx, a.ID, 1, 0, 1, false)
	if err := events.AttachObjects(dbc, ev, objs); err != nil {
		t.Fatalf("AttachObjects: %v", err)
	}

	if err := repo.DeleteCascade(dbc, a.ID); err != nil {
		t.Fatalf("DeleteCascade: %v", err)
	}
	if got, _ := repo.GetByID(dbc, a.ID); got != nil {
		t.Fatalf("video survived cascade")
	}
	left, err := events.List(dbc, EventFilter{VideoID: a.ID})
	if err != nil || len(left) != 0 {
		t.Fatalf("events survived cascade: %d err=%v", len(left), err)
	}
	if n, _ := objects.CountByVideo(dbc, a.ID, 1); n != 0 {
		t.Fatalf("objects survived cascade: %d", n)
	}
}
