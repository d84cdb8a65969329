package completion

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/domain/completion"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
)

func TestSetPassedLeavesManualCompletions(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewCompletionRepo(db, testutil.Logger(t))

	cf := testutil.SeedCourse(t, ctx, tx)
	student := testutil.SeedUser(t, ctx, tx, "s-"+uuid.NewString()[:8]+"@example.com")
	teacher := testutil.SeedUser(t, ctx, tx, "t-"+uuid.NewString()[:8]+"@example.com")

	auto, err := repo.Create(dbc, &types.CourseModuleCompletion{
		CourseID: cf.Course.ID, CourseModuleID: cf.Module.ID, CourseInstanceID: cf.Instance.ID,
		UserID: student.ID, Email: student.Email, Passed: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	updated, err := repo.SetPassed(dbc, auto.ID, false)
	if err != nil {
		t.Fatalf("SetPassed: %v", err)
	}
	if updated.Passed {
		t.Fatalf("expected passed=false")
	}

	manual, err := repo.Create(dbc, &types.CourseModuleCompletion{
		CourseID: cf.Course.ID, CourseModuleID: cf.Module.ID, CourseInstanceID: cf.Instance.ID,
		UserID: teacher.ID, Email: teacher.Email, Passed: true, CompletionGrantedByTeacherID: &teacher.ID,
	})
	if err != nil {
		t.Fatalf("Create manual: %v", err)
	}
	if _, err := repo.SetPassed(dbc, manual.ID, false); !domainagg.IsCode(err, domainagg.CodePreconditionFailed) {
		t.Fatalf("manual completion must not be updated, got %v", err)
	}

	count := 0
	for row, err := range repo.StreamByModule(dbc, cf.Module.ID) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		if row.CourseModuleID != cf.Module.ID {
			t.Fatalf("unexpected row %+v", row)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 streamed completions, got %d", count)
	}
}

func TestCompletionSoftDelete(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewCompletionRepo(db, testutil.Logger(t))

	cf := testutil.SeedCourse(t, ctx, tx)
	student := testutil.SeedUser(t, ctx, tx, "s-"+uuid.NewString()[:8]+"@example.com")
	row := func() *types.CourseModuleCompletion {
		return &types.CourseModuleCompletion{
			CourseID: cf.Course.ID, CourseModuleID: cf.Module.ID, CourseInstanceID: cf.Instance.ID,
			UserID: student.ID, Email: student.Email, Passed: true,
		}
	}
	first, err := repo.Create(dbc, row())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.SoftDelete(dbc, first.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if _, err := repo.Get(dbc, student.ID, cf.Module.ID, cf.Instance.ID); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("deleted completion still visible: %v", err)
	}
	if err := repo.SoftDelete(dbc, first.ID); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("second SoftDelete err = %v", err)
	}
	if _, err := repo.Create(dbc, row()); err != nil {
		t.Fatalf("Create after delete: %v", err)
	}
}

func TestCertificateRegenerationAfterSoftDelete(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewCertificateRepo(db, testutil.Logger(t))

	cf := testutil.SeedCourse(t, ctx, tx)
	u := testutil.SeedUser(t, ctx, tx, "cert-"+uuid.NewString()[:8]+"@example.com")
	cfg, err := repo.CreateConfiguration(dbc, pkey.NewGenerate(), &types.CertificateConfiguration{
		OrganizationID:     cf.Org.ID,
		BackgroundBlobPath: "organizations/x/background.png",
	}, []uuid.UUID{cf.Module.ID})
	if err != nil {
		t.Fatalf("CreateConfiguration: %v", err)
	}
	reqs, _ := repo.ListRequirements(dbc, cfg.ID)
	if len(reqs) != 1 {
		t.Fatalf("expected one requirement")
	}

	first, err := repo.Create(dbc, &types.GeneratedCertificate{
		UserID: u.ID, CertificateConfigurationID: cfg.ID, NameOnCertificate: "Ada", VerificationID: uuid.NewString()[:15],
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	live, err := repo.GetLive(dbc, u.ID, cfg.ID)
	if err != nil || live == nil || live.ID != first.ID {
		t.Fatalf("GetLive: %v %+v", err, live)
	}
	if err := repo.SoftDelete(dbc, first.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	second, err := repo.Create(dbc, &types.GeneratedCertificate{
		UserID: u.ID, CertificateConfigurationID: cfg.ID, NameOnCertificate: "Ada", VerificationID: uuid.NewString()[:15],
	})
	if err != nil {
		t.Fatalf("regenerate after soft delete: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected distinct id")
	}
}

func TestChapterLockUpsert(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewChapterLockRepo(db, testutil.Logger(t))

	cf := testutil.SeedCourse(t, ctx, tx)
	u := testutil.SeedUser(t, ctx, tx, "lock-"+uuid.NewString()[:8]+"@example.com")

	if got, err := repo.Get(dbc, u.ID, cf.Chapter.ID); err != nil || got != nil {
		t.Fatalf("expected no status yet: %v %+v", err, got)
	}
	a, err := repo.Upsert(dbc, u.ID, cf.Chapter.ID, cf.Course.ID, completion.ChapterUnlocked)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	b, err := repo.Upsert(dbc, u.ID, cf.Chapter.ID, cf.Course.ID, completion.ChapterCompletedAndLocked)
	if err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	if a.ID != b.ID || b.Status != completion.ChapterCompletedAndLocked {
		t.Fatalf("expected in-place status update, got %+v", b)
	}
}
