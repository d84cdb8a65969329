package studyregistry

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos"
	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
)

type registryFixture struct {
	svc       Service
	set       repos.Set
	dbc       dbctx.Context
	course    *testutil.CourseFixture
	registrar *types.StudyRegistryRegistrar
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	ctx := context.Background()
	set := repos.NewSet(tx, log)
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	reg, err := set.StudyRegistry.CreateRegistrar(dbc, pkey.NewGenerate(), &types.StudyRegistryRegistrar{
		Name:      "Open University",
		SecretKey: "secret-" + uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("CreateRegistrar: %v", err)
	}
	return &registryFixture{
		svc:       NewService(tx, log, set),
		set:       set,
		dbc:       dbc,
		course:    testutil.SeedCourse(t, ctx, tx),
		registrar: reg,
	}
}

func (f *registryFixture) completion(t *testing.T, passed bool) *types.CourseModuleCompletion {
	t.Helper()
	u := testutil.SeedUser(t, f.dbc.Ctx, f.dbc.Tx, "student-"+uuid.NewString()[:8]+"@example.com")
	c, err := f.set.Completions.Create(f.dbc, &types.CourseModuleCompletion{
		CourseID:         f.course.Course.ID,
		CourseModuleID:   f.course.Module.ID,
		CourseInstanceID: f.course.Instance.ID,
		UserID:           u.ID,
		Email:            u.Email,
		Passed:           passed,
	})
	if err != nil {
		t.Fatalf("create completion: %v", err)
	}
	return c
}

func (f *registryFixture) unregistered(t *testing.T) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	for c, err := range f.svc.Unregistered(f.dbc.Ctx, f.registrar.ID, f.course.Module.ID) {
		if err != nil {
			t.Fatalf("Unregistered: %v", err)
		}
		ids = append(ids, c.ID)
	}
	return ids
}

func TestAuthenticate(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	got, err := f.svc.Authenticate(ctx, " "+f.registrar.SecretKey+" ")
	if err != nil || got.ID != f.registrar.ID {
		t.Fatalf("Authenticate = %+v, %v", got, err)
	}
	for _, secret := range []string{"", "wrong"} {
		if _, err := f.svc.Authenticate(ctx, secret); !domainagg.IsCode(err, domainagg.CodeUnauthorized) {
			t.Fatalf("secret %q: err = %v", secret, err)
		}
	}
}

func TestRegisterCompletionsRemovesThemFromTheStream(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	first := f.completion(t, true)
	second := f.completion(t, true)
	f.completion(t, false)

	if ids := f.unregistered(t); len(ids) != 2 {
		t.Fatalf("unregistered = %v", ids)
	}

	n, err := f.svc.RegisterCompletions(ctx, f.registrar.ID, []Registration{{CompletionID: first.ID, RealStudentNumber: "0123456"}})
	if err != nil || n != 1 {
		t.Fatalf("RegisterCompletions = %d, %v", n, err)
	}
	ids := f.unregistered(t)
	if len(ids) != 1 || ids[0] != second.ID {
		t.Fatalf("unregistered after register = %v", ids)
	}

	n, err = f.svc.RegisterCompletions(ctx, f.registrar.ID, []Registration{
		{CompletionID: first.ID, RealStudentNumber: "0123456"},
		{CompletionID: second.ID, RealStudentNumber: "0654321"},
	})
	if err != nil || n != 1 {
		t.Fatalf("re-registering must only add new rows: %d, %v", n, err)
	}
	if ids := f.unregistered(t); len(ids) != 0 {
		t.Fatalf("unregistered = %v", ids)
	}
}

func TestRegisterCompletionsRejectsBadInput(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	failed := f.completion(t, false)

	if _, err := f.svc.RegisterCompletions(ctx, f.registrar.ID, []Registration{{CompletionID: failed.ID, RealStudentNumber: "1"}}); !domainagg.IsCode(err, domainagg.CodePreconditionFailed) {
		t.Fatalf("failed completion err = %v", err)
	}
	if _, err := f.svc.RegisterCompletions(ctx, f.registrar.ID, []Registration{{CompletionID: failed.ID}}); !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("missing student number err = %v", err)
	}
	if _, err := f.svc.RegisterCompletions(ctx, f.registrar.ID, []Registration{{CompletionID: uuid.New(), RealStudentNumber: "1"}}); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("unknown completion err = %v", err)
	}
}
