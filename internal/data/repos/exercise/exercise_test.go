package exercise

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
)

func TestExerciseRepoDeletedChapter(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewExerciseRepo(db, testutil.Logger(t))

	cf := testutil.SeedCourse(t, ctx, tx)
	ef := testutil.SeedExercise(t, ctx, tx, cf, 10, "quizzes")

	deleted, err := repo.InDeletedChapter(dbc, ef.Exercise)
	if err != nil {
		t.Fatalf("InDeletedChapter: %v", err)
	}
	if deleted {
		t.Fatalf("chapter should be live")
	}
	byModule, err := repo.ListByModule(dbc, cf.Module.ID)
	if err != nil || len(byModule) != 1 {
		t.Fatalf("ListByModule: %v (%d rows)", err, len(byModule))
	}

	if err := tx.Delete(cf.Chapter).Error; err != nil {
		t.Fatalf("delete chapter: %v", err)
	}
	deleted, err = repo.InDeletedChapter(dbc, ef.Exercise)
	if err != nil {
		t.Fatalf("InDeletedChapter: %v", err)
	}
	if !deleted {
		t.Fatalf("chapter should be reported deleted")
	}
	byModule, _ = repo.ListByModule(dbc, cf.Module.ID)
	if len(byModule) != 0 {
		t.Fatalf("exercises in deleted chapters must not count toward the module")
	}
}

func TestUpsertUserVariable(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewServiceRepo(db, testutil.Logger(t))

	cf := testutil.SeedCourse(t, ctx, tx)
	u := testutil.SeedUser(t, ctx, tx, "vars-"+uuid.NewString()[:8]+"@example.com")

	v := &types.UserCourseExerciseServiceVariable{
		UserID:              u.ID,
		CourseID:            &cf.Course.ID,
		ExerciseServiceSlug: "quizzes",
		VariableKey:         "seed",
		VariableValue:       datatypes.JSON(`1`),
	}
	first, err := repo.UpsertUserVariable(dbc, v)
	if err != nil {
		t.Fatalf("UpsertUserVariable: %v", err)
	}
	v.VariableValue = datatypes.JSON(`2`)
	second, err := repo.UpsertUserVariable(dbc, v)
	if err != nil {
		t.Fatalf("UpsertUserVariable again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("upsert should update in place")
	}
	if string(second.VariableValue) != "2" {
		t.Fatalf("expected updated value, got %s", second.VariableValue)
	}
}
