package chatbot

import (
	"context"
	"testing"

	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
)

func TestOneDefaultChatbotPerCourse(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewConfigurationRepo(db, testutil.Logger(t))

	cf := testutil.SeedCourse(t, ctx, tx)
	first, err := repo.Create(dbc, pkey.NewGenerate(), &types.ChatbotConfiguration{
		CourseID: cf.Course.ID, ChatbotName: "Tutor", DefaultChatbot: true, Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sp := tx.SavePoint("dup")
	if sp.Error != nil {
		t.Fatalf("savepoint: %v", sp.Error)
	}
	_, err = repo.Create(dbc, pkey.NewGenerate(), &types.ChatbotConfiguration{
		CourseID: cf.Course.ID, ChatbotName: "Second", DefaultChatbot: true, Temperature: 0.7,
	})
	if err == nil || domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("expected a uniqueness failure for a second default, got %v", err)
	}
	tx.RollbackTo("dup")

	if _, err := repo.Create(dbc, pkey.NewGenerate(), &types.ChatbotConfiguration{
		CourseID: cf.Course.ID, ChatbotName: "Helper", Temperature: 0.2,
	}); err != nil {
		t.Fatalf("non-default Create: %v", err)
	}

	def, err := repo.Default(dbc, cf.Course.ID)
	if err != nil || def == nil || def.ID != first.ID {
		t.Fatalf("Default: def=%v err=%v", def, err)
	}

	if err := repo.SoftDelete(dbc, first.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	def, err = repo.Default(dbc, cf.Course.ID)
	if err != nil || def != nil {
		t.Fatalf("expected no default after delete, def=%v err=%v", def, err)
	}

	list, err := repo.ListByCourse(dbc, cf.Course.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByCourse: n=%d err=%v", len(list), err)
	}
}

func TestChatbotValidation(t *testing.T) {
	db := testutil.DB(t)
	repo := NewConfigurationRepo(db, testutil.Logger(t))
	_, err := repo.Create(dbctx.Background(), pkey.NewGenerate(), &types.ChatbotConfiguration{ChatbotName: "x", Temperature: 3})
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("expected validation, got %v", err)
	}
}
