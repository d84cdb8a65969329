package content

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/headless-lms/internal/data/pagination"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/domain/content"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
)

func TestGroupMembershipReAddAfterRemoval(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewGroupRepo(db, testutil.Logger(t))

	cf := testutil.SeedCourse(t, ctx, tx)
	u := testutil.SeedUser(t, ctx, tx, "member-"+uuid.NewString()[:8]+"@example.com")

	group, err := repo.Create(dbc, pkey.NewGenerate(), &types.UserGroup{OrganizationID: cf.Org.ID, Name: "staff"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	first, err := repo.AddMember(dbc, group.ID, u.ID)
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	sp := tx.SavePoint("dup")
	if sp.Error != nil {
		t.Fatalf("savepoint: %v", sp.Error)
	}
	_, err = repo.AddMember(dbc, group.ID, u.ID)
	if !domainagg.IsCode(err, domainagg.CodeDatabaseConstraint) {
		t.Fatalf("expected database_constraint on duplicate live membership, got %v", err)
	}
	tx.RollbackTo("dup")

	if err := repo.RemoveMember(dbc, group.ID, u.ID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	second, err := repo.AddMember(dbc, group.ID, u.ID)
	if err != nil {
		t.Fatalf("re-add after removal: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a distinct id after re-add")
	}
	members, err := repo.ListMembers(dbc, group.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 1 || members[0].ID != second.ID {
		t.Fatalf("expected only the re-added membership, got %+v", members)
	}
}

func TestPageHistoryRestore(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewPageRepo(db, testutil.Logger(t))

	cf := testutil.SeedCourse(t, ctx, tx)
	author := testutil.SeedUser(t, ctx, tx, "author-"+uuid.NewString()[:8]+"@example.com")

	page, err := repo.Create(dbc, pkey.NewGenerate(), &types.Page{
		CourseID:  &cf.Course.ID,
		ChapterID: &cf.Chapter.ID,
		URLPath:   "/history",
		Title:     "v1",
		Content:   datatypes.JSON(`[{"block":"one"}]`),
	}, author.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.UpdateContent(dbc, page.ID, "v2", datatypes.JSON(`[{"block":"two"}]`), author.ID); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	hist, err := repo.ListHistory(dbc, page.ID)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(hist))
	}
	var original types.PageHistory
	for _, h := range hist {
		if h.Title == "v1" {
			original = h
		}
	}
	restored, err := repo.Restore(dbc, original.ID, author.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Title != "v1" {
		t.Fatalf("expected restored title v1, got %q", restored.Title)
	}
	hist, _ = repo.ListHistory(dbc, page.ID)
	if len(hist) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(hist))
	}
	found := false
	for _, h := range hist {
		if h.HistoryReason == content.HistoryHistoryRestored {
			found = true
			if h.RestoredFromID == nil || *h.RestoredFromID != original.ID {
				t.Fatalf("restored entry should point at %s", original.ID)
			}
		}
	}
	if !found {
		t.Fatalf("missing history-restored entry")
	}
}

func TestCoursePaginationAndV5Create(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	log := testutil.Logger(t)
	orgs := NewOrganizationRepo(db, log)
	courses := NewCourseRepo(db, log)

	ns := uuid.New()
	org, err := orgs.Create(dbc, pkey.NewV5(ns, "org"), &types.Organization{Slug: "pg-" + ns.String()[:8], Name: "Paging"})
	if err != nil {
		t.Fatalf("Create org: %v", err)
	}
	if org.ID != pkey.NewV5(ns, "org").Resolve() {
		t.Fatalf("v5 policy should produce a deterministic id")
	}
	for i := 0; i < 5; i++ {
		c := &types.Course{
			OrganizationID: org.ID,
			Slug:           "c-" + uuid.NewString()[:8],
			Name:           "Course",
		}
		if _, err := courses.Create(dbc, pkey.NewGenerate(), c); err != nil {
			t.Fatalf("Create course: %v", err)
		}
		if c.CourseLanguageGroupID == uuid.Nil {
			t.Fatalf("language group should be created")
		}
	}
	p, _ := pagination.New(2, 2)
	page, err := courses.ListByOrganization(dbc, org.ID, p)
	if err != nil {
		t.Fatalf("ListByOrganization: %v", err)
	}
	if page.TotalCount != 5 || page.TotalPages != 3 || len(page.Data) != 2 {
		t.Fatalf("unexpected page: count=%d pages=%d rows=%d", page.TotalCount, page.TotalPages, len(page.Data))
	}
}
