package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/headless-lms/internal/data/repos"
	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
)

type flushingBuffer struct {
	bytes.Buffer
	flushes int
}

func (b *flushingBuffer) Flush() { b.flushes++ }

func TestModuleCompletionsCSV(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	ctx := context.Background()
	set := repos.NewSet(tx, log)
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	cf := testutil.SeedCourse(t, ctx, tx)

	grade := 5
	teacher := testutil.SeedUser(t, ctx, tx, "teacher-"+uuid.NewString()[:8]+"@example.com")
	var want []*types.CourseModuleCompletion
	for i, manual := range []bool{false, true} {
		u := testutil.SeedUser(t, ctx, tx, "csv-"+uuid.NewString()[:8]+"@example.com")
		c := &types.CourseModuleCompletion{
			CourseID:         cf.Course.ID,
			CourseModuleID:   cf.Module.ID,
			CourseInstanceID: cf.Instance.ID,
			UserID:           u.ID,
			Email:            u.Email,
			Passed:           true,
		}
		if i == 0 {
			c.Grade = &grade
		}
		if manual {
			c.CompletionGrantedByTeacherID = &teacher.ID
		}
		created, err := set.Completions.Create(dbc, c)
		if err != nil {
			t.Fatalf("create completion: %v", err)
		}
		want = append(want, created)
	}

	svc := NewService(tx, log, set)
	var out flushingBuffer
	n, err := svc.ModuleCompletionsCSV(ctx, cf.Module.ID, &out)
	if err != nil || n != 2 {
		t.Fatalf("ModuleCompletionsCSV = %d, %v", n, err)
	}
	if out.flushes == 0 {
		t.Fatalf("writer was never flushed")
	}
	records, err := csv.NewReader(&out).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 || records[0][0] != "completion_id" || len(records[0]) != len(completionHeader) {
		t.Fatalf("records = %v", records)
	}
	byID := map[string][]string{}
	for _, r := range records[1:] {
		byID[r[0]] = r
	}
	first, second := byID[want[0].ID.String()], byID[want[1].ID.String()]
	if first == nil || first[2] != want[0].Email || first[6] != "5" || first[10] != "false" {
		t.Fatalf("first row = %v", first)
	}
	if second == nil || second[6] != "" || second[10] != "true" {
		t.Fatalf("second row = %v", second)
	}
}

func TestModuleCompletionsCSVUnknownModule(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	var out bytes.Buffer
	_, err := NewService(tx, log, repos.NewSet(tx, log)).ModuleCompletionsCSV(context.Background(), uuid.New(), &out)
	if !domainagg.IsCode(err, domainagg.CodeNotFound) || out.Len() != 0 {
		t.Fatalf("unknown module: err = %v, output = %q", err, out.String())
	}
}
