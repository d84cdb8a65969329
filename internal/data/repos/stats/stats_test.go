package stats

import (
	"bytes"
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

func TestHashingKeyConcurrentCallersShareKey(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewVisitRepo(db, testutil.Logger(t))

	// A date no other test uses.
	day := time.Date(1999, 3, 1, 0, 0, 0, 0, time.UTC)
	t.Cleanup(func() {
		_ = db.Exec(`DELETE FROM page_visit_datum_daily_visit_hashing_keys WHERE valid_for_date = '1999-03-01'`).Error
	})

	const callers = 6
	keys := make([][]byte, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = repo.GetOrCreateHashingKey(dbctx.Context{Ctx: ctx}, day, randomKey(t))
		}(i)
	}
	wg.Wait()
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if len(keys[i]) != 32 || !bytes.Equal(keys[i], keys[0]) {
			t.Fatalf("caller %d observed a different key", i)
		}
	}
	var rows int64
	db.Model(&types.DailyVisitHashingKey{}).Where("valid_for_date = '1999-03-01'").Count(&rows)
	if rows != 1 {
		t.Fatalf("expected exactly one key row, got %d", rows)
	}
}

func TestSummarizeDayExcludesBots(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	visits := NewVisitRepo(db, testutil.Logger(t))
	rollups := NewRollupRepo(db, testutil.Logger(t))

	cf := testutil.SeedCourse(t, ctx, tx)
	day := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	country := "FI"
	for i, v := range []struct {
		anon  string
		isBot bool
	}{{"a", false}, {"a", false}, {"b", false}, {"bot", true}} {
		row := &types.PageVisitDatum{
			CourseID:            &cf.Course.ID,
			PageID:              cf.Page.ID,
			Country:             &country,
			IsBot:               v.isBot,
			AnonymousIdentifier: v.anon,
			CreatedAt:           day.Add(time.Duration(i) * time.Minute),
		}
		if _, err := visits.Insert(dbc, row); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	if _, err := rollups.SummarizeDay(dbc, day); err != nil {
		t.Fatalf("SummarizeDay: %v", err)
	}
	// Re-running overwrites instead of duplicating.
	if _, err := rollups.SummarizeDay(dbc, day); err != nil {
		t.Fatalf("SummarizeDay again: %v", err)
	}
	pages, err := rollups.ListPageSummaries(dbc, cf.Course.ID, day, day)
	if err != nil {
		t.Fatalf("ListPageSummaries: %v", err)
	}
	if len(pages) != 1 || pages[0].NumVisitors != 2 {
		t.Fatalf("expected one page summary with 2 visitors, got %+v", pages)
	}
	countries, _ := rollups.ListCountrySummaries(dbc, cf.Course.ID, day, day)
	if len(countries) != 1 || countries[0].NumVisitors != 2 {
		t.Fatalf("expected one country summary with 2 visitors, got %+v", countries)
	}

	if err := rollups.SetWatermark(dbc, day); err != nil {
		t.Fatalf("SetWatermark: %v", err)
	}
	if err := rollups.SetWatermark(dbc, day.AddDate(0, 0, -5)); err != nil {
		t.Fatalf("SetWatermark older: %v", err)
	}
	wm, err := rollups.Watermark(dbc)
	if err != nil || wm == nil || !wm.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("watermark must never move backwards: %v %v", wm, err)
	}
}

func TestCourseSummaryGroupsByCountryAndDevice(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	visits := NewVisitRepo(db, testutil.Logger(t))
	rollups := NewRollupRepo(db, testutil.Logger(t))

	cf := testutil.SeedCourse(t, ctx, tx)
	day := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	str := func(s string) *string { return &s }
	for i, v := range []struct {
		anon    string
		country *string
		device  *string
	}{
		{"a", str("FI"), str("desktop")},
		{"b", str("FI"), str("desktop")},
		{"c", str("FI"), str("mobile")},
		{"d", str("SE"), str("desktop")},
		{"e", nil, nil},
	} {
		row := &types.PageVisitDatum{
			CourseID:            &cf.Course.ID,
			PageID:              cf.Page.ID,
			Country:             v.country,
			DeviceType:          v.device,
			AnonymousIdentifier: v.anon,
			CreatedAt:           day.Add(time.Duration(i) * time.Minute),
		}
		if _, err := visits.Insert(dbc, row); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if _, err := rollups.SummarizeDay(dbc, day); err != nil {
		t.Fatalf("SummarizeDay: %v", err)
	}
	if _, err := rollups.SummarizeDay(dbc, day); err != nil {
		t.Fatalf("SummarizeDay again: %v", err)
	}

	rows, err := rollups.ListCourseSummaries(dbc, cf.Course.ID, day, day)
	if err != nil {
		t.Fatalf("ListCourseSummaries: %v", err)
	}
	got := map[string]int{}
	for _, r := range rows {
		key := "-"
		if r.Country != nil && r.DeviceType != nil {
			key = *r.Country + "/" + *r.DeviceType
		}
		got[key] += r.NumVisitors
	}
	want := map[string]int{"FI/desktop": 2, "FI/mobile": 1, "SE/desktop": 1, "-": 1}
	if len(rows) != len(want) {
		t.Fatalf("course summaries = %+v", rows)
	}
	for k, n := range want {
		if got[k] != n {
			t.Fatalf("visitors for %s = %d, want %d (all %v)", k, got[k], n, got)
		}
	}
}
