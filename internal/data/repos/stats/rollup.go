package stats

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// WatermarkName keys the roll-up progress row.
const WatermarkName = "page_visit_daily"

type RollupRepo interface {
	// Watermark returns the last summarized day, or nil when none is stored.
	Watermark(dbc dbctx.Context) (*time.Time, error)
	SetWatermark(dbc dbctx.Context, day time.Time) error
	// EarliestVisitDay returns the UTC date of the oldest live visit, or nil.
	EarliestVisitDay(dbc dbctx.Context) (*time.Time, error)
	// SummarizeDay writes all summaries for one UTC date and returns the
	// number of rows written.
	SummarizeDay(dbc dbctx.Context, day time.Time) (int64, error)
	ListCourseSummaries(dbc dbctx.Context, courseID uuid.UUID, from, to time.Time) ([]types.VisitSummaryByCourse, error)
	ListPageSummaries(dbc dbctx.Context, courseID uuid.UUID, from, to time.Time) ([]types.VisitSummaryByPage, error)
	ListDeviceSummaries(dbc dbctx.Context, courseID uuid.UUID, from, to time.Time) ([]types.VisitSummaryByDevice, error)
	ListCountrySummaries(dbc dbctx.Context, courseID uuid.UUID, from, to time.Time) ([]types.VisitSummaryByCountry, error)
}

type rollupRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRollupRepo(db *gorm.DB, baseLog *logger.Logger) RollupRepo {
	return &rollupRepo{db: db, log: baseLog.With("repo", "PageVisitRollupRepo")}
}

func (r *rollupRepo) Watermark(dbc dbctx.Context) (*time.Time, error) {
	out := []types.VisitRollupWatermark{}
	if err := dbc.DB(r.db).Where("name = ?", WatermarkName).Limit(1).Find(&out).Error; err != nil {
		return nil, aggregates.MapError("PageVisitRollupRepo.Watermark", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	day := out[0].LastRolledUp.UTC()
	return &day, nil
}

func (r *rollupRepo) SetWatermark(dbc dbctx.Context, day time.Time) error {
	err := dbc.DB(r.db).Exec(`
		INSERT INTO page_visit_datum_rollup_watermarks (name, last_rolled_up, updated_at)
		VALUES (?, ?::date, now())
		ON CONFLICT (name) DO UPDATE
		SET last_rolled_up = GREATEST(page_visit_datum_rollup_watermarks.last_rolled_up, EXCLUDED.last_rolled_up),
		    updated_at = now()
	`, WatermarkName, day.UTC().Format(time.DateOnly)).Error
	return aggregates.MapError("PageVisitRollupRepo.SetWatermark", err)
}

func (r *rollupRepo) EarliestVisitDay(dbc dbctx.Context) (*time.Time, error) {
	var day *time.Time
	err := dbc.DB(r.db).Raw(`
		SELECT MIN((created_at AT TIME ZONE 'UTC')::date)::timestamp
		FROM page_visit_datum
		WHERE deleted_at IS NULL
	`).Scan(&day).Error
	if err != nil {
		return nil, aggregates.MapError("PageVisitRollupRepo.EarliestVisitDay", err)
	}
	return day, nil
}

// Each statement counts distinct anonymous visitors per grouping for one day
// and overwrites num_visitors for a live summary row with the same key.
var summaryStatements = []struct {
	name string
	sql  string
}{
	{"by_course", `
		INSERT INTO page_visit_datum_summary_by_courses
			(course_id, country, device_type, referrer, utm_source, utm_medium, utm_campaign, utm_term, utm_content, num_visitors, visit_date)
		SELECT course_id, country, device_type, referrer, utm_source, utm_medium, utm_campaign, utm_term, utm_content,
		       COUNT(DISTINCT anonymous_identifier), ?::date
		FROM page_visit_datum
		WHERE deleted_at IS NULL AND is_bot = false AND course_id IS NOT NULL
		  AND (created_at AT TIME ZONE 'UTC')::date = ?::date
		GROUP BY course_id, country, device_type, referrer, utm_source, utm_medium, utm_campaign, utm_term, utm_content
		ON CONFLICT ON CONSTRAINT page_visit_datum_summary_by_courses_visit_key
		DO UPDATE SET num_visitors = EXCLUDED.num_visitors, updated_at = now()`},
	{"by_page", `
		INSERT INTO page_visit_datum_summary_by_pages (course_id, page_id, num_visitors, visit_date)
		SELECT course_id, page_id, COUNT(DISTINCT anonymous_identifier), ?::date
		FROM page_visit_datum
		WHERE deleted_at IS NULL AND is_bot = false AND course_id IS NOT NULL
		  AND (created_at AT TIME ZONE 'UTC')::date = ?::date
		GROUP BY course_id, page_id
		ON CONFLICT ON CONSTRAINT page_visit_datum_summary_by_pages_key
		DO UPDATE SET num_visitors = EXCLUDED.num_visitors, updated_at = now()`},
	{"by_device", `
		INSERT INTO page_visit_datum_summary_by_courses_device_types
			(course_id, device_type, operating_system, browser, num_visitors, visit_date)
		SELECT course_id, device_type, operating_system, browser, COUNT(DISTINCT anonymous_identifier), ?::date
		FROM page_visit_datum
		WHERE deleted_at IS NULL AND is_bot = false AND course_id IS NOT NULL
		  AND (created_at AT TIME ZONE 'UTC')::date = ?::date
		GROUP BY course_id, device_type, operating_system, browser
		ON CONFLICT ON CONSTRAINT page_visit_datum_summary_by_courses_device_types_key
		DO UPDATE SET num_visitors = EXCLUDED.num_visitors, updated_at = now()`},
	{"by_country", `
		INSERT INTO page_visit_datum_summary_by_courses_countries (course_id, country, num_visitors, visit_date)
		SELECT course_id, country, COUNT(DISTINCT anonymous_identifier), ?::date
		FROM page_visit_datum
		WHERE deleted_at IS NULL AND is_bot = false AND course_id IS NOT NULL
		  AND (created_at AT TIME ZONE 'UTC')::date = ?::date
		GROUP BY course_id, country
		ON CONFLICT ON CONSTRAINT page_visit_datum_summary_by_courses_countries_key
		DO UPDATE SET num_visitors = EXCLUDED.num_visitors, updated_at = now()`},
}

func (r *rollupRepo) SummarizeDay(dbc dbctx.Context, day time.Time) (int64, error) {
	date := day.UTC().Format(time.DateOnly)
	transaction := dbc.DB(r.db)
	var total int64
	for _, st := range summaryStatements {
		res := transaction.Exec(st.sql, date, date)
		if res.Error != nil {
			return total, aggregates.MapError("PageVisitRollupRepo.SummarizeDay."+st.name, res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}

func (r *rollupRepo) window(dbc dbctx.Context, courseID uuid.UUID, from, to time.Time) *gorm.DB {
	return dbc.DB(r.db).
		Where("course_id = ? AND visit_date BETWEEN ?::date AND ?::date", courseID,
			from.UTC().Format(time.DateOnly), to.UTC().Format(time.DateOnly)).
		Order("visit_date ASC")
}

func (r *rollupRepo) ListCourseSummaries(dbc dbctx.Context, courseID uuid.UUID, from, to time.Time) ([]types.VisitSummaryByCourse, error) {
	out := []types.VisitSummaryByCourse{}
	if err := r.window(dbc, courseID, from, to).Find(&out).Error; err != nil {
		return nil, aggregates.MapError("PageVisitRollupRepo.ListCourseSummaries", err)
	}
	return out, nil
}

func (r *rollupRepo) ListPageSummaries(dbc dbctx.Context, courseID uuid.UUID, from, to time.Time) ([]types.VisitSummaryByPage, error) {
	out := []types.VisitSummaryByPage{}
	if err := r.window(dbc, courseID, from, to).Find(&out).Error; err != nil {
		return nil, aggregates.MapError("PageVisitRollupRepo.ListPageSummaries", err)
	}
	return out, nil
}

func (r *rollupRepo) ListDeviceSummaries(dbc dbctx.Context, courseID uuid.UUID, from, to time.Time) ([]types.VisitSummaryByDevice, error) {
	out := []types.VisitSummaryByDevice{}
	if err := r.window(dbc, courseID, from, to).Find(&out).Error; err != nil {
		return nil, aggregates.MapError("PageVisitRollupRepo.ListDeviceSummaries", err)
	}
	return out, nil
}

func (r *rollupRepo) ListCountrySummaries(dbc dbctx.Context, courseID uuid.UUID, from, to time.Time) ([]types.VisitSummaryByCountry, error) {
	out := []types.VisitSummaryByCountry{}
	if err := r.window(dbc, courseID, from, to).Find(&out).Error; err != nil {
		return nil, aggregates.MapError("PageVisitRollupRepo.ListCountrySummaries", err)
	}
	return out, nil
}
