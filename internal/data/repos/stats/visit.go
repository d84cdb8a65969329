package stats

import (
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type VisitRepo interface {
	Insert(dbc dbctx.Context, v *types.PageVisitDatum) (*types.PageVisitDatum, error)
	// GetOrCreateHashingKey returns the key for day, inserting candidate when
	// no key exists yet. Every caller for the same day observes the same key.
	GetOrCreateHashingKey(dbc dbctx.Context, day time.Time, candidate []byte) ([]byte, error)
	PruneHashingKeysBefore(dbc dbctx.Context, day time.Time) (int64, error)
}

type visitRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVisitRepo(db *gorm.DB, baseLog *logger.Logger) VisitRepo {
	return &visitRepo{db: db, log: baseLog.With("repo", "PageVisitRepo")}
}

func (r *visitRepo) Insert(dbc dbctx.Context, v *types.PageVisitDatum) (*types.PageVisitDatum, error) {
	if (v.CourseID == nil) == (v.ExamID == nil) {
		return nil, aggregates.MapError("PageVisitRepo.Insert", aggregates.ValidationError("visit must belong to exactly one of a course or an exam"))
	}
	if err := dbc.DB(r.db).Create(v).Error; err != nil {
		return nil, aggregates.MapError("PageVisitRepo.Insert", err)
	}
	return v, nil
}

func (r *visitRepo) GetOrCreateHashingKey(dbc dbctx.Context, day time.Time, candidate []byte) ([]byte, error) {
	date := day.UTC().Format(time.DateOnly)
	transaction := dbc.DB(r.db)

	var inserted []types.DailyVisitHashingKey
	err := transaction.Raw(`
		INSERT INTO page_visit_datum_daily_visit_hashing_keys (hashing_key, valid_for_date)
		VALUES (?, ?::date)
		ON CONFLICT (valid_for_date) DO NOTHING
		RETURNING *
	`, candidate, date).Scan(&inserted).Error
	if err != nil {
		return nil, aggregates.MapError("PageVisitRepo.GetOrCreateHashingKey", err)
	}
	if len(inserted) == 1 {
		return inserted[0].HashingKey, nil
	}
	var existing types.DailyVisitHashingKey
	if err := transaction.Where("valid_for_date = ?::date", date).First(&existing).Error; err != nil {
		return nil, aggregates.MapError("PageVisitRepo.GetOrCreateHashingKey", err)
	}
	return existing.HashingKey, nil
}

func (r *visitRepo) PruneHashingKeysBefore(dbc dbctx.Context, day time.Time) (int64, error) {
	res := dbc.DB(r.db).Exec(`DELETE FROM page_visit_datum_daily_visit_hashing_keys WHERE valid_for_date < ?::date`,
		day.UTC().Format(time.DateOnly))
	if res.Error != nil {
		return 0, aggregates.MapError("PageVisitRepo.PruneHashingKeysBefore", res.Error)
	}
	return res.RowsAffected, nil
}
