package visits

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/repos"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

const (
	DefaultRollupInterval = time.Hour
	hashingKeyRetention   = 7 * 24 * time.Hour
)

// Rollup summarizes finished UTC days into the per-course tables. Each day
// is written together with the watermark so a crash never skips a day.
type Rollup struct {
	db       *gorm.DB
	log      *logger.Logger
	repos    repos.Set
	runner   aggregates.TxRunner
	interval time.Duration
	now      func() time.Time
}

func NewRollup(db *gorm.DB, baseLog *logger.Logger, r repos.Set, interval time.Duration) *Rollup {
	if interval <= 0 {
		interval = DefaultRollupInterval
	}
	return &Rollup{
		db:       db,
		log:      baseLog.With("job", "VisitRollup"),
		repos:    r,
		runner:   aggregates.NewGormTxRunner(db),
		interval: interval,
		now:      time.Now,
	}
}

func (j *Rollup) Type() string { return "visit_rollup" }

func (j *Rollup) Interval() time.Duration { return j.interval }

func (j *Rollup) Run(ctx context.Context) error {
	_, err := j.RunOnce(ctx)
	return err
}

// RunOnce summarizes every day after the watermark up to yesterday and
// returns how many days it processed.
func (j *Rollup) RunOnce(ctx context.Context) (int, error) {
	ctx, span := observability.StartSpan(ctx, "visits.rollup")
	defer span.End()

	dbc := dbctx.Context{Ctx: ctx, Tx: j.db.WithContext(ctx)}
	yesterday := utcDate(j.now()).AddDate(0, 0, -1)

	var start time.Time
	wm, err := j.repos.Rollups.Watermark(dbc)
	if err != nil {
		return 0, err
	}
	if wm != nil {
		start = utcDate(*wm).AddDate(0, 0, 1)
	} else {
		earliest, err := j.repos.Rollups.EarliestVisitDay(dbc)
		if err != nil {
			return 0, err
		}
		if earliest == nil {
			return 0, nil
		}
		start = utcDate(*earliest)
	}

	days := 0
	for day := start; !day.After(yesterday); day = day.AddDate(0, 0, 1) {
		var rows int64
		err := aggregates.ExecuteWrite(ctx, aggregates.BaseDeps{DB: j.db, Log: j.log, Runner: j.runner}, "VisitRollup.SummarizeDay", func(dbc dbctx.Context) error {
			var err error
			if rows, err = j.repos.Rollups.SummarizeDay(dbc, day); err != nil {
				return err
			}
			return j.repos.Rollups.SetWatermark(dbc, day)
		})
		if err != nil {
			return days, err
		}
		observability.Current().AddRollupRows("all", rows)
		j.log.Info("visit day summarized", "day", day.Format(time.DateOnly), "rows", rows)
		days++
	}
	span.SetAttributes(attribute.Int("days", days))

	pruned, err := j.repos.Visits.PruneHashingKeysBefore(dbc, utcDate(j.now()).Add(-hashingKeyRetention))
	if err != nil {
		return days, err
	}
	if pruned > 0 {
		j.log.Debug("pruned visit hashing keys", "count", pruned)
	}
	return days, nil
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
