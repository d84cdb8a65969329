package peerreview

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type ConfigRepo interface {
	Create(dbc dbctx.Context, pk pkey.Policy, cfg *types.PeerReviewConfig, questions []types.PeerReviewQuestion) (*types.PeerReviewConfig, error)
	// ForExercise resolves the exercise's own config, or the course default
	// when the exercise uses it.
	ForExercise(dbc dbctx.Context, ex *types.Exercise) (*types.PeerReviewConfig, error)
	ListQuestions(dbc dbctx.Context, configID uuid.UUID) ([]types.PeerReviewQuestion, error)
}

type configRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConfigRepo(db *gorm.DB, baseLog *logger.Logger) ConfigRepo {
	return &configRepo{db: db, log: baseLog.With("repo", "PeerReviewConfigRepo")}
}

func (r *configRepo) Create(dbc dbctx.Context, pk pkey.Policy, cfg *types.PeerReviewConfig, questions []types.PeerReviewQuestion) (*types.PeerReviewConfig, error) {
	transaction := dbc.DB(r.db)
	cfg.ID = pk.Resolve()
	if err := transaction.Create(cfg).Error; err != nil {
		return nil, aggregates.MapError("PeerReviewConfigRepo.Create", err)
	}
	for i := range questions {
		questions[i].PeerReviewConfigID = cfg.ID
		if err := transaction.Create(&questions[i]).Error; err != nil {
			return nil, aggregates.MapError("PeerReviewConfigRepo.Create", err)
		}
	}
	return cfg, nil
}

func (r *configRepo) ForExercise(dbc dbctx.Context, ex *types.Exercise) (*types.PeerReviewConfig, error) {
	if ex.CourseID == nil {
		return nil, aggregates.MapError("PeerReviewConfigRepo.ForExercise", aggregates.PreconditionError("peer review requires a course exercise"))
	}
	q := dbc.DB(r.db).Where("course_id = ?", *ex.CourseID)
	if ex.UseCoursePeerReviewConfig {
		q = q.Where("exercise_id IS NULL")
	} else {
		q = q.Where("exercise_id = ?", ex.ID)
	}
	var cfg types.PeerReviewConfig
	if err := q.First(&cfg).Error; err != nil {
		return nil, aggregates.MapError("PeerReviewConfigRepo.ForExercise", err)
	}
	return &cfg, nil
}

func (r *configRepo) ListQuestions(dbc dbctx.Context, configID uuid.UUID) ([]types.PeerReviewQuestion, error) {
	out := []types.PeerReviewQuestion{}
	if err := dbc.DB(r.db).Where("peer_review_config_id = ?", configID).Order("order_number ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("PeerReviewConfigRepo.ListQuestions", err)
	}
	return out, nil
}
