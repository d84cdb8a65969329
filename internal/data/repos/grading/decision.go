package grading

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type TeacherDecisionRepo interface {
	Create(dbc dbctx.Context, d *types.TeacherGradingDecision) (*types.TeacherGradingDecision, error)
	// Latest returns the newest live decision for a state, or nil.
	Latest(dbc dbctx.Context, stateID uuid.UUID) (*types.TeacherGradingDecision, error)
}

type teacherDecisionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTeacherDecisionRepo(db *gorm.DB, baseLog *logger.Logger) TeacherDecisionRepo {
	return &teacherDecisionRepo{db: db, log: baseLog.With("repo", "TeacherDecisionRepo")}
}

func (r *teacherDecisionRepo) Create(dbc dbctx.Context, d *types.TeacherGradingDecision) (*types.TeacherGradingDecision, error) {
	if !d.TeacherDecision.Valid() {
		return nil, aggregates.MapError("TeacherDecisionRepo.Create", aggregates.ValidationError("invalid teacher decision"))
	}
	if err := dbc.DB(r.db).Create(d).Error; err != nil {
		return nil, aggregates.MapError("TeacherDecisionRepo.Create", err)
	}
	return d, nil
}

func (r *teacherDecisionRepo) Latest(dbc dbctx.Context, stateID uuid.UUID) (*types.TeacherGradingDecision, error) {
	out := []types.TeacherGradingDecision{}
	err := dbc.DB(r.db).
		Where("user_exercise_state_id = ?", stateID).
		Order("created_at DESC").
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, aggregates.MapError("TeacherDecisionRepo.Latest", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}
