package grading

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// PendingRegradingSubmission joins a regrading row with what the engine
// needs to dispatch it.
type PendingRegradingSubmission struct {
	types.ExerciseTaskRegradingSubmission
	ExerciseTaskID            uuid.UUID `gorm:"column:exercise_task_id"`
	ExerciseSlideSubmissionID uuid.UUID `gorm:"column:exercise_slide_submission_id"`
	ExerciseType              string    `gorm:"column:exercise_type"`
}

type RegradingRepo interface {
	// Create inserts a regrading and one row per task submission, recording
	// each submission's current grading as grading_before_regrading.
	Create(dbc dbctx.Context, rg *types.Regrading, taskSubmissionIDs []uuid.UUID) (*types.Regrading, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Regrading, error)
	// ListUncompleted returns open regradings oldest first.
	ListUncompleted(dbc dbctx.Context) ([]types.Regrading, error)
	MarkStarted(dbc dbctx.Context, id uuid.UUID) error
	// ListPending returns submissions still waiting for a result in ascending
	// id order: those without grading_after_regrading and those whose linked
	// grading never left NotReady.
	ListPending(dbc dbctx.Context, regradingID uuid.UUID) ([]PendingRegradingSubmission, error)
	// SetGradingAfter links the regraded grading. replacing is the stale
	// grading currently linked, or nil when none is.
	SetGradingAfter(dbc dbctx.Context, id, gradingID uuid.UUID, replacing *uuid.UUID) error
	ListSubmissions(dbc dbctx.Context, regradingID uuid.UUID) ([]types.ExerciseTaskRegradingSubmission, error)
	// ListOutcomes returns the progress of every linked regraded grading.
	ListOutcomes(dbc dbctx.Context, regradingID uuid.UUID) ([]grading.GradingProgress, error)
	Complete(dbc dbctx.Context, id uuid.UUID, total grading.GradingProgress) error
}

type regradingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRegradingRepo(db *gorm.DB, baseLog *logger.Logger) RegradingRepo {
	return &regradingRepo{db: db, log: baseLog.With("repo", "RegradingRepo")}
}

func (r *regradingRepo) Create(dbc dbctx.Context, rg *types.Regrading, taskSubmissionIDs []uuid.UUID) (*types.Regrading, error) {
	transaction := dbc.DB(r.db)
	if err := transaction.Create(rg).Error; err != nil {
		return nil, aggregates.MapError("RegradingRepo.Create", err)
	}
	for _, id := range taskSubmissionIDs {
		var sub types.ExerciseTaskSubmission
		if err := transaction.Where("id = ?", id).First(&sub).Error; err != nil {
			return nil, aggregates.MapError("RegradingRepo.Create", err)
		}
		if sub.ExerciseTaskGradingID == nil {
			return nil, aggregates.MapError("RegradingRepo.Create",
				aggregates.PreconditionError("task submission "+id.String()+" has no grading to regrade"))
		}
		row := &types.ExerciseTaskRegradingSubmission{
			RegradingID:              rg.ID,
			ExerciseTaskSubmissionID: id,
			GradingBeforeRegrading:   *sub.ExerciseTaskGradingID,
		}
		if err := transaction.Create(row).Error; err != nil {
			return nil, aggregates.MapError("RegradingRepo.Create", err)
		}
	}
	return rg, nil
}

func (r *regradingRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Regrading, error) {
	var rg types.Regrading
	if err := dbc.DB(r.db).Where("id = ?", id).First(&rg).Error; err != nil {
		return nil, aggregates.MapError("RegradingRepo.GetByID", err)
	}
	return &rg, nil
}

func (r *regradingRepo) ListUncompleted(dbc dbctx.Context) ([]types.Regrading, error) {
	out := []types.Regrading{}
	if err := dbc.DB(r.db).Where("regrading_completed_at IS NULL").Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("RegradingRepo.ListUncompleted", err)
	}
	return out, nil
}

func (r *regradingRepo) MarkStarted(dbc dbctx.Context, id uuid.UUID) error {
	err := dbc.DB(r.db).Model(&types.Regrading{}).
		Where("id = ? AND regrading_started_at IS NULL", id).
		Updates(map[string]any{
			"regrading_started_at":   time.Now().UTC(),
			"total_grading_progress": "Pending",
			"updated_at":             time.Now().UTC(),
		}).Error
	return aggregates.MapError("RegradingRepo.MarkStarted", err)
}

func (r *regradingRepo) ListPending(dbc dbctx.Context, regradingID uuid.UUID) ([]PendingRegradingSubmission, error) {
	out := []PendingRegradingSubmission{}
	err := dbc.DB(r.db).Raw(`
		SELECT rs.*, ets.exercise_task_id, ets.exercise_slide_submission_id, et.exercise_type
		FROM exercise_task_regrading_submissions rs
		JOIN exercise_task_submissions ets ON ets.id = rs.exercise_task_submission_id
		JOIN exercise_tasks et ON et.id = ets.exercise_task_id
		LEFT JOIN exercise_task_gradings ga ON ga.id = rs.grading_after_regrading
		WHERE rs.regrading_id = ?
		  AND (rs.grading_after_regrading IS NULL OR ga.grading_progress = 'NotReady')
		  AND rs.deleted_at IS NULL
		ORDER BY rs.id ASC
	`, regradingID).Scan(&out).Error
	if err != nil {
		return nil, aggregates.MapError("RegradingRepo.ListPending", err)
	}
	return out, nil
}

func (r *regradingRepo) SetGradingAfter(dbc dbctx.Context, id, gradingID uuid.UUID, replacing *uuid.UUID) error {
	q := dbc.DB(r.db).Model(&types.ExerciseTaskRegradingSubmission{}).Where("id = ?", id)
	if replacing == nil {
		q = q.Where("grading_after_regrading IS NULL")
	} else {
		q = q.Where("grading_after_regrading = ?", *replacing)
	}
	res := q.Updates(map[string]any{"grading_after_regrading": gradingID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return aggregates.MapError("RegradingRepo.SetGradingAfter", res.Error)
	}
	return aggregates.MapError("RegradingRepo.SetGradingAfter",
		aggregates.RequireCASSuccess(res.RowsAffected > 0, "regrading submission already has a grading"))
}

func (r *regradingRepo) ListSubmissions(dbc dbctx.Context, regradingID uuid.UUID) ([]types.ExerciseTaskRegradingSubmission, error) {
	out := []types.ExerciseTaskRegradingSubmission{}
	if err := dbc.DB(r.db).Where("regrading_id = ?", regradingID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("RegradingRepo.ListSubmissions", err)
	}
	return out, nil
}

func (r *regradingRepo) ListOutcomes(dbc dbctx.Context, regradingID uuid.UUID) ([]grading.GradingProgress, error) {
	out := []grading.GradingProgress{}
	err := dbc.DB(r.db).Raw(`
		SELECT g.grading_progress
		FROM exercise_task_regrading_submissions rs
		JOIN exercise_task_gradings g ON g.id = rs.grading_after_regrading
		WHERE rs.regrading_id = ?
		  AND rs.deleted_at IS NULL
		ORDER BY rs.id ASC
	`, regradingID).Scan(&out).Error
	if err != nil {
		return nil, aggregates.MapError("RegradingRepo.ListOutcomes", err)
	}
	return out, nil
}

func (r *regradingRepo) Complete(dbc dbctx.Context, id uuid.UUID, total grading.GradingProgress) error {
	if !total.Valid() {
		return aggregates.MapError("RegradingRepo.Complete", aggregates.ValidationError("invalid grading progress"))
	}
	now := time.Now().UTC()
	err := dbc.DB(r.db).Model(&types.Regrading{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"regrading_completed_at": now,
			"total_grading_progress": total,
			"updated_at":             now,
		}).Error
	return aggregates.MapError("RegradingRepo.Complete", err)
}
