package grading

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// StateKey identifies a user_exercise_states row. Exactly one of
// CourseInstanceID and ExamID is set.
type StateKey struct {
	UserID           uuid.UUID
	ExerciseID       uuid.UUID
	CourseInstanceID *uuid.UUID
	ExamID           *uuid.UUID
}

type UserExerciseStateRepo interface {
	// GetOrCreate returns the live state for key, inserting a fresh one when
	// none exists. Safe under concurrent callers.
	GetOrCreate(dbc dbctx.Context, key StateKey) (*types.UserExerciseState, error)
	Get(dbc dbctx.Context, key StateKey) (*types.UserExerciseState, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.UserExerciseState, error)
	// LockForUpdate re-reads the row with FOR UPDATE in the caller's transaction.
	LockForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.UserExerciseState, error)
	Update(dbc dbctx.Context, s *types.UserExerciseState) (*types.UserExerciseState, error)
	ListForUserInstance(dbc dbctx.Context, userID, courseInstanceID uuid.UUID, exerciseIDs []uuid.UUID) ([]types.UserExerciseState, error)
}

type userExerciseStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserExerciseStateRepo(db *gorm.DB, baseLog *logger.Logger) UserExerciseStateRepo {
	return &userExerciseStateRepo{db: db, log: baseLog.With("repo", "UserExerciseStateRepo")}
}

func (r *userExerciseStateRepo) scope(q *gorm.DB, key StateKey) *gorm.DB {
	q = q.Where("user_id = ? AND exercise_id = ?", key.UserID, key.ExerciseID)
	if key.CourseInstanceID != nil {
		q = q.Where("course_instance_id = ?", *key.CourseInstanceID)
	} else {
		q = q.Where("course_instance_id IS NULL")
	}
	if key.ExamID != nil {
		q = q.Where("exam_id = ?", *key.ExamID)
	} else {
		q = q.Where("exam_id IS NULL")
	}
	return q
}

func (r *userExerciseStateRepo) GetOrCreate(dbc dbctx.Context, key StateKey) (*types.UserExerciseState, error) {
	if (key.CourseInstanceID == nil) == (key.ExamID == nil) {
		return nil, aggregates.MapError("UserExerciseStateRepo.GetOrCreate",
			aggregates.ValidationError("state must belong to exactly one of a course instance or an exam"))
	}
	transaction := dbc.DB(r.db)
	err := transaction.Exec(`
		INSERT INTO user_exercise_states (user_id, exercise_id, course_instance_id, exam_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT ON CONSTRAINT user_exercise_states_user_exercise_instance_exam_key DO NOTHING
	`, key.UserID, key.ExerciseID, key.CourseInstanceID, key.ExamID).Error
	if err != nil {
		return nil, aggregates.MapError("UserExerciseStateRepo.GetOrCreate", err)
	}
	return r.Get(dbc, key)
}

func (r *userExerciseStateRepo) Get(dbc dbctx.Context, key StateKey) (*types.UserExerciseState, error) {
	var s types.UserExerciseState
	if err := r.scope(dbc.DB(r.db), key).First(&s).Error; err != nil {
		return nil, aggregates.MapError("UserExerciseStateRepo.Get", err)
	}
	return &s, nil
}

func (r *userExerciseStateRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.UserExerciseState, error) {
	var s types.UserExerciseState
	if err := dbc.DB(r.db).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, aggregates.MapError("UserExerciseStateRepo.GetByID", err)
	}
	return &s, nil
}

func (r *userExerciseStateRepo) LockForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.UserExerciseState, error) {
	var s types.UserExerciseState
	err := dbc.DB(r.db).Raw(`SELECT * FROM user_exercise_states WHERE id = ? AND deleted_at IS NULL FOR UPDATE`, id).Scan(&s).Error
	if err != nil {
		return nil, aggregates.MapError("UserExerciseStateRepo.LockForUpdate", err)
	}
	if s.ID == uuid.Nil {
		return nil, aggregates.MapError("UserExerciseStateRepo.LockForUpdate", gorm.ErrRecordNotFound)
	}
	return &s, nil
}

func (r *userExerciseStateRepo) Update(dbc dbctx.Context, s *types.UserExerciseState) (*types.UserExerciseState, error) {
	res := dbc.DB(r.db).Model(&types.UserExerciseState{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"score_given":                s.ScoreGiven,
			"grading_progress":           s.GradingProgress,
			"activity_progress":          s.ActivityProgress,
			"reviewing_stage":            s.ReviewingStage,
			"selected_exercise_slide_id": s.SelectedExerciseSlideID,
			"updated_at":                 time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, aggregates.MapError("UserExerciseStateRepo.Update", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, aggregates.MapError("UserExerciseStateRepo.Update", gorm.ErrRecordNotFound)
	}
	return r.GetByID(dbc, s.ID)
}

func (r *userExerciseStateRepo) ListForUserInstance(dbc dbctx.Context, userID, courseInstanceID uuid.UUID, exerciseIDs []uuid.UUID) ([]types.UserExerciseState, error) {
	out := []types.UserExerciseState{}
	if len(exerciseIDs) == 0 {
		return out, nil
	}
	err := dbc.DB(r.db).
		Where("user_id = ? AND course_instance_id = ? AND exercise_id IN ?", userID, courseInstanceID, exerciseIDs).
		Find(&out).Error
	if err != nil {
		return nil, aggregates.MapError("UserExerciseStateRepo.ListForUserInstance", err)
	}
	return out, nil
}
