package grading

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type SubmissionRepo interface {
	CreateSlideSubmission(dbc dbctx.Context, pk pkey.Policy, s *types.ExerciseSlideSubmission) (*types.ExerciseSlideSubmission, error)
	GetSlideSubmission(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseSlideSubmission, error)
	ListSlideSubmissionsForUser(dbc dbctx.Context, userID, exerciseID uuid.UUID) ([]types.ExerciseSlideSubmission, error)
	LatestSlideSubmission(dbc dbctx.Context, userID, exerciseID uuid.UUID, courseInstanceID, examID *uuid.UUID) (*types.ExerciseSlideSubmission, error)

	CreateTaskSubmission(dbc dbctx.Context, pk pkey.Policy, s *types.ExerciseTaskSubmission) (*types.ExerciseTaskSubmission, error)
	GetTaskSubmission(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseTaskSubmission, error)
	ListTaskSubmissions(dbc dbctx.Context, slideSubmissionID uuid.UUID) ([]types.ExerciseTaskSubmission, error)
	// SetActiveGrading points the task submission at the grading that
	// currently represents it.
	SetActiveGrading(dbc dbctx.Context, taskSubmissionID, gradingID uuid.UUID) error
}

type submissionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubmissionRepo(db *gorm.DB, baseLog *logger.Logger) SubmissionRepo {
	return &submissionRepo{db: db, log: baseLog.With("repo", "SubmissionRepo")}
}

func (r *submissionRepo) CreateSlideSubmission(dbc dbctx.Context, pk pkey.Policy, s *types.ExerciseSlideSubmission) (*types.ExerciseSlideSubmission, error) {
	if (s.CourseID == nil) == (s.ExamID == nil) {
		return nil, aggregates.MapError("SubmissionRepo.CreateSlideSubmission",
			aggregates.ValidationError("submission must belong to exactly one of a course or an exam"))
	}
	s.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(s).Error; err != nil {
		return nil, aggregates.MapError("SubmissionRepo.CreateSlideSubmission", err)
	}
	return s, nil
}

func (r *submissionRepo) GetSlideSubmission(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseSlideSubmission, error) {
	var s types.ExerciseSlideSubmission
	if err := dbc.DB(r.db).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, aggregates.MapError("SubmissionRepo.GetSlideSubmission", err)
	}
	return &s, nil
}

func (r *submissionRepo) ListSlideSubmissionsForUser(dbc dbctx.Context, userID, exerciseID uuid.UUID) ([]types.ExerciseSlideSubmission, error) {
	out := []types.ExerciseSlideSubmission{}
	err := dbc.DB(r.db).
		Where("user_id = ? AND exercise_id = ?", userID, exerciseID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, aggregates.MapError("SubmissionRepo.ListSlideSubmissionsForUser", err)
	}
	return out, nil
}

func (r *submissionRepo) LatestSlideSubmission(dbc dbctx.Context, userID, exerciseID uuid.UUID, courseInstanceID, examID *uuid.UUID) (*types.ExerciseSlideSubmission, error) {
	q := dbc.DB(r.db).Where("user_id = ? AND exercise_id = ?", userID, exerciseID)
	if courseInstanceID != nil {
		q = q.Where("course_instance_id = ?", *courseInstanceID)
	}
	if examID != nil {
		q = q.Where("exam_id = ?", *examID)
	}
	var s types.ExerciseSlideSubmission
	if err := q.Order("created_at DESC").First(&s).Error; err != nil {
		return nil, aggregates.MapError("SubmissionRepo.LatestSlideSubmission", err)
	}
	return &s, nil
}

func (r *submissionRepo) CreateTaskSubmission(dbc dbctx.Context, pk pkey.Policy, s *types.ExerciseTaskSubmission) (*types.ExerciseTaskSubmission, error) {
	s.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(s).Error; err != nil {
		return nil, aggregates.MapError("SubmissionRepo.CreateTaskSubmission", err)
	}
	return s, nil
}

func (r *submissionRepo) GetTaskSubmission(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseTaskSubmission, error) {
	var s types.ExerciseTaskSubmission
	if err := dbc.DB(r.db).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, aggregates.MapError("SubmissionRepo.GetTaskSubmission", err)
	}
	return &s, nil
}

func (r *submissionRepo) ListTaskSubmissions(dbc dbctx.Context, slideSubmissionID uuid.UUID) ([]types.ExerciseTaskSubmission, error) {
	out := []types.ExerciseTaskSubmission{}
	err := dbc.DB(r.db).
		Where("exercise_slide_submission_id = ?", slideSubmissionID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, aggregates.MapError("SubmissionRepo.ListTaskSubmissions", err)
	}
	return out, nil
}

func (r *submissionRepo) SetActiveGrading(dbc dbctx.Context, taskSubmissionID, gradingID uuid.UUID) error {
	res := dbc.DB(r.db).Model(&types.ExerciseTaskSubmission{}).
		Where("id = ?", taskSubmissionID).
		Updates(map[string]any{"exercise_task_grading_id": gradingID, "updated_at": gorm.Expr("now()")})
	if res.Error != nil {
		return aggregates.MapError("SubmissionRepo.SetActiveGrading", res.Error)
	}
	if res.RowsAffected == 0 {
		return aggregates.MapError("SubmissionRepo.SetActiveGrading", gorm.ErrRecordNotFound)
	}
	return nil
}
