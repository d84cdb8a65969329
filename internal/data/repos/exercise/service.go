package exercise

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// ServiceRepo manages exercise services, their polled info and the per-user
// variables graders ask to persist.
type ServiceRepo interface {
	Create(dbc dbctx.Context, pk pkey.Policy, svc *types.ExerciseService) (*types.ExerciseService, error)
	GetBySlug(dbc dbctx.Context, slug string) (*types.ExerciseService, error)
	List(dbc dbctx.Context) ([]types.ExerciseService, error)
	UpsertInfo(dbc dbctx.Context, info *types.ExerciseServiceInfo) (*types.ExerciseServiceInfo, error)
	GetInfo(dbc dbctx.Context, serviceID uuid.UUID) (*types.ExerciseServiceInfo, error)
	UpsertUserVariable(dbc dbctx.Context, v *types.UserCourseExerciseServiceVariable) (*types.UserCourseExerciseServiceVariable, error)
	ListUserVariables(dbc dbctx.Context, userID uuid.UUID, courseID, examID *uuid.UUID) ([]types.UserCourseExerciseServiceVariable, error)
}

type serviceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewServiceRepo(db *gorm.DB, baseLog *logger.Logger) ServiceRepo {
	return &serviceRepo{db: db, log: baseLog.With("repo", "ExerciseServiceRepo")}
}

func (r *serviceRepo) Create(dbc dbctx.Context, pk pkey.Policy, svc *types.ExerciseService) (*types.ExerciseService, error) {
	svc.ID = pk.Resolve()
	if svc.MaxReprocessingSubmissionsAtOnce < 1 {
		svc.MaxReprocessingSubmissionsAtOnce = 1
	}
	if err := dbc.DB(r.db).Create(svc).Error; err != nil {
		return nil, aggregates.MapError("ExerciseServiceRepo.Create", err)
	}
	return svc, nil
}

func (r *serviceRepo) GetBySlug(dbc dbctx.Context, slug string) (*types.ExerciseService, error) {
	var s types.ExerciseService
	if err := dbc.DB(r.db).Where("slug = ?", slug).First(&s).Error; err != nil {
		return nil, aggregates.MapError("ExerciseServiceRepo.GetBySlug", err)
	}
	return &s, nil
}

func (r *serviceRepo) List(dbc dbctx.Context) ([]types.ExerciseService, error) {
	out := []types.ExerciseService{}
	if err := dbc.DB(r.db).Order("slug ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("ExerciseServiceRepo.List", err)
	}
	return out, nil
}

func (r *serviceRepo) UpsertInfo(dbc dbctx.Context, info *types.ExerciseServiceInfo) (*types.ExerciseServiceInfo, error) {
	info.UpdatedAt = time.Now().UTC()
	err := dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "exercise_service_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"service_name",
			"user_interface_iframe_path",
			"grade_endpoint_path",
			"public_spec_endpoint_path",
			"model_solution_spec_endpoint_path",
			"has_custom_view",
			"updated_at",
		}),
	}).Create(info).Error
	if err != nil {
		return nil, aggregates.MapError("ExerciseServiceRepo.UpsertInfo", err)
	}
	return r.GetInfo(dbc, info.ExerciseServiceID)
}

func (r *serviceRepo) GetInfo(dbc dbctx.Context, serviceID uuid.UUID) (*types.ExerciseServiceInfo, error) {
	var info types.ExerciseServiceInfo
	if err := dbc.DB(r.db).Where("exercise_service_id = ?", serviceID).First(&info).Error; err != nil {
		return nil, aggregates.MapError("ExerciseServiceRepo.GetInfo", err)
	}
	return &info, nil
}

func (r *serviceRepo) UpsertUserVariable(dbc dbctx.Context, v *types.UserCourseExerciseServiceVariable) (*types.UserCourseExerciseServiceVariable, error) {
	if len(v.VariableValue) == 0 {
		v.VariableValue = datatypes.JSON("null")
	}
	var out types.UserCourseExerciseServiceVariable
	err := dbc.DB(r.db).Raw(`
		INSERT INTO user_course_exercise_service_variables
			(user_id, course_id, exam_id, exercise_service_slug, variable_key, variable_value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT ON CONSTRAINT user_course_exercise_service_variables_key
		DO UPDATE SET variable_value = EXCLUDED.variable_value, updated_at = now()
		RETURNING *
	`, v.UserID, v.CourseID, v.ExamID, v.ExerciseServiceSlug, v.VariableKey, v.VariableValue).Scan(&out).Error
	if err != nil {
		return nil, aggregates.MapError("ExerciseServiceRepo.UpsertUserVariable", err)
	}
	return &out, nil
}

func (r *serviceRepo) ListUserVariables(dbc dbctx.Context, userID uuid.UUID, courseID, examID *uuid.UUID) ([]types.UserCourseExerciseServiceVariable, error) {
	out := []types.UserCourseExerciseServiceVariable{}
	q := dbc.DB(r.db).Where("user_id = ?", userID)
	if courseID != nil {
		q = q.Where("course_id = ?", *courseID)
	}
	if examID != nil {
		q = q.Where("exam_id = ?", *examID)
	}
	if err := q.Order("exercise_service_slug ASC, variable_key ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("ExerciseServiceRepo.ListUserVariables", err)
	}
	return out, nil
}
