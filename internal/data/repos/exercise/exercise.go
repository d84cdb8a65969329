package exercise

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type ExerciseRepo interface {
	Create(dbc dbctx.Context, pk pkey.Policy, ex *types.Exercise) (*types.Exercise, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Exercise, error)
	ListByPage(dbc dbctx.Context, pageID uuid.UUID) ([]types.Exercise, error)
	ListByChapter(dbc dbctx.Context, chapterID uuid.UUID) ([]types.Exercise, error)
	// ListByModule returns the live exercises in live chapters of a module.
	ListByModule(dbc dbctx.Context, moduleID uuid.UUID) ([]types.Exercise, error)
	// InDeletedChapter reports whether the exercise's chapter has been soft-deleted.
	InDeletedChapter(dbc dbctx.Context, ex *types.Exercise) (bool, error)

	CreateSlide(dbc dbctx.Context, pk pkey.Policy, slide *types.ExerciseSlide) (*types.ExerciseSlide, error)
	GetSlide(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseSlide, error)
	ListSlides(dbc dbctx.Context, exerciseID uuid.UUID) ([]types.ExerciseSlide, error)

	CreateTask(dbc dbctx.Context, pk pkey.Policy, task *types.ExerciseTask) (*types.ExerciseTask, error)
	GetTask(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseTask, error)
	GetTaskIncludingDeleted(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseTask, error)
	ListTasksBySlide(dbc dbctx.Context, slideID uuid.UUID) ([]types.ExerciseTask, error)
	UpdateTaskSpecs(dbc dbctx.Context, task *types.ExerciseTask) (*types.ExerciseTask, error)
}

type exerciseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExerciseRepo(db *gorm.DB, baseLog *logger.Logger) ExerciseRepo {
	return &exerciseRepo{db: db, log: baseLog.With("repo", "ExerciseRepo")}
}

func (r *exerciseRepo) Create(dbc dbctx.Context, pk pkey.Policy, ex *types.Exercise) (*types.Exercise, error) {
	ex.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(ex).Error; err != nil {
		return nil, aggregates.MapError("ExerciseRepo.Create", err)
	}
	return ex, nil
}

func (r *exerciseRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Exercise, error) {
	var ex types.Exercise
	if err := dbc.DB(r.db).Where("id = ?", id).First(&ex).Error; err != nil {
		return nil, aggregates.MapError("ExerciseRepo.GetByID", err)
	}
	return &ex, nil
}

func (r *exerciseRepo) ListByPage(dbc dbctx.Context, pageID uuid.UUID) ([]types.Exercise, error) {
	out := []types.Exercise{}
	if err := dbc.DB(r.db).Where("page_id = ?", pageID).Order("order_number ASC, id ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("ExerciseRepo.ListByPage", err)
	}
	return out, nil
}

func (r *exerciseRepo) ListByChapter(dbc dbctx.Context, chapterID uuid.UUID) ([]types.Exercise, error) {
	out := []types.Exercise{}
	if err := dbc.DB(r.db).Where("chapter_id = ?", chapterID).Order("order_number ASC, id ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("ExerciseRepo.ListByChapter", err)
	}
	return out, nil
}

func (r *exerciseRepo) ListByModule(dbc dbctx.Context, moduleID uuid.UUID) ([]types.Exercise, error) {
	out := []types.Exercise{}
	err := dbc.DB(r.db).
		Joins("JOIN chapters ON chapters.id = exercises.chapter_id AND chapters.deleted_at IS NULL").
		Where("chapters.course_module_id = ?", moduleID).
		Order("chapters.chapter_number ASC, exercises.order_number ASC").
		Find(&out).Error
	if err != nil {
		return nil, aggregates.MapError("ExerciseRepo.ListByModule", err)
	}
	return out, nil
}

func (r *exerciseRepo) InDeletedChapter(dbc dbctx.Context, ex *types.Exercise) (bool, error) {
	if ex.ChapterID == nil {
		return false, nil
	}
	var count int64
	err := dbc.DB(r.db).Unscoped().
		Model(&types.Chapter{}).
		Where("id = ? AND deleted_at IS NOT NULL", *ex.ChapterID).
		Count(&count).Error
	if err != nil {
		return false, aggregates.MapError("ExerciseRepo.InDeletedChapter", err)
	}
	return count > 0, nil
}

func (r *exerciseRepo) CreateSlide(dbc dbctx.Context, pk pkey.Policy, slide *types.ExerciseSlide) (*types.ExerciseSlide, error) {
	slide.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(slide).Error; err != nil {
		return nil, aggregates.MapError("ExerciseRepo.CreateSlide", err)
	}
	return slide, nil
}

func (r *exerciseRepo) GetSlide(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseSlide, error) {
	var s types.ExerciseSlide
	if err := dbc.DB(r.db).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, aggregates.MapError("ExerciseRepo.GetSlide", err)
	}
	return &s, nil
}

func (r *exerciseRepo) ListSlides(dbc dbctx.Context, exerciseID uuid.UUID) ([]types.ExerciseSlide, error) {
	out := []types.ExerciseSlide{}
	if err := dbc.DB(r.db).Where("exercise_id = ?", exerciseID).Order("order_number ASC, id ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("ExerciseRepo.ListSlides", err)
	}
	return out, nil
}

func (r *exerciseRepo) CreateTask(dbc dbctx.Context, pk pkey.Policy, task *types.ExerciseTask) (*types.ExerciseTask, error) {
	task.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(task).Error; err != nil {
		return nil, aggregates.MapError("ExerciseRepo.CreateTask", err)
	}
	return task, nil
}

func (r *exerciseRepo) GetTask(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseTask, error) {
	var t types.ExerciseTask
	if err := dbc.DB(r.db).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, aggregates.MapError("ExerciseRepo.GetTask", err)
	}
	return &t, nil
}

// GetTaskIncludingDeleted is used by regrading, which may target tasks that
// were replaced after the submission was made.
func (r *exerciseRepo) GetTaskIncludingDeleted(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseTask, error) {
	var t types.ExerciseTask
	if err := dbc.DB(r.db).Unscoped().Where("id = ?", id).First(&t).Error; err != nil {
		return nil, aggregates.MapError("ExerciseRepo.GetTaskIncludingDeleted", err)
	}
	return &t, nil
}

func (r *exerciseRepo) ListTasksBySlide(dbc dbctx.Context, slideID uuid.UUID) ([]types.ExerciseTask, error) {
	out := []types.ExerciseTask{}
	if err := dbc.DB(r.db).Where("exercise_slide_id = ?", slideID).Order("order_number ASC, id ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("ExerciseRepo.ListTasksBySlide", err)
	}
	return out, nil
}

func (r *exerciseRepo) UpdateTaskSpecs(dbc dbctx.Context, task *types.ExerciseTask) (*types.ExerciseTask, error) {
	res := dbc.DB(r.db).Model(&types.ExerciseTask{}).
		Where("id = ?", task.ID).
		Updates(map[string]any{
			"private_spec":        task.PrivateSpec,
			"public_spec":         task.PublicSpec,
			"model_solution_spec": task.ModelSolutionSpec,
			"updated_at":          gorm.Expr("now()"),
		})
	if res.Error != nil {
		return nil, aggregates.MapError("ExerciseRepo.UpdateTaskSpecs", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, aggregates.MapError("ExerciseRepo.UpdateTaskSpecs", gorm.ErrRecordNotFound)
	}
	return r.GetTask(dbc, task.ID)
}
