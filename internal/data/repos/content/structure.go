package content

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// StructureRepo covers the rows that hang off a course: instances, modules,
// chapters and exams.
type StructureRepo interface {
	CreateInstance(dbc dbctx.Context, pk pkey.Policy, inst *types.CourseInstance) (*types.CourseInstance, error)
	GetInstance(dbc dbctx.Context, id uuid.UUID) (*types.CourseInstance, error)
	ListInstances(dbc dbctx.Context, courseID uuid.UUID) ([]types.CourseInstance, error)

	CreateModule(dbc dbctx.Context, pk pkey.Policy, m *types.CourseModule) (*types.CourseModule, error)
	GetModule(dbc dbctx.Context, id uuid.UUID) (*types.CourseModule, error)
	GetDefaultModule(dbc dbctx.Context, courseID uuid.UUID) (*types.CourseModule, error)
	ListModules(dbc dbctx.Context, courseID uuid.UUID) ([]types.CourseModule, error)
	UpdateModuleCompletionPolicy(dbc dbctx.Context, id uuid.UUID, automatic bool, points, attempted *int) (*types.CourseModule, error)

	CreateChapter(dbc dbctx.Context, pk pkey.Policy, ch *types.Chapter) (*types.Chapter, error)
	GetChapter(dbc dbctx.Context, id uuid.UUID) (*types.Chapter, error)
	GetChapterIncludingDeleted(dbc dbctx.Context, id uuid.UUID) (*types.Chapter, error)
	ListChapters(dbc dbctx.Context, courseID uuid.UUID) ([]types.Chapter, error)
	SoftDeleteChapter(dbc dbctx.Context, id uuid.UUID) error

	CreateExam(dbc dbctx.Context, pk pkey.Policy, exam *types.Exam) (*types.Exam, error)
	GetExam(dbc dbctx.Context, id uuid.UUID) (*types.Exam, error)
}

type structureRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStructureRepo(db *gorm.DB, baseLog *logger.Logger) StructureRepo {
	return &structureRepo{db: db, log: baseLog.With("repo", "StructureRepo")}
}

func (r *structureRepo) CreateInstance(dbc dbctx.Context, pk pkey.Policy, inst *types.CourseInstance) (*types.CourseInstance, error) {
	inst.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(inst).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.CreateInstance", err)
	}
	return inst, nil
}

func (r *structureRepo) GetInstance(dbc dbctx.Context, id uuid.UUID) (*types.CourseInstance, error) {
	var inst types.CourseInstance
	if err := dbc.DB(r.db).Where("id = ?", id).First(&inst).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.GetInstance", err)
	}
	return &inst, nil
}

func (r *structureRepo) ListInstances(dbc dbctx.Context, courseID uuid.UUID) ([]types.CourseInstance, error) {
	out := []types.CourseInstance{}
	if err := dbc.DB(r.db).Where("course_id = ?", courseID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.ListInstances", err)
	}
	return out, nil
}

func (r *structureRepo) CreateModule(dbc dbctx.Context, pk pkey.Policy, m *types.CourseModule) (*types.CourseModule, error) {
	m.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(m).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.CreateModule", err)
	}
	return m, nil
}

func (r *structureRepo) GetModule(dbc dbctx.Context, id uuid.UUID) (*types.CourseModule, error) {
	var m types.CourseModule
	if err := dbc.DB(r.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.GetModule", err)
	}
	return &m, nil
}

func (r *structureRepo) GetDefaultModule(dbc dbctx.Context, courseID uuid.UUID) (*types.CourseModule, error) {
	var m types.CourseModule
	if err := dbc.DB(r.db).Where("course_id = ? AND name IS NULL", courseID).First(&m).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.GetDefaultModule", err)
	}
	return &m, nil
}

func (r *structureRepo) ListModules(dbc dbctx.Context, courseID uuid.UUID) ([]types.CourseModule, error) {
	out := []types.CourseModule{}
	if err := dbc.DB(r.db).Where("course_id = ?", courseID).Order("order_number ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.ListModules", err)
	}
	return out, nil
}

func (r *structureRepo) UpdateModuleCompletionPolicy(dbc dbctx.Context, id uuid.UUID, automatic bool, points, attempted *int) (*types.CourseModule, error) {
	var m types.CourseModule
	res := dbc.DB(r.db).Model(&m).
		Where("id = ?", id).
		Updates(map[string]any{
			"automatic_completion":        automatic,
			"completion_points_threshold": points,
			"completion_number_of_exercises_attempted_threshold": attempted,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, aggregates.MapError("StructureRepo.UpdateModuleCompletionPolicy", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, aggregates.MapError("StructureRepo.UpdateModuleCompletionPolicy", gorm.ErrRecordNotFound)
	}
	return r.GetModule(dbc, id)
}

func (r *structureRepo) CreateChapter(dbc dbctx.Context, pk pkey.Policy, ch *types.Chapter) (*types.Chapter, error) {
	ch.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(ch).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.CreateChapter", err)
	}
	return ch, nil
}

func (r *structureRepo) GetChapter(dbc dbctx.Context, id uuid.UUID) (*types.Chapter, error) {
	var ch types.Chapter
	if err := dbc.DB(r.db).Where("id = ?", id).First(&ch).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.GetChapter", err)
	}
	return &ch, nil
}

func (r *structureRepo) GetChapterIncludingDeleted(dbc dbctx.Context, id uuid.UUID) (*types.Chapter, error) {
	var ch types.Chapter
	if err := dbc.DB(r.db).Unscoped().Where("id = ?", id).First(&ch).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.GetChapterIncludingDeleted", err)
	}
	return &ch, nil
}

func (r *structureRepo) ListChapters(dbc dbctx.Context, courseID uuid.UUID) ([]types.Chapter, error) {
	out := []types.Chapter{}
	if err := dbc.DB(r.db).Where("course_id = ?", courseID).Order("chapter_number ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.ListChapters", err)
	}
	return out, nil
}

// SoftDeleteChapter deletes the chapter and its pages in the caller's transaction.
func (r *structureRepo) SoftDeleteChapter(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.DB(r.db)
	res := transaction.Where("id = ?", id).Delete(&types.Chapter{})
	if res.Error != nil {
		return aggregates.MapError("StructureRepo.SoftDeleteChapter", res.Error)
	}
	if res.RowsAffected == 0 {
		return aggregates.MapError("StructureRepo.SoftDeleteChapter", gorm.ErrRecordNotFound)
	}
	if err := transaction.Where("chapter_id = ?", id).Delete(&types.Page{}).Error; err != nil {
		return aggregates.MapError("StructureRepo.SoftDeleteChapter", err)
	}
	return nil
}

func (r *structureRepo) CreateExam(dbc dbctx.Context, pk pkey.Policy, exam *types.Exam) (*types.Exam, error) {
	exam.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(exam).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.CreateExam", err)
	}
	return exam, nil
}

func (r *structureRepo) GetExam(dbc dbctx.Context, id uuid.UUID) (*types.Exam, error) {
	var e types.Exam
	if err := dbc.DB(r.db).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, aggregates.MapError("StructureRepo.GetExam", err)
	}
	return &e, nil
}
