package completion

import (
	"iter"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/stream"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type CompletionRepo interface {
	Create(dbc dbctx.Context, c *types.CourseModuleCompletion) (*types.CourseModuleCompletion, error)
	// Get returns the live completion for (user, module, instance).
	Get(dbc dbctx.Context, userID, moduleID, courseInstanceID uuid.UUID) (*types.CourseModuleCompletion, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CourseModuleCompletion, error)
	// SetPassed updates an automatic completion; manual completions are left untouched.
	SetPassed(dbc dbctx.Context, id uuid.UUID, passed bool) (*types.CourseModuleCompletion, error)
	ListPassedForUser(dbc dbctx.Context, userID uuid.UUID, moduleIDs []uuid.UUID) ([]types.CourseModuleCompletion, error)
	SoftDelete(dbc dbctx.Context, id uuid.UUID) error
	// StreamByModule lazily yields the module's live completions in creation order.
	StreamByModule(dbc dbctx.Context, moduleID uuid.UUID) iter.Seq2[types.CourseModuleCompletion, error]
}

type completionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCompletionRepo(db *gorm.DB, baseLog *logger.Logger) CompletionRepo {
	return &completionRepo{db: db, log: baseLog.With("repo", "CourseModuleCompletionRepo")}
}

func (r *completionRepo) Create(dbc dbctx.Context, c *types.CourseModuleCompletion) (*types.CourseModuleCompletion, error) {
	if c.CompletionDate.IsZero() {
		c.CompletionDate = time.Now().UTC()
	}
	if err := dbc.DB(r.db).Create(c).Error; err != nil {
		return nil, aggregates.MapError("CourseModuleCompletionRepo.Create", err)
	}
	return c, nil
}

func (r *completionRepo) Get(dbc dbctx.Context, userID, moduleID, courseInstanceID uuid.UUID) (*types.CourseModuleCompletion, error) {
	var c types.CourseModuleCompletion
	err := dbc.DB(r.db).
		Where("user_id = ? AND course_module_id = ? AND course_instance_id = ?", userID, moduleID, courseInstanceID).
		First(&c).Error
	if err != nil {
		return nil, aggregates.MapError("CourseModuleCompletionRepo.Get", err)
	}
	return &c, nil
}

func (r *completionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CourseModuleCompletion, error) {
	var c types.CourseModuleCompletion
	if err := dbc.DB(r.db).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, aggregates.MapError("CourseModuleCompletionRepo.GetByID", err)
	}
	return &c, nil
}

func (r *completionRepo) SetPassed(dbc dbctx.Context, id uuid.UUID, passed bool) (*types.CourseModuleCompletion, error) {
	res := dbc.DB(r.db).Model(&types.CourseModuleCompletion{}).
		Where("id = ? AND completion_granted_by_teacher_id IS NULL", id).
		Updates(map[string]any{"passed": passed, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, aggregates.MapError("CourseModuleCompletionRepo.SetPassed", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, aggregates.MapError("CourseModuleCompletionRepo.SetPassed",
			aggregates.PreconditionError("completion is missing or was granted manually"))
	}
	return r.GetByID(dbc, id)
}

func (r *completionRepo) ListPassedForUser(dbc dbctx.Context, userID uuid.UUID, moduleIDs []uuid.UUID) ([]types.CourseModuleCompletion, error) {
	out := []types.CourseModuleCompletion{}
	if len(moduleIDs) == 0 {
		return out, nil
	}
	err := dbc.DB(r.db).
		Where("user_id = ? AND passed = true AND course_module_id IN ?", userID, moduleIDs).
		Find(&out).Error
	if err != nil {
		return nil, aggregates.MapError("CourseModuleCompletionRepo.ListPassedForUser", err)
	}
	return out, nil
}

func (r *completionRepo) SoftDelete(dbc dbctx.Context, id uuid.UUID) error {
	res := dbc.DB(r.db).Where("id = ?", id).Delete(&types.CourseModuleCompletion{})
	if res.Error != nil {
		return aggregates.MapError("CourseModuleCompletionRepo.SoftDelete", res.Error)
	}
	if res.RowsAffected == 0 {
		return aggregates.MapError("CourseModuleCompletionRepo.SoftDelete", gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *completionRepo) StreamByModule(dbc dbctx.Context, moduleID uuid.UUID) iter.Seq2[types.CourseModuleCompletion, error] {
	q := dbc.DB(r.db).Model(&types.CourseModuleCompletion{}).
		Where("course_module_id = ?", moduleID).
		Order("created_at ASC, id ASC")
	return stream.Rows[types.CourseModuleCompletion](q)
}
