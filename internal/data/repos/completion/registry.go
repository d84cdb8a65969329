package completion

import (
	"iter"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/stream"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type RegistryRepo interface {
	CreateRegistrar(dbc dbctx.Context, pk pkey.Policy, reg *types.StudyRegistryRegistrar) (*types.StudyRegistryRegistrar, error)
	GetRegistrarBySecret(dbc dbctx.Context, secret string) (*types.StudyRegistryRegistrar, error)
	// StreamUnregistered yields passed completions of the module that the
	// registrar has not registered yet.
	StreamUnregistered(dbc dbctx.Context, registrarID, moduleID uuid.UUID) iter.Seq2[types.CourseModuleCompletion, error]
	// Register inserts the registration and reports false when the
	// completion was already registered with the registrar.
	Register(dbc dbctx.Context, reg *types.CompletionRegistration) (bool, error)
}

type registryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRegistryRepo(db *gorm.DB, baseLog *logger.Logger) RegistryRepo {
	return &registryRepo{db: db, log: baseLog.With("repo", "StudyRegistryRepo")}
}

func (r *registryRepo) CreateRegistrar(dbc dbctx.Context, pk pkey.Policy, reg *types.StudyRegistryRegistrar) (*types.StudyRegistryRegistrar, error) {
	reg.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(reg).Error; err != nil {
		return nil, aggregates.MapError("StudyRegistryRepo.CreateRegistrar", err)
	}
	return reg, nil
}

func (r *registryRepo) GetRegistrarBySecret(dbc dbctx.Context, secret string) (*types.StudyRegistryRegistrar, error) {
	var reg types.StudyRegistryRegistrar
	if err := dbc.DB(r.db).Where("secret_key = ?", secret).First(&reg).Error; err != nil {
		return nil, aggregates.MapError("StudyRegistryRepo.GetRegistrarBySecret", err)
	}
	return &reg, nil
}

func (r *registryRepo) StreamUnregistered(dbc dbctx.Context, registrarID, moduleID uuid.UUID) iter.Seq2[types.CourseModuleCompletion, error] {
	q := dbc.DB(r.db).Model(&types.CourseModuleCompletion{}).
		Where("course_module_id = ? AND passed = true", moduleID).
		Where(`NOT EXISTS (
			SELECT 1 FROM course_module_completion_registrations reg
			WHERE reg.course_module_completion_id = course_module_completions.id
			  AND reg.study_registry_registrar_id = ?
			  AND reg.deleted_at IS NULL
		)`, registrarID).
		Order("created_at ASC, id ASC")
	return stream.Rows[types.CourseModuleCompletion](q)
}

func (r *registryRepo) Register(dbc dbctx.Context, reg *types.CompletionRegistration) (bool, error) {
	res := dbc.DB(r.db).Clauses(clause.OnConflict{DoNothing: true}).Create(reg)
	if res.Error != nil {
		return false, aggregates.MapError("StudyRegistryRepo.Register", res.Error)
	}
	return res.RowsAffected == 1, nil
}
