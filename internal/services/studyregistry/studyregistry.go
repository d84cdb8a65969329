package studyregistry

import (
	"context"
	"crypto/subtle"
	"iter"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/validate"
)

// MaxRegistrationsPerCall bounds one RegisterCompletions batch.
const MaxRegistrationsPerCall = 1000

type Registration struct {
	CompletionID      uuid.UUID `json:"completion_id" validate:"required"`
	RealStudentNumber string    `json:"student_number" validate:"required,max=64"`
}

type Service interface {
	// Authenticate resolves the registrar owning secret.
	Authenticate(ctx context.Context, secret string) (*types.StudyRegistryRegistrar, error)
	// Unregistered streams the module's passed completions the registrar has
	// not registered yet. The sequence holds a database cursor until drained.
	Unregistered(ctx context.Context, registrarID, moduleID uuid.UUID) iter.Seq2[types.CourseModuleCompletion, error]
	// RegisterCompletions records completions as registered and returns how
	// many were new.
	RegisterCompletions(ctx context.Context, registrarID uuid.UUID, regs []Registration) (int, error)
}

type service struct {
	db     *gorm.DB
	log    *logger.Logger
	repos  repos.Set
	runner aggregates.TxRunner
}

func NewService(db *gorm.DB, baseLog *logger.Logger, r repos.Set) Service {
	return &service{
		db:     db,
		log:    baseLog.With("service", "StudyRegistryService"),
		repos:  r,
		runner: aggregates.NewGormTxRunner(db),
	}
}

func (s *service) Authenticate(ctx context.Context, secret string) (*types.StudyRegistryRegistrar, error) {
	const op = "StudyRegistryService.Authenticate"
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, domainagg.NewError(domainagg.CodeUnauthorized, op, "missing registrar secret", nil)
	}
	reg, err := s.repos.StudyRegistry.GetRegistrarBySecret(s.read(ctx), secret)
	if domainagg.IsCode(err, domainagg.CodeNotFound) {
		return nil, domainagg.NewError(domainagg.CodeUnauthorized, op, "unknown registrar secret", nil)
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(reg.SecretKey), []byte(secret)) != 1 {
		return nil, domainagg.NewError(domainagg.CodeUnauthorized, op, "unknown registrar secret", nil)
	}
	return reg, nil
}

func (s *service) Unregistered(ctx context.Context, registrarID, moduleID uuid.UUID) iter.Seq2[types.CourseModuleCompletion, error] {
	return s.repos.StudyRegistry.StreamUnregistered(s.read(ctx), registrarID, moduleID)
}

func (s *service) RegisterCompletions(ctx context.Context, registrarID uuid.UUID, regs []Registration) (int, error) {
	const op = "StudyRegistryService.RegisterCompletions"
	if len(regs) > MaxRegistrationsPerCall {
		return 0, domainagg.Invalid(op, "too many registrations in one call")
	}
	for i := range regs {
		if err := validate.Struct(op, regs[i]); err != nil {
			return 0, err
		}
	}

	added := 0
	err := aggregates.ExecuteWrite(ctx, s.deps(), op, func(dbc dbctx.Context) error {
		added = 0
		for _, in := range regs {
			c, err := s.repos.Completions.GetByID(dbc, in.CompletionID)
			if err != nil {
				return err
			}
			if !c.Passed {
				return domainagg.Precondition(op, "completion "+c.ID.String()+" is not passed")
			}
			ok, err := s.repos.StudyRegistry.Register(dbc, &types.CompletionRegistration{
				CourseID:                 c.CourseID,
				CourseModuleCompletionID: c.ID,
				CourseModuleID:           c.CourseModuleID,
				StudyRegistryRegistrarID: registrarID,
				UserID:                   c.UserID,
				RealStudentNumber:        strings.TrimSpace(in.RealStudentNumber),
			})
			if err != nil {
				return err
			}
			if ok {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("completions registered", "registrar_id", registrarID, "requested", len(regs), "added", added)
	return added, nil
}

func (s *service) read(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx, Tx: s.db.WithContext(ctx)}
}

func (s *service) deps() aggregates.BaseDeps {
	return aggregates.BaseDeps{DB: s.db, Log: s.log, Runner: s.runner}
}
