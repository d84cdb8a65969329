package completion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/validate"
)

// Metrics summarizes a user's states over one module's exercises in one
// course instance.
type Metrics struct {
	AttemptedExercises int
	ScoreGiven         float64
}

// Eligible reports whether metrics satisfy a module's automatic completion
// policy. At least one threshold must be configured and every configured
// threshold must be met.
func Eligible(m *types.CourseModule, metrics Metrics) bool {
	if m == nil || !m.AutomaticCompletion {
		return false
	}
	configured := 0
	if t := m.CompletionNumberOfExercisesAttemptedThreshold; t != nil {
		if metrics.AttemptedExercises < *t {
			return false
		}
		configured++
	}
	if t := m.CompletionPointsThreshold; t != nil {
		if metrics.ScoreGiven < float64(*t) {
			return false
		}
		configured++
	}
	return configured > 0
}

// Summarize folds states into module metrics. States still in Initialized
// do not count as attempts.
func Summarize(states []types.UserExerciseState) Metrics {
	var out Metrics
	for _, s := range states {
		if s.ActivityProgress != gradingdomain.ActivityInitialized {
			out.AttemptedExercises++
		}
		if s.ScoreGiven != nil {
			out.ScoreGiven += *s.ScoreGiven
		}
	}
	return out
}

type ManualCompletion struct {
	UserID           uuid.UUID `json:"user_id" validate:"required"`
	CourseModuleID   uuid.UUID `json:"course_module_id" validate:"required"`
	CourseInstanceID uuid.UUID `json:"course_instance_id" validate:"required"`
	Passed           bool      `json:"passed"`
	Grade            *int      `json:"grade,omitempty" validate:"omitempty,min=0,max=5"`
	TeacherID        uuid.UUID `json:"-"`
}

type CompletionService interface {
	// EvaluateForExercise re-checks the module that owns ex after one of
	// the user's states in courseInstanceID changed.
	EvaluateForExercise(dbc dbctx.Context, userID uuid.UUID, ex *types.Exercise, courseInstanceID uuid.UUID) error
	EvaluateModule(dbc dbctx.Context, userID, moduleID, courseInstanceID uuid.UUID) (*types.CourseModuleCompletion, error)
	ModuleMetrics(dbc dbctx.Context, userID, moduleID, courseInstanceID uuid.UUID) (Metrics, error)
	GrantManual(ctx context.Context, in ManualCompletion) (*types.CourseModuleCompletion, error)
}

type completionService struct {
	db    *gorm.DB
	log   *logger.Logger
	repos repos.Set
}

func NewCompletionService(db *gorm.DB, baseLog *logger.Logger, r repos.Set) CompletionService {
	return &completionService{
		db:    db,
		log:   baseLog.With("service", "CompletionService"),
		repos: r,
	}
}

func (s *completionService) EvaluateForExercise(dbc dbctx.Context, userID uuid.UUID, ex *types.Exercise, courseInstanceID uuid.UUID) error {
	if ex == nil || ex.CourseID == nil {
		return nil
	}
	moduleID, err := s.moduleFor(dbc, ex)
	if err != nil {
		return err
	}
	_, err = s.EvaluateModule(dbc, userID, moduleID, courseInstanceID)
	return err
}

func (s *completionService) moduleFor(dbc dbctx.Context, ex *types.Exercise) (uuid.UUID, error) {
	if ex.ChapterID != nil {
		ch, err := s.repos.Structure.GetChapterIncludingDeleted(dbc, *ex.ChapterID)
		if err != nil {
			return uuid.Nil, err
		}
		return ch.CourseModuleID, nil
	}
	m, err := s.repos.Structure.GetDefaultModule(dbc, *ex.CourseID)
	if err != nil {
		return uuid.Nil, err
	}
	return m.ID, nil
}

func (s *completionService) ModuleMetrics(dbc dbctx.Context, userID, moduleID, courseInstanceID uuid.UUID) (Metrics, error) {
	exercises, err := s.repos.Exercises.ListByModule(dbc, moduleID)
	if err != nil {
		return Metrics{}, err
	}
	if len(exercises) == 0 {
		return Metrics{}, nil
	}
	ids := make([]uuid.UUID, 0, len(exercises))
	for _, ex := range exercises {
		ids = append(ids, ex.ID)
	}
	states, err := s.repos.States.ListForUserInstance(dbc, userID, courseInstanceID, ids)
	if err != nil {
		return Metrics{}, err
	}
	return Summarize(states), nil
}

// EvaluateModule inserts an automatic completion when the user first becomes
// eligible and flips passed on an existing automatic completion when
// eligibility changes. Manual completions are returned unchanged.
func (s *completionService) EvaluateModule(dbc dbctx.Context, userID, moduleID, courseInstanceID uuid.UUID) (*types.CourseModuleCompletion, error) {
	module, err := s.repos.Structure.GetModule(dbc, moduleID)
	if err != nil {
		return nil, err
	}
	if !module.AutomaticCompletion {
		observability.Current().IncCompletionEvaluation("disabled")
		return nil, nil
	}
	metrics, err := s.ModuleMetrics(dbc, userID, moduleID, courseInstanceID)
	if err != nil {
		return nil, err
	}
	eligible := Eligible(module, metrics)

	existing, err := s.repos.Completions.Get(dbc, userID, moduleID, courseInstanceID)
	if err != nil && !domainagg.IsCode(err, domainagg.CodeNotFound) {
		return nil, err
	}

	switch {
	case existing != nil && existing.IsManual():
		observability.Current().IncCompletionEvaluation("manual")
		return existing, nil
	case existing != nil && existing.Passed == eligible:
		observability.Current().IncCompletionEvaluation("unchanged")
		return existing, nil
	case existing != nil:
		updated, err := s.repos.Completions.SetPassed(dbc, existing.ID, eligible)
		if err != nil {
			return nil, err
		}
		s.log.Info("completion updated",
			"user_id", userID, "course_module_id", moduleID, "passed", eligible,
			"score_given", metrics.ScoreGiven, "attempted", metrics.AttemptedExercises)
		observability.Current().IncCompletionEvaluation(passedLabel(eligible))
		return updated, nil
	case !eligible:
		observability.Current().IncCompletionEvaluation("not_eligible")
		return nil, nil
	}

	course, err := s.repos.Courses.GetByID(dbc, module.CourseID)
	if err != nil {
		return nil, err
	}
	u, err := s.repos.User.GetByID(dbc, userID)
	if err != nil {
		return nil, err
	}
	created, err := s.repos.Completions.Create(dbc, &types.CourseModuleCompletion{
		CourseID:           module.CourseID,
		CourseModuleID:     moduleID,
		CourseInstanceID:   courseInstanceID,
		UserID:             userID,
		CompletionDate:     time.Now().UTC(),
		CompletionLanguage: course.LanguageCode,
		EligibleForEcts:    true,
		Email:              u.Email,
		Passed:             true,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("completion granted",
		"user_id", userID, "course_module_id", moduleID,
		"score_given", metrics.ScoreGiven, "attempted", metrics.AttemptedExercises)
	observability.Current().IncCompletionEvaluation("granted")
	return created, nil
}

func passedLabel(passed bool) string {
	if passed {
		return "passed"
	}
	return "revoked"
}

// GrantManual records a teacher-granted completion. An existing automatic
// completion for the same user, module and instance is replaced.
func (s *completionService) GrantManual(ctx context.Context, in ManualCompletion) (*types.CourseModuleCompletion, error) {
	const op = "CompletionService.GrantManual"
	if err := validate.Struct(op, in); err != nil {
		return nil, err
	}
	if in.TeacherID == uuid.Nil {
		return nil, domainagg.Invalid(op, "teacher is required")
	}
	var out *types.CourseModuleCompletion
	err := aggregates.ExecuteWrite(ctx, aggregates.BaseDeps{DB: s.db, Log: s.log}, op, func(dbc dbctx.Context) error {
		module, err := s.repos.Structure.GetModule(dbc, in.CourseModuleID)
		if err != nil {
			return err
		}
		inst, err := s.repos.Structure.GetInstance(dbc, in.CourseInstanceID)
		if err != nil {
			return err
		}
		if inst.CourseID != module.CourseID {
			return domainagg.Precondition(op, "course instance does not belong to the module's course")
		}
		existing, err := s.repos.Completions.Get(dbc, in.UserID, in.CourseModuleID, in.CourseInstanceID)
		if err != nil && !domainagg.IsCode(err, domainagg.CodeNotFound) {
			return err
		}
		if existing != nil {
			if err := s.repos.Completions.SoftDelete(dbc, existing.ID); err != nil {
				return err
			}
		}
		course, err := s.repos.Courses.GetByID(dbc, module.CourseID)
		if err != nil {
			return err
		}
		u, err := s.repos.User.GetByID(dbc, in.UserID)
		if err != nil {
			return err
		}
		teacher := in.TeacherID
		out, err = s.repos.Completions.Create(dbc, &types.CourseModuleCompletion{
			CourseID:                     module.CourseID,
			CourseModuleID:               module.ID,
			CourseInstanceID:             inst.ID,
			UserID:                       u.ID,
			CompletionLanguage:           course.LanguageCode,
			EligibleForEcts:              true,
			Email:                        u.Email,
			Grade:                        in.Grade,
			Passed:                       in.Passed,
			CompletionGrantedByTeacherID: &teacher,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	observability.Current().IncCompletionEvaluation("manual_granted")
	return out, nil
}
