// Package access answers role questions for the HTTP layer. Roles are
// granted globally, per organization or per course; admin implies every role.
package access

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/repos"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/domain/user"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type Service interface {
	// RequireGlobal checks a role granted without scope.
	RequireGlobal(ctx context.Context, userID uuid.UUID, roles ...user.Role) error
	// RequireCourse checks a role on the course or its organization.
	RequireCourse(ctx context.Context, userID, courseID uuid.UUID, roles ...user.Role) error
	RequireModule(ctx context.Context, userID, moduleID uuid.UUID, roles ...user.Role) error
	RequirePage(ctx context.Context, userID, pageID uuid.UUID, roles ...user.Role) error
	RequireExercise(ctx context.Context, userID, exerciseID uuid.UUID, roles ...user.Role) error
	RequireUserExerciseState(ctx context.Context, userID, stateID uuid.UUID, roles ...user.Role) error
}

type service struct {
	db    *gorm.DB
	log   *logger.Logger
	repos repos.Set
}

func NewService(db *gorm.DB, baseLog *logger.Logger, r repos.Set) Service {
	return &service{db: db, log: baseLog.With("service", "AccessService"), repos: r}
}

func (s *service) RequireGlobal(ctx context.Context, userID uuid.UUID, roles ...user.Role) error {
	return s.check(s.read(ctx), "AccessService.RequireGlobal", userID, nil, nil, roles)
}

func (s *service) RequireCourse(ctx context.Context, userID, courseID uuid.UUID, roles ...user.Role) error {
	const op = "AccessService.RequireCourse"
	dbc := s.read(ctx)
	course, err := s.repos.Courses.GetByID(dbc, courseID)
	if err != nil {
		return err
	}
	return s.check(dbc, op, userID, &course.OrganizationID, &course.ID, roles)
}

func (s *service) RequireModule(ctx context.Context, userID, moduleID uuid.UUID, roles ...user.Role) error {
	m, err := s.repos.Structure.GetModule(s.read(ctx), moduleID)
	if err != nil {
		return err
	}
	return s.RequireCourse(ctx, userID, m.CourseID, roles...)
}

func (s *service) RequirePage(ctx context.Context, userID, pageID uuid.UUID, roles ...user.Role) error {
	const op = "AccessService.RequirePage"
	dbc := s.read(ctx)
	p, err := s.repos.Pages.GetByID(dbc, pageID)
	if err != nil {
		return err
	}
	switch {
	case p.CourseID != nil:
		return s.RequireCourse(ctx, userID, *p.CourseID, roles...)
	case p.ExamID != nil:
		return s.requireExam(dbc, op, userID, *p.ExamID, roles)
	}
	return s.check(dbc, op, userID, nil, nil, roles)
}

func (s *service) RequireExercise(ctx context.Context, userID, exerciseID uuid.UUID, roles ...user.Role) error {
	const op = "AccessService.RequireExercise"
	dbc := s.read(ctx)
	ex, err := s.repos.Exercises.GetByID(dbc, exerciseID)
	if err != nil {
		return err
	}
	switch {
	case ex.CourseID != nil:
		return s.RequireCourse(ctx, userID, *ex.CourseID, roles...)
	case ex.ExamID != nil:
		return s.requireExam(dbc, op, userID, *ex.ExamID, roles)
	}
	return s.check(dbc, op, userID, nil, nil, roles)
}

func (s *service) RequireUserExerciseState(ctx context.Context, userID, stateID uuid.UUID, roles ...user.Role) error {
	st, err := s.repos.States.GetByID(s.read(ctx), stateID)
	if err != nil {
		return err
	}
	return s.RequireExercise(ctx, userID, st.ExerciseID, roles...)
}

func (s *service) requireExam(dbc dbctx.Context, op string, userID, examID uuid.UUID, roles []user.Role) error {
	exam, err := s.repos.Structure.GetExam(dbc, examID)
	if err != nil {
		return err
	}
	return s.check(dbc, op, userID, &exam.OrganizationID, nil, roles)
}

func (s *service) check(dbc dbctx.Context, op string, userID uuid.UUID, orgID, courseID *uuid.UUID, roles []user.Role) error {
	if userID == uuid.Nil {
		return domainagg.NewError(domainagg.CodeUnauthorized, op, "sign in required", nil)
	}
	for _, role := range append([]user.Role{user.RoleAdmin}, roles...) {
		ok, err := s.repos.User.HasRole(dbc, userID, role, orgID, courseID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	s.log.Debug("access denied", "user_id", userID, "op", op)
	return domainagg.NewError(domainagg.CodeForbidden, op, "missing required role", nil)
}

func (s *service) read(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx, Tx: s.db.WithContext(ctx)}
}
