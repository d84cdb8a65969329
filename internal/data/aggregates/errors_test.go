package aggregates

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"gorm.io/gorm"
)

func TestMapError_Validation(t *testing.T) {
	err := MapError("op", ValidationError("bad input"))
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("expected validation code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_Precondition(t *testing.T) {
	err := MapError("op", PreconditionError("chapter locked"))
	if !domainagg.IsCode(err, domainagg.CodePreconditionFailed) {
		t.Fatalf("expected precondition code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_NotFound(t *testing.T) {
	err := MapError("op", gorm.ErrRecordNotFound)
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("expected not_found code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_KnownConstraint(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23514", ConstraintName: "users_email_check"}
	err := MapError("users.insert", pgErr)
	e, ok := domainagg.As(err)
	if !ok || e.Code != domainagg.CodeDatabaseConstraint {
		t.Fatalf("expected database_constraint, got %v", err)
	}
	if e.Constraint != "users_email_check" || e.Message == "" {
		t.Fatalf("expected constraint name and description, got %#v", e)
	}
}

func TestMapError_UnknownUniqueIsConflict(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "something_else"}
	if !domainagg.IsCode(MapError("op", pgErr), domainagg.CodeConflict) {
		t.Fatalf("expected conflict")
	}
	if !IsUniqueViolation(pgErr, "") || IsUniqueViolation(pgErr, "other") {
		t.Fatalf("unexpected unique violation classification")
	}
}

func TestMapError_Retryable(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "40P01"}
	if !domainagg.IsCode(MapError("op", pgErr), domainagg.CodeRetryable) {
		t.Fatalf("expected retryable")
	}
}

func TestMapError_PassthroughDomainError(t *testing.T) {
	in := domainagg.NewError(domainagg.CodeRetryable, "op", "retry", errors.New("boom"))
	out := MapError("other", in)
	if out != in {
		t.Fatalf("expected passthrough domain error")
	}
}

func TestTransitionRejectsIncompleteDefinition(t *testing.T) {
	type progress string
	id := uuid.New()
	cases := map[string]Transition[progress]{
		"no table":  {Column: "grading_progress", From: []progress{"Pending"}},
		"no column": {Table: "exercise_task_gradings", From: []progress{"Pending"}},
		"no states": {Table: "exercise_task_gradings", Column: "grading_progress"},
	}
	for name, tr := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := tr.Apply(CASGuard{}, dbctx.Context{}, id, map[string]any{}); !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
	ok := Transition[progress]{Table: "exercise_task_gradings", Column: "grading_progress", From: []progress{"Pending"}}
	if _, err := ok.Apply(CASGuard{}, dbctx.Context{}, uuid.Nil, map[string]any{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("nil id err = %v", err)
	}
	if _, err := ok.Apply(CASGuard{}, dbctx.Context{}, id, map[string]any{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing db err = %v", err)
	}
}

func TestRequireCASSuccess(t *testing.T) {
	if err := RequireCASSuccess(true, "taken"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := RequireCASSuccess(false, " taken "); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
