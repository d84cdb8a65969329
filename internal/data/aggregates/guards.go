package aggregates

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"gorm.io/gorm"
)

// CASGuard runs compare-and-set updates on lifecycle columns such as
// exercise_task_gradings.grading_progress.
type CASGuard struct {
	db *gorm.DB
}

func NewCASGuard(db *gorm.DB) CASGuard {
	return CASGuard{db: db}
}

func (g CASGuard) baseDB(dbc dbctx.Context) (*gorm.DB, error) {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx), nil
	}
	if g.db != nil {
		return g.db.WithContext(dbc.Ctx), nil
	}
	return nil, ValidationError("missing db transaction context")
}

// Transition moves a row's Column out of one of the From states. A grading
// that already left them (a late grader response after a failure, a second
// regrade result) is left untouched.
type Transition[S ~string] struct {
	Table  string
	Column string
	From   []S
}

// Apply updates the live row id when its column holds one of t.From and
// reports whether it did. updated_at is stamped unless updates sets it.
func (t Transition[S]) Apply(g CASGuard, dbc dbctx.Context, id uuid.UUID, updates map[string]any) (bool, error) {
	table := strings.TrimSpace(t.Table)
	column := strings.TrimSpace(t.Column)
	if table == "" || column == "" || id == uuid.Nil {
		return false, ValidationError("table, column and id are required for a transition")
	}
	if len(t.From) == 0 {
		return false, ValidationError("transition has no source states")
	}
	db, err := g.baseDB(dbc)
	if err != nil {
		return false, err
	}
	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := db.Table(table).
		Where("id = ? AND deleted_at IS NULL AND "+column+" IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RequireCASSuccess converts a failed compare-and-set into a typed conflict error.
func RequireCASSuccess(ok bool, message string) error {
	if ok {
		return nil
	}
	return ConflictError(strings.TrimSpace(message))
}
