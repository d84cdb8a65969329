package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// flushEvery is how many rows are buffered before the writer is flushed.
const flushEvery = 500

var completionHeader = []string{
	"completion_id",
	"user_id",
	"email",
	"course_instance_id",
	"completion_date",
	"completion_language",
	"grade",
	"passed",
	"eligible_for_ects",
	"prerequisite_modules_completed",
	"granted_by_teacher",
}

// Flusher is implemented by writers that can push buffered bytes to the
// client, such as an http.ResponseWriter.
type Flusher interface {
	Flush()
}

type Service interface {
	// ModuleCompletionsCSV writes the module's completions to w as CSV and
	// returns the number of data rows written.
	ModuleCompletionsCSV(ctx context.Context, moduleID uuid.UUID, w io.Writer) (int, error)
}

type service struct {
	db    *gorm.DB
	log   *logger.Logger
	repos repos.Set
}

func NewService(db *gorm.DB, baseLog *logger.Logger, r repos.Set) Service {
	return &service{db: db, log: baseLog.With("service", "ExportService"), repos: r}
}

func (s *service) ModuleCompletionsCSV(ctx context.Context, moduleID uuid.UUID, w io.Writer) (int, error) {
	ctx, span := observability.StartSpan(ctx, "export.module_completions")
	defer span.End()

	dbc := dbctx.Context{Ctx: ctx, Tx: s.db.WithContext(ctx)}
	if _, err := s.repos.Structure.GetModule(dbc, moduleID); err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	flush := func() error {
		cw.Flush()
		if f, ok := w.(Flusher); ok {
			f.Flush()
		}
		return cw.Error()
	}
	if err := cw.Write(completionHeader); err != nil {
		return 0, err
	}

	n := 0
	for c, err := range s.repos.Completions.StreamByModule(dbc, moduleID) {
		if err != nil {
			return n, err
		}
		if err := cw.Write(completionRecord(c)); err != nil {
			return n, err
		}
		n++
		if n%flushEvery == 0 {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := flush(); err != nil {
		return n, err
	}
	s.log.Info("module completions exported", "course_module_id", moduleID, "rows", n)
	return n, nil
}

func completionRecord(c types.CourseModuleCompletion) []string {
	grade := ""
	if c.Grade != nil {
		grade = strconv.Itoa(*c.Grade)
	}
	return []string{
		c.ID.String(),
		c.UserID.String(),
		c.Email,
		c.CourseInstanceID.String(),
		c.CompletionDate.UTC().Format(time.RFC3339),
		c.CompletionLanguage,
		grade,
		strconv.FormatBool(c.Passed),
		strconv.FormatBool(c.EligibleForEcts),
		strconv.FormatBool(c.PrerequisiteModulesCompleted),
		strconv.FormatBool(c.IsManual()),
	}
}
