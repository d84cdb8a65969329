package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/headless-lms/internal/domain/user"
	"github.com/yungbote/headless-lms/internal/http/response"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/services/access"
	"github.com/yungbote/headless-lms/internal/services/chapterlock"
	"github.com/yungbote/headless-lms/internal/services/completion"
	"github.com/yungbote/headless-lms/internal/services/export"
)

type CompletionHandler struct {
	log         *logger.Logger
	completions completion.CompletionService
	chapters    chapterlock.ChapterLockService
	export      export.Service
	access      access.Service
}

func NewCompletionHandler(log *logger.Logger, completions completion.CompletionService, chapters chapterlock.ChapterLockService, exp export.Service, acc access.Service) *CompletionHandler {
	return &CompletionHandler{
		log:         log.With("handler", "CompletionHandler"),
		completions: completions,
		chapters:    chapters,
		export:      exp,
		access:      acc,
	}
}

// POST /teacher/completions
// body: completion.ManualCompletion
func (h *CompletionHandler) GrantManual(c *gin.Context) {
	var in completion.ManualCompletion
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	in.TeacherID = currentUser(c)
	if err := h.access.RequireModule(ctx, in.TeacherID, in.CourseModuleID, user.RoleTeacher); err != nil {
		response.RespondError(c, err)
		return
	}
	out, err := h.completions.GrantManual(ctx, in)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /teacher/modules/:module_id/completions.csv
func (h *CompletionHandler) ExportCSV(c *gin.Context) {
	moduleID, err := uuidParam(c, "module_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.access.RequireModule(ctx, currentUser(c), moduleID, user.RoleTeacher, user.RoleAssistant); err != nil {
		response.RespondError(c, err)
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="completions-%s.csv"`, moduleID))
	c.Status(http.StatusOK)
	n, err := h.export.ModuleCompletionsCSV(ctx, moduleID, c.Writer)
	if err != nil {
		// Headers are gone once rows were written; the truncated body is all
		// the client gets.
		h.log.Error("completion export failed", "module_id", moduleID, "rows", n, "error", err)
		_ = c.Error(err)
		return
	}
	h.log.Debug("completion export done", "module_id", moduleID, "rows", n)
}

// GET /course-material/courses/:course_id/chapter-locks
func (h *CompletionHandler) ChapterLocks(c *gin.Context) {
	courseID, err := uuidParam(c, "course_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	rows, err := h.chapters.ListForCourse(dbctx.Context{Ctx: ctx}, currentUser(c), courseID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chapter_locking_statuses": rows})
}

// POST /course-material/chapters/:chapter_id/complete
func (h *CompletionHandler) CompleteChapter(c *gin.Context) {
	chapterID, err := uuidParam(c, "chapter_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	row, err := h.chapters.CompleteChapter(c.Request.Context(), currentUser(c), chapterID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, row)
}
