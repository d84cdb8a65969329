package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/yungbote/headless-lms/internal/data/repos"
	"github.com/yungbote/headless-lms/internal/domain/user"
	"github.com/yungbote/headless-lms/internal/http/response"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/services/access"
	"github.com/yungbote/headless-lms/internal/services/content"
)

// CourseMaterialHandler serves pages to students and the page editor to
// teachers.
type CourseMaterialHandler struct {
	svc    content.Service
	access access.Service
	repos  repos.Set
}

func NewCourseMaterialHandler(svc content.Service, acc access.Service, r repos.Set) *CourseMaterialHandler {
	return &CourseMaterialHandler{svc: svc, access: acc, repos: r}
}

// GET /course-material/pages/:page_id?course_instance_id=&exam_id=
func (h *CourseMaterialHandler) GetPage(c *gin.Context) {
	pageID, err := uuidParam(c, "page_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	v, err := viewerFrom(c)
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	page, err := h.svc.GetCoursePage(c.Request.Context(), pageID, v)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, page)
}

// GET /course-material/courses/:course_id/page-by-path/*path
func (h *CourseMaterialHandler) GetPageByPath(c *gin.Context) {
	courseID, err := uuidParam(c, "course_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	v, err := viewerFrom(c)
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	path := "/" + strings.TrimLeft(c.Param("path"), "/")
	page, err := h.svc.GetCoursePageByPath(c.Request.Context(), courseID, path, v)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, page)
}

// GET /cms/exercise-slides/:slide_id/tasks
func (h *CourseMaterialHandler) EditorTasks(c *gin.Context) {
	slideID, err := uuidParam(c, "slide_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	slide, err := h.repos.Exercises.GetSlide(dbctx.Context{Ctx: ctx}, slideID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	if err := h.access.RequireExercise(ctx, currentUser(c), slide.ExerciseID, user.RoleTeacher, user.RoleAssistant); err != nil {
		response.RespondError(c, err)
		return
	}
	tasks, err := h.svc.EditorTasks(ctx, slideID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"tasks": tasks})
}

// PUT /cms/pages/:page_id
// body: { "title": "...", "content": [...] }
func (h *CourseMaterialHandler) SavePage(c *gin.Context) {
	pageID, err := uuidParam(c, "page_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	var req struct {
		Title   string          `json:"title"`
		Content json.RawMessage `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	uid := currentUser(c)
	if err := h.access.RequirePage(ctx, uid, pageID, user.RoleTeacher); err != nil {
		response.RespondError(c, err)
		return
	}
	page, err := h.svc.SavePage(ctx, pageID, req.Title, datatypes.JSON(req.Content), uid)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, page)
}

// POST /cms/page-history/:history_id/restore
func (h *CourseMaterialHandler) RestorePage(c *gin.Context) {
	historyID, err := uuidParam(c, "history_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	uid := currentUser(c)
	hist, err := h.repos.Pages.GetHistory(dbctx.Context{Ctx: ctx}, historyID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	if err := h.access.RequirePage(ctx, uid, hist.PageID, user.RoleTeacher); err != nil {
		response.RespondError(c, err)
		return
	}
	page, err := h.svc.RestorePage(ctx, historyID, uid)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, page)
}

// GET /cms/pages/:page_id/history
func (h *CourseMaterialHandler) PageHistory(c *gin.Context) {
	pageID, err := uuidParam(c, "page_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.access.RequirePage(ctx, currentUser(c), pageID, user.RoleTeacher, user.RoleAssistant); err != nil {
		response.RespondError(c, err)
		return
	}
	hist, err := h.repos.Pages.ListHistory(dbctx.Context{Ctx: ctx}, pageID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": hist})
}

func viewerFrom(c *gin.Context) (content.Viewer, error) {
	instanceID, err := optionalUUIDQuery(c, "course_instance_id")
	if err != nil {
		return content.Viewer{}, err
	}
	examID, err := optionalUUIDQuery(c, "exam_id")
	if err != nil {
		return content.Viewer{}, err
	}
	return content.Viewer{UserID: currentUser(c), CourseInstanceID: instanceID, ExamID: examID}, nil
}
