package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/headless-lms/internal/http/response"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/services/studyregistry"
)

// StudyRegistryHandler is called by registrars with their secret key as the
// credentials of the Authorization header.
type StudyRegistryHandler struct {
	log *logger.Logger
	svc studyregistry.Service
}

func NewStudyRegistryHandler(log *logger.Logger, svc studyregistry.Service) *StudyRegistryHandler {
	return &StudyRegistryHandler{log: log.With("handler", "StudyRegistryHandler"), svc: svc}
}

// GET /study-registry/modules/:module_id/completions
// Streams a JSON array of the module's completions not yet registered.
func (h *StudyRegistryHandler) Unregistered(c *gin.Context) {
	moduleID, err := uuidParam(c, "module_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	reg, err := h.svc.Authenticate(ctx, accessTokenOf(c.GetHeader("Authorization")))
	if err != nil {
		response.RespondError(c, err)
		return
	}

	c.Header("Content-Type", "application/json")
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	n := 0
	_, _ = c.Writer.WriteString("[")
	for row, err := range h.svc.Unregistered(ctx, reg.ID, moduleID) {
		if err != nil {
			h.log.Error("study registry stream failed", "registrar_id", reg.ID, "rows", n, "error", err)
			_ = c.Error(err)
			return
		}
		if n > 0 {
			_, _ = c.Writer.WriteString(",")
		}
		if err := enc.Encode(row); err != nil {
			_ = c.Error(err)
			return
		}
		n++
		if n%100 == 0 {
			c.Writer.Flush()
		}
	}
	_, _ = c.Writer.WriteString("]")
	h.log.Debug("study registry stream done", "registrar_id", reg.ID, "rows", n)
}

// POST /study-registry/completion-registrations
// body: [ { "completion_id", "student_number" } ]
func (h *StudyRegistryHandler) Register(c *gin.Context) {
	ctx := c.Request.Context()
	reg, err := h.svc.Authenticate(ctx, accessTokenOf(c.GetHeader("Authorization")))
	if err != nil {
		response.RespondError(c, err)
		return
	}
	var in []studyregistry.Registration
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	n, err := h.svc.RegisterCompletions(ctx, reg.ID, in)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"registered": n})
}
