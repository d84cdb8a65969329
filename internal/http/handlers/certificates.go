package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/headless-lms/internal/http/response"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/services/certificates"
)

type CertificateHandler struct {
	log *logger.Logger
	svc certificates.CertificateService
}

func NewCertificateHandler(log *logger.Logger, svc certificates.CertificateService) *CertificateHandler {
	return &CertificateHandler{log: log.With("handler", "CertificateHandler"), svc: svc}
}

// POST /certificates
// body: { "certificate_configuration_id", "name_on_certificate" }
func (h *CertificateHandler) Generate(c *gin.Context) {
	var in certificates.GenerateRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	in.UserID = currentUser(c)
	cert, err := h.svc.Generate(c.Request.Context(), in)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, cert)
}

// GET /certificates/:verification_id
func (h *CertificateHandler) Verify(c *gin.Context) {
	cert, err := h.svc.Verify(c.Request.Context(), c.Param("verification_id"))
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, cert)
}

// GET /certificates/:verification_id/image
func (h *CertificateHandler) Download(c *gin.Context) {
	rc, err := h.svc.Download(c.Request.Context(), c.Param("verification_id"))
	if err != nil {
		response.RespondError(c, err)
		return
	}
	defer rc.Close()
	c.Header("Content-Type", "image/png")
	c.Header("Cache-Control", "public, max-age=86400")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.log.Warn("certificate download interrupted", "error", err)
		_ = c.Error(err)
	}
}
