package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/headless-lms/internal/data/repos"
	"github.com/yungbote/headless-lms/internal/http/middleware"
	"github.com/yungbote/headless-lms/internal/http/response"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/services/account"
)

type AccountHandler struct {
	log          *logger.Logger
	svc          account.Service
	users        repos.UserRepo
	secureCookie bool
}

func NewAccountHandler(log *logger.Logger, svc account.Service, users repos.UserRepo, secureCookie bool) *AccountHandler {
	return &AccountHandler{
		log:          log.With("handler", "AccountHandler"),
		svc:          svc,
		users:        users,
		secureCookie: secureCookie,
	}
}

// POST /signup
// body: { "email", "password", "first_name", "last_name" }
func (h *AccountHandler) Register(c *gin.Context) {
	var in account.Registration
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	u, err := h.svc.Register(c.Request.Context(), in)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"user": u})
}

// POST /login
// body: { "email", "password" }
func (h *AccountHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	sess, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	maxAge := int(time.Until(sess.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, sess.Token, maxAge, "/", "", h.secureCookie, true)
	response.RespondNoStore(c, http.StatusOK, sess)
}

// POST /logout
func (h *AccountHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", h.secureCookie, true)
	c.Status(http.StatusNoContent)
}

// GET /me
func (h *AccountHandler) Me(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := h.users.GetByID(dbctx.Context{Ctx: ctx}, currentUser(c))
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"me": u})
}

// DELETE /me
func (h *AccountHandler) DeleteMe(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), currentUser(c)); err != nil {
		response.RespondError(c, err)
		return
	}
	h.Logout(c)
}

// POST /verify-email
// body: { "token" }
func (h *AccountHandler) VerifyEmail(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	u, err := h.svc.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"user": u})
}

// POST /password-reset
// body: { "email" }
func (h *AccountHandler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	if err := h.svc.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		response.RespondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// POST /password-reset/confirm
// body: { "email", "code", "new_password" }
func (h *AccountHandler) ResetPassword(c *gin.Context) {
	var in account.PasswordReset
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	if err := h.svc.ResetPassword(c.Request.Context(), in); err != nil {
		response.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
