package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/domain/user"
	"github.com/yungbote/headless-lms/internal/http/response"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/services/access"
)

type chatbotBody struct {
	ChatbotName       string  `json:"chatbot_name"`
	Prompt            string  `json:"prompt"`
	InitialMessage    string  `json:"initial_message"`
	EnabledToStudents bool    `json:"enabled_to_students"`
	DefaultChatbot    bool    `json:"default_chatbot"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
}

func (b chatbotBody) apply(cfg *types.ChatbotConfiguration) {
	cfg.ChatbotName = b.ChatbotName
	cfg.Prompt = b.Prompt
	cfg.InitialMessage = b.InitialMessage
	cfg.EnabledToStudents = b.EnabledToStudents
	cfg.DefaultChatbot = b.DefaultChatbot
	cfg.Temperature = b.Temperature
	cfg.MaxTokens = b.MaxTokens
}

type ChatbotHandler struct {
	chatbots repos.ChatbotConfigurationRepo
	access   access.Service
}

func NewChatbotHandler(chatbots repos.ChatbotConfigurationRepo, acc access.Service) *ChatbotHandler {
	return &ChatbotHandler{chatbots: chatbots, access: acc}
}

// GET /teacher/courses/:course_id/chatbots
func (h *ChatbotHandler) List(c *gin.Context) {
	courseID, err := uuidParam(c, "course_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.access.RequireCourse(ctx, currentUser(c), courseID, user.RoleTeacher); err != nil {
		response.RespondError(c, err)
		return
	}
	rows, err := h.chatbots.ListByCourse(dbctx.Context{Ctx: ctx}, courseID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chatbots": rows})
}

// POST /teacher/courses/:course_id/chatbots
func (h *ChatbotHandler) Create(c *gin.Context) {
	courseID, err := uuidParam(c, "course_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	body := chatbotBody{Temperature: 0.7, MaxTokens: 500}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.access.RequireCourse(ctx, currentUser(c), courseID, user.RoleTeacher); err != nil {
		response.RespondError(c, err)
		return
	}
	cfg := &types.ChatbotConfiguration{CourseID: courseID}
	body.apply(cfg)
	out, err := h.chatbots.Create(dbctx.Context{Ctx: ctx}, pkey.NewGenerate(), cfg)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondCreated(c, out)
}

// PUT /teacher/chatbots/:chatbot_id
func (h *ChatbotHandler) Update(c *gin.Context) {
	cfg, ok := h.load(c)
	if !ok {
		return
	}
	var body chatbotBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	body.apply(cfg)
	if err := h.chatbots.Update(dbctx.Context{Ctx: c.Request.Context()}, cfg); err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, cfg)
}

// DELETE /teacher/chatbots/:chatbot_id
func (h *ChatbotHandler) Delete(c *gin.Context) {
	cfg, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.chatbots.SoftDelete(dbctx.Context{Ctx: c.Request.Context()}, cfg.ID); err != nil {
		response.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// load resolves the chatbot and checks the caller teaches its course.
func (h *ChatbotHandler) load(c *gin.Context) (*types.ChatbotConfiguration, bool) {
	id, err := uuidParam(c, "chatbot_id")
	if err != nil {
		response.BadRequest(c, err)
		return nil, false
	}
	ctx := c.Request.Context()
	cfg, err := h.chatbots.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		response.RespondError(c, err)
		return nil, false
	}
	if err := h.access.RequireCourse(ctx, currentUser(c), cfg.CourseID, user.RoleTeacher); err != nil {
		response.RespondError(c, err)
		return nil, false
	}
	return cfg, true
}
