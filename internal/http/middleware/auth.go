package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/http/response"
	"github.com/yungbote/headless-lms/internal/platform/ctxutil"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "lms_session"

type SessionParser interface {
	ParseSession(token string) (uuid.UUID, error)
}

type AuthMiddleware struct {
	log      *logger.Logger
	sessions SessionParser
}

func NewAuthMiddleware(log *logger.Logger, sessions SessionParser) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware"), sessions: sessions}
}

// OptionalAuth attaches the user when a valid session is presented and lets
// anonymous requests through. An invalid token is still rejected.
func (am *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Next()
			return
		}
		if !am.attach(c, token) {
			return
		}
		c.Next()
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.RespondError(c, domainagg.NewError(domainagg.CodeUnauthorized, "AuthMiddleware", "missing session token", nil))
			return
		}
		if !am.attach(c, token) {
			return
		}
		c.Next()
	}
}

func (am *AuthMiddleware) attach(c *gin.Context, token string) bool {
	userID, err := am.sessions.ParseSession(token)
	if err != nil {
		am.log.Debug("session rejected", "error", err)
		response.RespondError(c, err)
		return false
	}
	ctx := c.Request.Context()
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil {
		rd = &ctxutil.RequestData{}
		ctx = ctxutil.WithRequestData(ctx, rd)
	}
	rd.UserID = userID
	c.Request = c.Request.WithContext(ctx)
	c.Set("user_id", userID)
	return true
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}
