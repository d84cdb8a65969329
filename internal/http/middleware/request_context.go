package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/headless-lms/internal/platform/ctxutil"
)

// AttachRequestContext records the caller's address and user agent. Auth
// middleware fills in the user later.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{
			ClientIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
