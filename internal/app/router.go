package app

import (
	lmshttp "github.com/yungbote/headless-lms/internal/http"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *lmshttp.Server {
	return lmshttp.NewServer(log, lmshttp.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		AuthMiddleware:  middleware.Auth,
		CORSOrigins:     cfg.Server.CORSOrigins,
		OAuthIssuer:     cfg.OAuth.Issuer,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		RateLimitWindow: cfg.Server.RateLimitWindow,

		HealthHandler:         handlers.Health,
		OAuthHandler:          handlers.OAuth,
		AccountHandler:        handlers.Account,
		CourseMaterialHandler: handlers.CourseMaterial,
		ExerciseHandler:       handlers.Exercise,
		CompletionHandler:     handlers.Completion,
		CertificateHandler:    handlers.Certificate,
		StatsHandler:          handlers.Stats,
		StudyRegistryHandler:  handlers.StudyRegistry,
		ChatbotHandler:        handlers.Chatbot,
	})
}
