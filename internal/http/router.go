package http

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/headless-lms/internal/http/handlers"
	httpMW "github.com/yungbote/headless-lms/internal/http/middleware"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	AuthMiddleware *httpMW.AuthMiddleware
	CORSOrigins    []string
	// OAuthIssuer decides where the OAuth endpoints are mounted.
	OAuthIssuer string
	// RateLimitBurst requests per RateLimitWindow are allowed per client on
	// credential endpoints.
	RateLimitBurst  int
	RateLimitWindow time.Duration

	HealthHandler         *httpH.HealthHandler
	OAuthHandler          *httpH.OAuthHandler
	AccountHandler        *httpH.AccountHandler
	CourseMaterialHandler *httpH.CourseMaterialHandler
	ExerciseHandler       *httpH.ExerciseHandler
	CompletionHandler     *httpH.CompletionHandler
	CertificateHandler    *httpH.CertificateHandler
	StatsHandler          *httpH.StatsHandler
	StudyRegistryHandler  *httpH.StudyRegistryHandler
	ChatbotHandler        *httpH.ChatbotHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("headless-lms"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.AttachRequestContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Live)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}

	burst, window := cfg.RateLimitBurst, cfg.RateLimitWindow
	if burst <= 0 {
		burst = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	limit := httpMW.NewRateLimiter(burst, window).Middleware()

	optional := passThrough
	required := passThrough
	if cfg.AuthMiddleware != nil {
		optional = cfg.AuthMiddleware.OptionalAuth()
		required = cfg.AuthMiddleware.RequireAuth()
	}

	if h := cfg.OAuthHandler; h != nil {
		r.GET("/.well-known/openid-configuration", h.Discovery)
		o := r.Group(oauthBasePath(cfg.OAuthIssuer))
		{
			o.GET("/.well-known/openid-configuration", h.Discovery)
			o.GET("/.well-known/jwks.json", h.JWKS)
			o.GET("/authorize", optional, h.Authorize)
			o.POST("/consent", required, h.Consent)
			o.POST("/token", limit, h.Token)
			o.POST("/introspect", limit, h.Introspect)
			o.POST("/revoke", limit, h.Revoke)
			o.GET("/userinfo", h.UserInfo)
			o.POST("/userinfo", h.UserInfo)
			o.POST("/clients", required, h.RegisterClient)
		}
	}

	api := r.Group("/api/v0")

	if h := cfg.AccountHandler; h != nil {
		auth := api.Group("/auth")
		{
			auth.POST("/signup", limit, h.Register)
			auth.POST("/login", limit, h.Login)
			auth.POST("/logout", h.Logout)
			auth.POST("/verify-email", limit, h.VerifyEmail)
			auth.POST("/password-reset", limit, h.RequestPasswordReset)
			auth.POST("/password-reset/confirm", limit, h.ResetPassword)
			auth.GET("/me", required, h.Me)
			auth.DELETE("/me", required, h.DeleteMe)
		}
	}

	if h := cfg.CertificateHandler; h != nil {
		api.GET("/certificates/:verification_id", h.Verify)
		api.GET("/certificates/:verification_id/image", h.Download)
		api.POST("/certificates", required, h.Generate)
	}

	if h := cfg.StudyRegistryHandler; h != nil {
		sr := api.Group("/study-registry")
		{
			sr.GET("/modules/:module_id/completions", h.Unregistered)
			sr.POST("/completion-registrations", h.Register)
		}
	}

	material := api.Group("/course-material")
	material.Use(optional)
	{
		if h := cfg.CourseMaterialHandler; h != nil {
			material.GET("/pages/:page_id", h.GetPage)
			material.GET("/courses/:course_id/page-by-path/*path", h.GetPageByPath)
		}
		if h := cfg.StatsHandler; h != nil {
			material.POST("/page-visits", h.RecordVisit)
		}
		if h := cfg.ExerciseHandler; h != nil {
			material.POST("/exercises/:exercise_id/submissions", required, h.Submit)
			material.GET("/exercises/:exercise_id/peer-review", required, h.PeerReviewOffer)
			material.POST("/peer-reviews", required, h.SubmitPeerReview)
			material.POST("/flagged-answers", required, h.FlagAnswer)
		}
		if h := cfg.CompletionHandler; h != nil {
			material.GET("/courses/:course_id/chapter-locks", required, h.ChapterLocks)
			material.POST("/chapters/:chapter_id/complete", required, h.CompleteChapter)
		}
	}

	teacher := api.Group("/")
	teacher.Use(required)
	{
		if h := cfg.CourseMaterialHandler; h != nil {
			teacher.GET("/cms/exercise-slides/:slide_id/tasks", h.EditorTasks)
			teacher.PUT("/cms/pages/:page_id", h.SavePage)
			teacher.GET("/cms/pages/:page_id/history", h.PageHistory)
			teacher.POST("/cms/page-history/:history_id/restore", h.RestorePage)
		}
		if h := cfg.ExerciseHandler; h != nil {
			teacher.POST("/teacher/user-exercise-states/:state_id/decision", h.TeacherDecision)
			teacher.POST("/teacher/regradings", h.CreateRegrading)
		}
		if h := cfg.CompletionHandler; h != nil {
			teacher.POST("/teacher/completions", h.GrantManual)
			teacher.GET("/teacher/modules/:module_id/completions.csv", h.ExportCSV)
		}
		if h := cfg.StatsHandler; h != nil {
			teacher.GET("/teacher/courses/:course_id/visit-stats", h.CourseStats)
		}
		if h := cfg.ChatbotHandler; h != nil {
			teacher.GET("/teacher/courses/:course_id/chatbots", h.List)
			teacher.POST("/teacher/courses/:course_id/chatbots", h.Create)
			teacher.PUT("/teacher/chatbots/:chatbot_id", h.Update)
			teacher.DELETE("/teacher/chatbots/:chatbot_id", h.Delete)
		}
	}

	return r
}

func passThrough(c *gin.Context) { c.Next() }

// oauthBasePath is the path of the issuer URL, "/oauth" when it has none.
func oauthBasePath(issuer string) string {
	if u, err := url.Parse(issuer); err == nil {
		if p := strings.TrimRight(u.Path, "/"); p != "" {
			return p
		}
	}
	return "/oauth"
}
