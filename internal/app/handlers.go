package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/repos"
	httpH "github.com/yungbote/headless-lms/internal/http/handlers"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type Handlers struct {
	Health         *httpH.HealthHandler
	OAuth          *httpH.OAuthHandler
	Account        *httpH.AccountHandler
	CourseMaterial *httpH.CourseMaterialHandler
	Exercise       *httpH.ExerciseHandler
	Completion     *httpH.CompletionHandler
	Certificate    *httpH.CertificateHandler
	Stats          *httpH.StatsHandler
	StudyRegistry  *httpH.StudyRegistryHandler
	Chatbot        *httpH.ChatbotHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, cfg Config, r repos.Set, s Services) (Handlers, error) {
	log.Info("Wiring handlers...")
	sqlDB, err := db.DB()
	if err != nil {
		return Handlers{}, err
	}
	return Handlers{
		Health:         httpH.NewHealthHandler(sqlDB),
		OAuth:          httpH.NewOAuthHandler(log, s.OAuth, s.Access, cfg.OAuth.Issuer),
		Account:        httpH.NewAccountHandler(log, s.Account, r.User, cfg.Server.SecureCookies),
		CourseMaterial: httpH.NewCourseMaterialHandler(s.Content, s.Access, r),
		Exercise: httpH.NewExerciseHandlerWithDeps(httpH.ExerciseHandlerDeps{
			Pipeline:   s.Pipeline,
			States:     s.States,
			PeerReview: s.PeerReview,
			Regrading:  s.Regrading,
			Access:     s.Access,
			Repos:      r,
		}),
		Completion:    httpH.NewCompletionHandler(log, s.Completions, s.ChapterLocks, s.Export, s.Access),
		Certificate:   httpH.NewCertificateHandler(log, s.Certificates),
		Stats:         httpH.NewStatsHandler(s.Visits, s.Access),
		StudyRegistry: httpH.NewStudyRegistryHandler(log, s.StudyRegistry),
		Chatbot:       httpH.NewChatbotHandler(r.Chatbots, s.Access),
	}, nil
}
