package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/repos/chatbot"
	"github.com/yungbote/headless-lms/internal/data/repos/completion"
	"github.com/yungbote/headless-lms/internal/data/repos/content"
	"github.com/yungbote/headless-lms/internal/data/repos/email"
	"github.com/yungbote/headless-lms/internal/data/repos/exercise"
	"github.com/yungbote/headless-lms/internal/data/repos/grading"
	"github.com/yungbote/headless-lms/internal/data/repos/oauth"
	"github.com/yungbote/headless-lms/internal/data/repos/peerreview"
	"github.com/yungbote/headless-lms/internal/data/repos/stats"
	"github.com/yungbote/headless-lms/internal/data/repos/user"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type UserRepo = user.UserRepo
type AccountTokenRepo = user.AccountTokenRepo

type OrganizationRepo = content.OrganizationRepo
type CourseRepo = content.CourseRepo
type StructureRepo = content.StructureRepo
type PageRepo = content.PageRepo
type GroupRepo = content.GroupRepo

type ExerciseRepo = exercise.ExerciseRepo
type ExerciseServiceRepo = exercise.ServiceRepo

type SubmissionRepo = grading.SubmissionRepo
type GradingRepo = grading.GradingRepo
type UserExerciseStateRepo = grading.UserExerciseStateRepo
type TeacherDecisionRepo = grading.TeacherDecisionRepo
type RegradingRepo = grading.RegradingRepo

type StateKey = grading.StateKey
type GradingResult = grading.GradingResult
type PendingRegradingSubmission = grading.PendingRegradingSubmission

type PeerReviewConfigRepo = peerreview.ConfigRepo
type PeerReviewQueueRepo = peerreview.QueueRepo
type PeerReviewSubmissionRepo = peerreview.SubmissionRepo
type PeerReviewOfferRepo = peerreview.OfferRepo

type CompletionRepo = completion.CompletionRepo
type StudyRegistryRepo = completion.RegistryRepo
type ChapterLockRepo = completion.ChapterLockRepo
type CertificateRepo = completion.CertificateRepo

type OAuthClientRepo = oauth.ClientRepo
type OAuthAuthCodeRepo = oauth.AuthCodeRepo
type OAuthTokenRepo = oauth.TokenRepo
type OAuthDPoPProofRepo = oauth.DPoPProofRepo
type OAuthConsentRepo = oauth.ConsentRepo

type VisitRepo = stats.VisitRepo
type RollupRepo = stats.RollupRepo

type EmailTemplateRepo = email.TemplateRepo
type EmailDeliveryRepo = email.DeliveryRepo

type ChatbotConfigurationRepo = chatbot.ConfigurationRepo

// Set holds one instance of every repository, sharing a db handle and logger.
type Set struct {
	User          UserRepo
	AccountTokens AccountTokenRepo

	Organizations OrganizationRepo
	Courses       CourseRepo
	Structure     StructureRepo
	Pages         PageRepo
	Groups        GroupRepo

	Exercises        ExerciseRepo
	ExerciseServices ExerciseServiceRepo

	Submissions      SubmissionRepo
	Gradings         GradingRepo
	States           UserExerciseStateRepo
	TeacherDecisions TeacherDecisionRepo
	Regradings       RegradingRepo

	PeerReviewConfigs     PeerReviewConfigRepo
	PeerReviewQueue       PeerReviewQueueRepo
	PeerReviewSubmissions PeerReviewSubmissionRepo
	PeerReviewOffers      PeerReviewOfferRepo

	Completions   CompletionRepo
	StudyRegistry StudyRegistryRepo
	ChapterLocks  ChapterLockRepo
	Certificates  CertificateRepo

	OAuthClients OAuthClientRepo
	OAuthCodes   OAuthAuthCodeRepo
	OAuthTokens  OAuthTokenRepo
	OAuthDPoP    OAuthDPoPProofRepo
	OAuthConsent OAuthConsentRepo

	Visits  VisitRepo
	Rollups RollupRepo

	EmailTemplates  EmailTemplateRepo
	EmailDeliveries EmailDeliveryRepo

	Chatbots ChatbotConfigurationRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		User:          user.NewUserRepo(db, baseLog),
		AccountTokens: user.NewAccountTokenRepo(db, baseLog),

		Organizations: content.NewOrganizationRepo(db, baseLog),
		Courses:       content.NewCourseRepo(db, baseLog),
		Structure:     content.NewStructureRepo(db, baseLog),
		Pages:         content.NewPageRepo(db, baseLog),
		Groups:        content.NewGroupRepo(db, baseLog),

		Exercises:        exercise.NewExerciseRepo(db, baseLog),
		ExerciseServices: exercise.NewServiceRepo(db, baseLog),

		Submissions:      grading.NewSubmissionRepo(db, baseLog),
		Gradings:         grading.NewGradingRepo(db, baseLog),
		States:           grading.NewUserExerciseStateRepo(db, baseLog),
		TeacherDecisions: grading.NewTeacherDecisionRepo(db, baseLog),
		Regradings:       grading.NewRegradingRepo(db, baseLog),

		PeerReviewConfigs:     peerreview.NewConfigRepo(db, baseLog),
		PeerReviewQueue:       peerreview.NewQueueRepo(db, baseLog),
		PeerReviewSubmissions: peerreview.NewSubmissionRepo(db, baseLog),
		PeerReviewOffers:      peerreview.NewOfferRepo(db, baseLog),

		Completions:   completion.NewCompletionRepo(db, baseLog),
		StudyRegistry: completion.NewRegistryRepo(db, baseLog),
		ChapterLocks:  completion.NewChapterLockRepo(db, baseLog),
		Certificates:  completion.NewCertificateRepo(db, baseLog),

		OAuthClients: oauth.NewClientRepo(db, baseLog),
		OAuthCodes:   oauth.NewAuthCodeRepo(db, baseLog),
		OAuthTokens:  oauth.NewTokenRepo(db, baseLog),
		OAuthDPoP:    oauth.NewDPoPProofRepo(db, baseLog),
		OAuthConsent: oauth.NewConsentRepo(db, baseLog),

		Visits:  stats.NewVisitRepo(db, baseLog),
		Rollups: stats.NewRollupRepo(db, baseLog),

		EmailTemplates:  email.NewTemplateRepo(db, baseLog),
		EmailDeliveries: email.NewDeliveryRepo(db, baseLog),

		Chatbots: chatbot.NewConfigurationRepo(db, baseLog),
	}
}
