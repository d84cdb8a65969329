package domain

import (
	"github.com/yungbote/headless-lms/internal/domain/chatbot"
	"github.com/yungbote/headless-lms/internal/domain/completion"
	"github.com/yungbote/headless-lms/internal/domain/content"
	"github.com/yungbote/headless-lms/internal/domain/email"
	"github.com/yungbote/headless-lms/internal/domain/exercise"
	"github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/domain/oauth"
	"github.com/yungbote/headless-lms/internal/domain/peerreview"
	"github.com/yungbote/headless-lms/internal/domain/stats"
	"github.com/yungbote/headless-lms/internal/domain/user"
)

type (
	Organization        = content.Organization
	UserGroup           = content.UserGroup
	GroupMembership     = content.GroupMembership
	CourseLanguageGroup = content.CourseLanguageGroup
	Course              = content.Course
	CourseInstance      = content.CourseInstance
	CourseModule        = content.CourseModule
	Chapter             = content.Chapter
	Exam                = content.Exam
	Page                = content.Page
	PageHistory         = content.PageHistory

	Exercise                          = exercise.Exercise
	ExerciseSlide                     = exercise.ExerciseSlide
	ExerciseTask                      = exercise.ExerciseTask
	ExerciseService                   = exercise.ExerciseService
	ExerciseServiceInfo               = exercise.ExerciseServiceInfo
	UserCourseExerciseServiceVariable = exercise.UserCourseExerciseServiceVariable

	ExerciseSlideSubmission         = grading.ExerciseSlideSubmission
	ExerciseTaskSubmission          = grading.ExerciseTaskSubmission
	ExerciseTaskGrading             = grading.ExerciseTaskGrading
	UserExerciseState               = grading.UserExerciseState
	TeacherGradingDecision          = grading.TeacherGradingDecision
	Regrading                       = grading.Regrading
	ExerciseTaskRegradingSubmission = grading.ExerciseTaskRegradingSubmission

	PeerReviewConfig             = peerreview.Config
	PeerReviewQuestion           = peerreview.Question
	PeerReviewSubmission         = peerreview.Submission
	PeerReviewQuestionSubmission = peerreview.QuestionSubmission
	PeerReviewQueueEntry         = peerreview.QueueEntry
	PeerReviewOffer              = peerreview.Offer
	FlaggedAnswer                = peerreview.FlaggedAnswer

	CourseModuleCompletion              = completion.CourseModuleCompletion
	StudyRegistryRegistrar              = completion.StudyRegistryRegistrar
	CompletionRegistration              = completion.Registration
	UserChapterLockingStatus            = completion.UserChapterLockingStatus
	CertificateConfiguration            = completion.CertificateConfiguration
	CertificateConfigurationRequirement = completion.CertificateConfigurationRequirement
	GeneratedCertificate                = completion.GeneratedCertificate

	OAuthClient          = oauth.Client
	OAuthAuthCode        = oauth.AuthCode
	OAuthAccessToken     = oauth.AccessToken
	OAuthRefreshToken    = oauth.RefreshToken
	OAuthDPoPProof       = oauth.DPoPProof
	OAuthUserClientScope = oauth.UserClientScope

	PageVisitDatum        = stats.PageVisitDatum
	DailyVisitHashingKey  = stats.DailyVisitHashingKey
	VisitSummaryByCourse  = stats.SummaryByCourse
	VisitSummaryByPage    = stats.SummaryByPage
	VisitSummaryByDevice  = stats.SummaryByDevice
	VisitSummaryByCountry = stats.SummaryByCountry
	VisitRollupWatermark  = stats.RollupWatermark

	User                   = user.User
	RoleGrant              = user.RoleGrant
	EmailVerificationToken = user.EmailVerificationToken
	PasswordResetCode      = user.PasswordResetCode

	EmailTemplate      = email.Template
	EmailDelivery      = email.Delivery
	EmailDeliveryError = email.DeliveryError

	ChatbotConfiguration = chatbot.Configuration
)

// AllModels lists every persisted model in migration order.
func AllModels() []any {
	return []any{
		&User{}, &RoleGrant{}, &EmailVerificationToken{}, &PasswordResetCode{},
		&Organization{}, &UserGroup{}, &GroupMembership{},
		&CourseLanguageGroup{}, &Course{}, &CourseInstance{}, &CourseModule{}, &Chapter{}, &Exam{},
		&Page{}, &PageHistory{},
		&ExerciseService{}, &ExerciseServiceInfo{},
		&Exercise{}, &ExerciseSlide{}, &ExerciseTask{}, &UserCourseExerciseServiceVariable{},
		&ExerciseSlideSubmission{}, &ExerciseTaskSubmission{}, &ExerciseTaskGrading{},
		&UserExerciseState{}, &TeacherGradingDecision{},
		&Regrading{}, &ExerciseTaskRegradingSubmission{},
		&PeerReviewConfig{}, &PeerReviewQuestion{}, &PeerReviewSubmission{}, &PeerReviewQuestionSubmission{},
		&PeerReviewQueueEntry{}, &PeerReviewOffer{}, &FlaggedAnswer{},
		&CourseModuleCompletion{}, &StudyRegistryRegistrar{}, &CompletionRegistration{}, &UserChapterLockingStatus{},
		&CertificateConfiguration{}, &CertificateConfigurationRequirement{}, &GeneratedCertificate{},
		&OAuthClient{}, &OAuthAuthCode{}, &OAuthAccessToken{}, &OAuthRefreshToken{}, &OAuthDPoPProof{}, &OAuthUserClientScope{},
		&PageVisitDatum{}, &DailyVisitHashingKey{},
		&VisitSummaryByCourse{}, &VisitSummaryByPage{}, &VisitSummaryByDevice{}, &VisitSummaryByCountry{}, &VisitRollupWatermark{},
		&EmailTemplate{}, &EmailDelivery{}, &EmailDeliveryError{},
		&ChatbotConfiguration{},
	}
}
