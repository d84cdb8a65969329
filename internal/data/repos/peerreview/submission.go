package peerreview

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type SubmissionRepo interface {
	Create(dbc dbctx.Context, s *types.PeerReviewSubmission, answers []types.PeerReviewQuestionSubmission) (*types.PeerReviewSubmission, error)
	// CountGiven counts reviews the user wrote for others in the instance.
	CountGiven(dbc dbctx.Context, userID, exerciseID, courseInstanceID uuid.UUID) (int64, error)
	// CountReceived counts reviews others wrote for the slide submission.
	CountReceived(dbc dbctx.Context, slideSubmissionID, authorID uuid.UUID) (int64, error)
	// HasReviewed reports whether the user already reviewed the slide
	// submission. For the submission's author this is the self review.
	HasReviewed(dbc dbctx.Context, slideSubmissionID, userID uuid.UUID) (bool, error)
	// LastGivenAt is when the user last reviewed someone else's answer to the
	// exercise in the instance, or nil.
	LastGivenAt(dbc dbctx.Context, userID, exerciseID, courseInstanceID uuid.UUID) (*time.Time, error)
	// AverageReceived averages the live numeric answers other users gave the
	// slide submission. No answers yields 0.
	AverageReceived(dbc dbctx.Context, slideSubmissionID, authorID uuid.UUID) (float64, error)
	Flag(dbc dbctx.Context, f *types.FlaggedAnswer) (*types.FlaggedAnswer, error)
}

type submissionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubmissionRepo(db *gorm.DB, baseLog *logger.Logger) SubmissionRepo {
	return &submissionRepo{db: db, log: baseLog.With("repo", "PeerReviewSubmissionRepo")}
}

func (r *submissionRepo) Create(dbc dbctx.Context, s *types.PeerReviewSubmission, answers []types.PeerReviewQuestionSubmission) (*types.PeerReviewSubmission, error) {
	transaction := dbc.DB(r.db)
	if err := transaction.Create(s).Error; err != nil {
		return nil, aggregates.MapError("PeerReviewSubmissionRepo.Create", err)
	}
	for i := range answers {
		answers[i].PeerReviewSubmissionID = s.ID
		if err := transaction.Create(&answers[i]).Error; err != nil {
			return nil, aggregates.MapError("PeerReviewSubmissionRepo.Create", err)
		}
	}
	return s, nil
}

func (r *submissionRepo) CountGiven(dbc dbctx.Context, userID, exerciseID, courseInstanceID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.PeerReviewSubmission{}).
		Joins("JOIN exercise_slide_submissions ess ON ess.id = peer_review_submissions.exercise_slide_submission_id").
		Where("peer_review_submissions.user_id = ? AND peer_review_submissions.exercise_id = ? AND peer_review_submissions.course_instance_id = ?",
			userID, exerciseID, courseInstanceID).
		Where("ess.user_id <> ?", userID).
		Count(&n).Error
	if err != nil {
		return 0, aggregates.MapError("PeerReviewSubmissionRepo.CountGiven", err)
	}
	return n, nil
}

func (r *submissionRepo) CountReceived(dbc dbctx.Context, slideSubmissionID, authorID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.PeerReviewSubmission{}).
		Where("exercise_slide_submission_id = ? AND user_id <> ?", slideSubmissionID, authorID).
		Count(&n).Error
	if err != nil {
		return 0, aggregates.MapError("PeerReviewSubmissionRepo.CountReceived", err)
	}
	return n, nil
}

func (r *submissionRepo) HasReviewed(dbc dbctx.Context, slideSubmissionID, userID uuid.UUID) (bool, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.PeerReviewSubmission{}).
		Where("exercise_slide_submission_id = ? AND user_id = ?", slideSubmissionID, userID).
		Count(&n).Error
	if err != nil {
		return false, aggregates.MapError("PeerReviewSubmissionRepo.HasReviewed", err)
	}
	return n > 0, nil
}

func (r *submissionRepo) LastGivenAt(dbc dbctx.Context, userID, exerciseID, courseInstanceID uuid.UUID) (*time.Time, error) {
	var last *time.Time
	err := dbc.DB(r.db).Model(&types.PeerReviewSubmission{}).
		Select("MAX(peer_review_submissions.created_at)").
		Joins("JOIN exercise_slide_submissions ess ON ess.id = peer_review_submissions.exercise_slide_submission_id").
		Where("peer_review_submissions.user_id = ? AND peer_review_submissions.exercise_id = ? AND peer_review_submissions.course_instance_id = ?",
			userID, exerciseID, courseInstanceID).
		Where("ess.user_id <> ?", userID).
		Scan(&last).Error
	if err != nil {
		return nil, aggregates.MapError("PeerReviewSubmissionRepo.LastGivenAt", err)
	}
	return last, nil
}

func (r *submissionRepo) AverageReceived(dbc dbctx.Context, slideSubmissionID, authorID uuid.UUID) (float64, error) {
	var avg *float64
	err := dbc.DB(r.db).Raw(`
		SELECT AVG(qs.number_data)
		FROM peer_review_question_submissions qs
		JOIN peer_review_submissions s ON s.id = qs.peer_review_submission_id
		WHERE s.exercise_slide_submission_id = ?
		  AND s.user_id <> ?
		  AND s.deleted_at IS NULL
		  AND qs.deleted_at IS NULL
		  AND qs.number_data IS NOT NULL
	`, slideSubmissionID, authorID).Scan(&avg).Error
	if err != nil {
		return 0, aggregates.MapError("PeerReviewSubmissionRepo.AverageReceived", err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

func (r *submissionRepo) Flag(dbc dbctx.Context, f *types.FlaggedAnswer) (*types.FlaggedAnswer, error) {
	if err := dbc.DB(r.db).Create(f).Error; err != nil {
		return nil, aggregates.MapError("PeerReviewSubmissionRepo.Flag", err)
	}
	return f, nil
}
