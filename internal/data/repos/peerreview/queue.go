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

type QueueRepo interface {
	// Enqueue inserts an entry for the reviewee unless a live one exists.
	Enqueue(dbc dbctx.Context, e *types.PeerReviewQueueEntry) (*types.PeerReviewQueueEntry, error)
	Get(dbc dbctx.Context, userID, exerciseID, courseInstanceID uuid.UUID) (*types.PeerReviewQueueEntry, error)
	GetByReceivingSubmission(dbc dbctx.Context, slideSubmissionID uuid.UUID) (*types.PeerReviewQueueEntry, error)
	// PickCandidate returns the highest-priority entry still needing reviews
	// that the reviewer has neither authored nor already reviewed.
	PickCandidate(dbc dbctx.Context, reviewerID, exerciseID, courseInstanceID uuid.UUID) (*types.PeerReviewQueueEntry, error)
	MarkReceivedEnough(dbc dbctx.Context, id uuid.UUID) error
	BumpPriority(dbc dbctx.Context, id uuid.UUID, delta int) error
	// RemoveForUser soft-deletes the user's entries for the exercise in one
	// instance. Used when a teacher decision settles the outcome.
	RemoveForUser(dbc dbctx.Context, userID, exerciseID, courseInstanceID uuid.UUID) (int64, error)
}

type queueRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQueueRepo(db *gorm.DB, baseLog *logger.Logger) QueueRepo {
	return &queueRepo{db: db, log: baseLog.With("repo", "PeerReviewQueueRepo")}
}

func (r *queueRepo) Enqueue(dbc dbctx.Context, e *types.PeerReviewQueueEntry) (*types.PeerReviewQueueEntry, error) {
	err := dbc.DB(r.db).Exec(`
		INSERT INTO peer_review_queue_entries
			(user_id, exercise_id, course_instance_id, receiving_peer_reviews_exercise_slide_submission_id, peer_review_priority)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT ON CONSTRAINT peer_review_queue_entries_user_exercise_instance_key
		DO UPDATE SET receiving_peer_reviews_exercise_slide_submission_id = EXCLUDED.receiving_peer_reviews_exercise_slide_submission_id,
		              updated_at = now()
	`, e.UserID, e.ExerciseID, e.CourseInstanceID, e.ReceivingPeerReviewsExerciseSlideSubmissionID, e.PeerReviewPriority).Error
	if err != nil {
		return nil, aggregates.MapError("PeerReviewQueueRepo.Enqueue", err)
	}
	return r.Get(dbc, e.UserID, e.ExerciseID, e.CourseInstanceID)
}

func (r *queueRepo) Get(dbc dbctx.Context, userID, exerciseID, courseInstanceID uuid.UUID) (*types.PeerReviewQueueEntry, error) {
	var e types.PeerReviewQueueEntry
	err := dbc.DB(r.db).
		Where("user_id = ? AND exercise_id = ? AND course_instance_id = ?", userID, exerciseID, courseInstanceID).
		First(&e).Error
	if err != nil {
		return nil, aggregates.MapError("PeerReviewQueueRepo.Get", err)
	}
	return &e, nil
}

func (r *queueRepo) GetByReceivingSubmission(dbc dbctx.Context, slideSubmissionID uuid.UUID) (*types.PeerReviewQueueEntry, error) {
	var e types.PeerReviewQueueEntry
	err := dbc.DB(r.db).
		Where("receiving_peer_reviews_exercise_slide_submission_id = ?", slideSubmissionID).
		First(&e).Error
	if err != nil {
		return nil, aggregates.MapError("PeerReviewQueueRepo.GetByReceivingSubmission", err)
	}
	return &e, nil
}

func (r *queueRepo) PickCandidate(dbc dbctx.Context, reviewerID, exerciseID, courseInstanceID uuid.UUID) (*types.PeerReviewQueueEntry, error) {
	out := []types.PeerReviewQueueEntry{}
	err := dbc.DB(r.db).
		Where("exercise_id = ? AND course_instance_id = ?", exerciseID, courseInstanceID).
		Where("user_id <> ?", reviewerID).
		Where("received_enough_peer_reviews = false AND removed_from_queue_for_unusual_reason = false").
		Where(`NOT EXISTS (
			SELECT 1 FROM peer_review_submissions prs
			WHERE prs.user_id = ?
			  AND prs.exercise_slide_submission_id = peer_review_queue_entries.receiving_peer_reviews_exercise_slide_submission_id
			  AND prs.deleted_at IS NULL
		)`, reviewerID).
		Order("peer_review_priority DESC, created_at ASC").
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, aggregates.MapError("PeerReviewQueueRepo.PickCandidate", err)
	}
	if len(out) == 0 {
		return nil, aggregates.MapError("PeerReviewQueueRepo.PickCandidate", gorm.ErrRecordNotFound)
	}
	return &out[0], nil
}

func (r *queueRepo) MarkReceivedEnough(dbc dbctx.Context, id uuid.UUID) error {
	err := dbc.DB(r.db).Model(&types.PeerReviewQueueEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{"received_enough_peer_reviews": true, "updated_at": time.Now().UTC()}).Error
	return aggregates.MapError("PeerReviewQueueRepo.MarkReceivedEnough", err)
}

func (r *queueRepo) BumpPriority(dbc dbctx.Context, id uuid.UUID, delta int) error {
	err := dbc.DB(r.db).Model(&types.PeerReviewQueueEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"peer_review_priority": gorm.Expr("peer_review_priority + ?", delta),
			"updated_at":           time.Now().UTC(),
		}).Error
	return aggregates.MapError("PeerReviewQueueRepo.BumpPriority", err)
}

func (r *queueRepo) RemoveForUser(dbc dbctx.Context, userID, exerciseID, courseInstanceID uuid.UUID) (int64, error) {
	res := dbc.DB(r.db).
		Where("user_id = ? AND exercise_id = ? AND course_instance_id = ?", userID, exerciseID, courseInstanceID).
		Delete(&types.PeerReviewQueueEntry{})
	if res.Error != nil {
		return 0, aggregates.MapError("PeerReviewQueueRepo.RemoveForUser", res.Error)
	}
	return res.RowsAffected, nil
}
