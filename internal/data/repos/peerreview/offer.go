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

// OfferRepo is the short-lived cache of which submission a reviewer is
// currently shown. Rows are hard-deleted.
type OfferRepo interface {
	// GetFresh returns the offer created after now-ttl, or not_found.
	GetFresh(dbc dbctx.Context, exerciseID, userID, courseInstanceID uuid.UUID, ttl time.Duration) (*types.PeerReviewOffer, error)
	// Upsert replaces the offered submission and resets created_at.
	Upsert(dbc dbctx.Context, exerciseID, userID, courseInstanceID, slideSubmissionID uuid.UUID) (*types.PeerReviewOffer, error)
	Delete(dbc dbctx.Context, exerciseID, userID, courseInstanceID uuid.UUID) error
	PurgeOlderThan(dbc dbctx.Context, ttl time.Duration) (int64, error)
}

type offerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOfferRepo(db *gorm.DB, baseLog *logger.Logger) OfferRepo {
	return &offerRepo{db: db, log: baseLog.With("repo", "PeerReviewOfferRepo")}
}

func (r *offerRepo) GetFresh(dbc dbctx.Context, exerciseID, userID, courseInstanceID uuid.UUID, ttl time.Duration) (*types.PeerReviewOffer, error) {
	var o types.PeerReviewOffer
	err := dbc.DB(r.db).
		Where("exercise_id = ? AND user_id = ? AND course_instance_id = ?", exerciseID, userID, courseInstanceID).
		Where("created_at > now() - make_interval(secs => ?)", ttl.Seconds()).
		First(&o).Error
	if err != nil {
		return nil, aggregates.MapError("PeerReviewOfferRepo.GetFresh", err)
	}
	return &o, nil
}

func (r *offerRepo) Upsert(dbc dbctx.Context, exerciseID, userID, courseInstanceID, slideSubmissionID uuid.UUID) (*types.PeerReviewOffer, error) {
	var o types.PeerReviewOffer
	err := dbc.DB(r.db).Raw(`
		INSERT INTO offered_answers_to_peer_review_temporary
			(exercise_id, user_id, course_instance_id, exercise_slide_submission_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT ON CONSTRAINT offered_answers_to_peer_review_temporary_key
		DO UPDATE SET exercise_slide_submission_id = EXCLUDED.exercise_slide_submission_id,
		              created_at = now(),
		              updated_at = now()
		RETURNING *
	`, exerciseID, userID, courseInstanceID, slideSubmissionID).Scan(&o).Error
	if err != nil {
		return nil, aggregates.MapError("PeerReviewOfferRepo.Upsert", err)
	}
	return &o, nil
}

func (r *offerRepo) Delete(dbc dbctx.Context, exerciseID, userID, courseInstanceID uuid.UUID) error {
	err := dbc.DB(r.db).
		Where("exercise_id = ? AND user_id = ? AND course_instance_id = ?", exerciseID, userID, courseInstanceID).
		Delete(&types.PeerReviewOffer{}).Error
	return aggregates.MapError("PeerReviewOfferRepo.Delete", err)
}

func (r *offerRepo) PurgeOlderThan(dbc dbctx.Context, ttl time.Duration) (int64, error) {
	res := dbc.DB(r.db).
		Where("created_at < now() - make_interval(secs => ?)", ttl.Seconds()).
		Delete(&types.PeerReviewOffer{})
	if res.Error != nil {
		return 0, aggregates.MapError("PeerReviewOfferRepo.PurgeOlderThan", res.Error)
	}
	return res.RowsAffected, nil
}
