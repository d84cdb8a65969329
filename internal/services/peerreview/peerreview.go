package peerreview

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
	prdomain "github.com/yungbote/headless-lms/internal/domain/peerreview"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/validate"
)

const (
	// OfferTTL is how long a reviewer keeps seeing the same submission.
	OfferTTL = time.Hour
	// janitorRate is the share of offer requests that also purge stale offers.
	janitorRate = 0.1

	scaleMin = 1
	scaleMax = 5

	// A reviewer may give at most reviewCapFactor times the required reviews.
	reviewCapFactor = 15
	// Past max(2*required, minSuspiciousReviews) reviews each further review
	// waits reviewSlowdownStep per excess review, up to ten steps.
	minSuspiciousReviews = 4
	reviewSlowdownStep   = 30 * time.Second
)

// StateRefresher re-derives a user_exercise_state after reviews change.
type StateRefresher interface {
	Refresh(dbc dbctx.Context, stateID uuid.UUID) (*types.UserExerciseState, error)
}

// Offered is what a reviewer is shown: the submission and the questions to answer.
type Offered struct {
	SlideSubmission types.ExerciseSlideSubmission  `json:"exercise_slide_submission"`
	TaskSubmissions []types.ExerciseTaskSubmission `json:"exercise_task_submissions"`
	Config          types.PeerReviewConfig         `json:"peer_review_config"`
	Questions       []types.PeerReviewQuestion     `json:"peer_review_questions"`
}

type Answer struct {
	QuestionID uuid.UUID `json:"peer_review_question_id" validate:"required"`
	TextData   *string   `json:"text_data"`
	NumberData *float64  `json:"number_data"`
}

type NewReview struct {
	SlideSubmissionID uuid.UUID `json:"exercise_slide_submission_id" validate:"required"`
	Answers           []Answer  `json:"peer_review_question_answers" validate:"dive"`
}

type NewFlag struct {
	SlideSubmissionID uuid.UUID `json:"submission_id" validate:"required"`
	Reason            string    `json:"reason" validate:"required,max=255"`
	Description       string    `json:"description" validate:"omitempty,max=4000"`
}

type Service interface {
	// Offer returns the submission the reviewer should review next, or nil
	// when nothing in the instance is waiting for reviews.
	Offer(ctx context.Context, reviewerID, exerciseID, courseInstanceID uuid.UUID) (*Offered, error)
	// Submit stores a review and moves both the reviewer and the reviewee on.
	Submit(ctx context.Context, reviewerID uuid.UUID, in NewReview) (*types.PeerReviewSubmission, error)
	Flag(ctx context.Context, flaggedBy uuid.UUID, in NewFlag) (*types.FlaggedAnswer, error)
}

type service struct {
	db     *gorm.DB
	log    *logger.Logger
	repos  repos.Set
	runner aggregates.TxRunner
	states StateRefresher
	roll   func() float64
	now    func() time.Time
}

func NewService(db *gorm.DB, baseLog *logger.Logger, r repos.Set, states StateRefresher) Service {
	return &service{
		db:     db,
		log:    baseLog.With("service", "PeerReviewService"),
		repos:  r,
		runner: aggregates.NewGormTxRunner(db),
		states: states,
		roll:   rand.Float64,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) deps() aggregates.BaseDeps {
	return aggregates.BaseDeps{DB: s.db, Log: s.log, Runner: s.runner}
}

func (s *service) Offer(ctx context.Context, reviewerID, exerciseID, courseInstanceID uuid.UUID) (*Offered, error) {
	const op = "PeerReviewService.Offer"
	if s.roll() < janitorRate {
		s.purgeStale(ctx)
	}

	var out *Offered
	err := aggregates.ExecuteWrite(ctx, s.deps(), op, func(dbc dbctx.Context) error {
		ex, err := s.repos.Exercises.GetByID(dbc, exerciseID)
		if err != nil {
			return err
		}
		if !ex.NeedsPeerReview {
			return domainagg.Precondition(op, "exercise does not use peer review")
		}
		cfg, err := s.repos.PeerReviewConfigs.ForExercise(dbc, ex)
		if err != nil {
			return err
		}
		if _, err := s.repos.Submissions.LatestSlideSubmission(dbc, reviewerID, exerciseID, &courseInstanceID, nil); err != nil {
			if domainagg.IsCode(err, domainagg.CodeNotFound) {
				return domainagg.Precondition(op, "answer the exercise before reviewing others")
			}
			return err
		}

		submissionID, err := s.offeredSubmission(dbc, reviewerID, exerciseID, courseInstanceID)
		if err != nil || submissionID == uuid.Nil {
			return err
		}
		sub, err := s.repos.Submissions.GetSlideSubmission(dbc, submissionID)
		if err != nil {
			return err
		}
		tasks, err := s.repos.Submissions.ListTaskSubmissions(dbc, sub.ID)
		if err != nil {
			return err
		}
		questions, err := s.repos.PeerReviewConfigs.ListQuestions(dbc, cfg.ID)
		if err != nil {
			return err
		}
		out = &Offered{SlideSubmission: *sub, TaskSubmissions: tasks, Config: *cfg, Questions: questions}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// offeredSubmission keeps the cached offer while its queue entry still wants
// reviews and otherwise draws a new candidate. uuid.Nil means none is left.
func (s *service) offeredSubmission(dbc dbctx.Context, reviewerID, exerciseID, courseInstanceID uuid.UUID) (uuid.UUID, error) {
	offer, err := s.repos.PeerReviewOffers.GetFresh(dbc, exerciseID, reviewerID, courseInstanceID, OfferTTL)
	switch {
	case err == nil:
		entry, err := s.repos.PeerReviewQueue.GetByReceivingSubmission(dbc, offer.ExerciseSlideSubmissionID)
		switch {
		case err == nil:
			if needsReviews(entry) {
				return offer.ExerciseSlideSubmissionID, nil
			}
		case !domainagg.IsCode(err, domainagg.CodeNotFound):
			return uuid.Nil, err
		}
	case !domainagg.IsCode(err, domainagg.CodeNotFound):
		return uuid.Nil, err
	}

	candidate, err := s.repos.PeerReviewQueue.PickCandidate(dbc, reviewerID, exerciseID, courseInstanceID)
	if domainagg.IsCode(err, domainagg.CodeNotFound) {
		return uuid.Nil, s.repos.PeerReviewOffers.Delete(dbc, exerciseID, reviewerID, courseInstanceID)
	}
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := s.repos.PeerReviewOffers.Upsert(dbc, exerciseID, reviewerID, courseInstanceID, candidate.ReceivingPeerReviewsExerciseSlideSubmissionID); err != nil {
		return uuid.Nil, err
	}
	return candidate.ReceivingPeerReviewsExerciseSlideSubmissionID, nil
}

func needsReviews(e *types.PeerReviewQueueEntry) bool {
	return !e.ReceivedEnoughPeerReviews && !e.RemovedFromQueueForUnusualReason
}

func (s *service) purgeStale(ctx context.Context) {
	n, err := s.repos.PeerReviewOffers.PurgeOlderThan(dbctx.Context{Ctx: ctx, Tx: s.db.WithContext(ctx)}, OfferTTL)
	if err != nil {
		s.log.Warn("purging stale peer review offers failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Debug("purged stale peer review offers", "count", n)
	}
}

func (s *service) Submit(ctx context.Context, reviewerID uuid.UUID, in NewReview) (*types.PeerReviewSubmission, error) {
	const op = "PeerReviewService.Submit"
	if err := validate.Struct(op, in); err != nil {
		return nil, err
	}

	var out *types.PeerReviewSubmission
	err := aggregates.ExecuteWrite(ctx, s.deps(), op, func(dbc dbctx.Context) error {
		sub, err := s.repos.Submissions.GetSlideSubmission(dbc, in.SlideSubmissionID)
		if err != nil {
			return err
		}
		if sub.CourseInstanceID == nil {
			return domainagg.Precondition(op, "peer review requires a course instance submission")
		}
		instanceID := *sub.CourseInstanceID
		ex, err := s.repos.Exercises.GetByID(dbc, sub.ExerciseID)
		if err != nil {
			return err
		}
		if !ex.NeedsPeerReview {
			return domainagg.Precondition(op, "exercise does not use peer review")
		}
		cfg, err := s.repos.PeerReviewConfigs.ForExercise(dbc, ex)
		if err != nil {
			return err
		}
		questions, err := s.repos.PeerReviewConfigs.ListQuestions(dbc, cfg.ID)
		if err != nil {
			return err
		}
		answers, err := checkAnswers(op, questions, in.Answers)
		if err != nil {
			return err
		}

		self := sub.UserID == reviewerID
		if err := s.checkReviewer(dbc, op, reviewerID, ex, sub, cfg, self); err != nil {
			return err
		}

		review, err := s.repos.PeerReviewSubmissions.Create(dbc, &types.PeerReviewSubmission{
			UserID:                    reviewerID,
			ExerciseID:                ex.ID,
			CourseInstanceID:          instanceID,
			PeerReviewConfigID:        cfg.ID,
			ExerciseSlideSubmissionID: sub.ID,
		}, answers)
		if err != nil {
			return err
		}

		if !self {
			if err := s.creditReviewee(dbc, sub, cfg); err != nil {
				return err
			}
			if err := s.creditReviewer(dbc, reviewerID, ex.ID, instanceID, cfg); err != nil {
				return err
			}
		}
		if err := s.repos.PeerReviewOffers.Delete(dbc, ex.ID, reviewerID, instanceID); err != nil {
			return err
		}

		for _, userID := range []uuid.UUID{reviewerID, sub.UserID} {
			if err := s.refresh(dbc, userID, ex.ID, instanceID); err != nil {
				return err
			}
			if self {
				break
			}
		}
		out = review
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("peer review stored",
		"reviewer_id", reviewerID,
		"slide_submission_id", in.SlideSubmissionID,
		"peer_review_submission_id", out.ID,
	)
	return out, nil
}

// checkReviewer admits a review only from a reviewer in a reviewing stage,
// of a submission they were offered, once per submission. Reviewers who give
// far more reviews than required are slowed down and finally refused.
func (s *service) checkReviewer(dbc dbctx.Context, op string, reviewerID uuid.UUID, ex *types.Exercise, sub *types.ExerciseSlideSubmission, cfg *types.PeerReviewConfig, self bool) error {
	instanceID := *sub.CourseInstanceID
	state, err := s.repos.States.Get(dbc, repos.StateKey{UserID: reviewerID, ExerciseID: ex.ID, CourseInstanceID: &instanceID})
	if domainagg.IsCode(err, domainagg.CodeNotFound) {
		return domainagg.Precondition(op, "answer the exercise before reviewing")
	}
	if err != nil {
		return err
	}

	done, err := s.repos.PeerReviewSubmissions.HasReviewed(dbc, sub.ID, reviewerID)
	if err != nil {
		return err
	}
	if self {
		if !ex.NeedsSelfReview || state.ReviewingStage != gradingdomain.StageSelfReview {
			return domainagg.Precondition(op, "self review is not allowed now")
		}
		if done {
			return domainagg.NewError(domainagg.CodeConflict, op, "self review already given", nil)
		}
		return nil
	}

	if state.ReviewingStage == gradingdomain.StageNotStarted {
		return domainagg.Precondition(op, "answer the exercise before reviewing others")
	}
	if done {
		return domainagg.NewError(domainagg.CodeConflict, op, "answer already reviewed", nil)
	}
	offer, err := s.repos.PeerReviewOffers.GetFresh(dbc, ex.ID, reviewerID, instanceID, OfferTTL)
	if domainagg.IsCode(err, domainagg.CodeNotFound) || (err == nil && offer.ExerciseSlideSubmissionID != sub.ID) {
		return domainagg.Precondition(op, "this answer was not offered for review")
	}
	if err != nil {
		return err
	}

	before, err := s.repos.PeerReviewSubmissions.CountGiven(dbc, reviewerID, ex.ID, instanceID)
	if err != nil {
		return err
	}
	given := int(before) + 1
	toGive := max(cfg.PeerReviewsToGive, 1)
	if given > toGive*reviewCapFactor {
		return domainagg.Precondition(op, "too many peer reviews given to this exercise")
	}
	suspicious := max(toGive*2, minSuspiciousReviews)
	if given <= suspicious {
		return nil
	}
	last, err := s.repos.PeerReviewSubmissions.LastGivenAt(dbc, reviewerID, ex.ID, instanceID)
	if err != nil || last == nil {
		return err
	}
	wait := time.Duration(min(given-suspicious, 10)) * reviewSlowdownStep
	if s.now().Sub(*last) < wait {
		return domainagg.Invalid(op, "reviews are submitted too fast, try again later")
	}
	return nil
}

// creditReviewee closes the reviewee's queue entry once it has enough reviews.
func (s *service) creditReviewee(dbc dbctx.Context, sub *types.ExerciseSlideSubmission, cfg *types.PeerReviewConfig) error {
	entry, err := s.repos.PeerReviewQueue.GetByReceivingSubmission(dbc, sub.ID)
	if domainagg.IsCode(err, domainagg.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	received, err := s.repos.PeerReviewSubmissions.CountReceived(dbc, sub.ID, sub.UserID)
	if err != nil {
		return err
	}
	if int(received) >= cfg.PeerReviewsToReceive && !entry.ReceivedEnoughPeerReviews {
		return s.repos.PeerReviewQueue.MarkReceivedEnough(dbc, entry.ID)
	}
	return nil
}

// creditReviewer enqueues the reviewer's latest answer once they have given
// enough reviews. Every review past that raises their priority.
func (s *service) creditReviewer(dbc dbctx.Context, reviewerID, exerciseID, instanceID uuid.UUID, cfg *types.PeerReviewConfig) error {
	given, err := s.repos.PeerReviewSubmissions.CountGiven(dbc, reviewerID, exerciseID, instanceID)
	if err != nil {
		return err
	}
	if int(given) < cfg.PeerReviewsToGive {
		return nil
	}
	entry, err := s.repos.PeerReviewQueue.Get(dbc, reviewerID, exerciseID, instanceID)
	switch {
	case err == nil:
		return s.repos.PeerReviewQueue.BumpPriority(dbc, entry.ID, 1)
	case !domainagg.IsCode(err, domainagg.CodeNotFound):
		return err
	}
	latest, err := s.repos.Submissions.LatestSlideSubmission(dbc, reviewerID, exerciseID, &instanceID, nil)
	if domainagg.IsCode(err, domainagg.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.repos.PeerReviewQueue.Enqueue(dbc, &types.PeerReviewQueueEntry{
		UserID:             reviewerID,
		ExerciseID:         exerciseID,
		CourseInstanceID:   instanceID,
		PeerReviewPriority: int(given),
		ReceivingPeerReviewsExerciseSlideSubmissionID: latest.ID,
	})
	return err
}

func (s *service) refresh(dbc dbctx.Context, userID, exerciseID, instanceID uuid.UUID) error {
	if s.states == nil {
		return nil
	}
	state, err := s.repos.States.Get(dbc, repos.StateKey{UserID: userID, ExerciseID: exerciseID, CourseInstanceID: &instanceID})
	if domainagg.IsCode(err, domainagg.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.states.Refresh(dbc, state.ID)
	return err
}

// checkAnswers requires an answer for every required question. Scale
// answers are numbers from 1 to 5, essay answers are text.
func checkAnswers(op string, questions []types.PeerReviewQuestion, in []Answer) ([]types.PeerReviewQuestionSubmission, error) {
	byID := make(map[uuid.UUID]types.PeerReviewQuestion, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	answered := make(map[uuid.UUID]bool, len(in))
	out := make([]types.PeerReviewQuestionSubmission, 0, len(in))
	for _, a := range in {
		q, ok := byID[a.QuestionID]
		if !ok {
			return nil, domainagg.Invalid(op, "answer to an unknown question "+a.QuestionID.String())
		}
		if answered[q.ID] {
			return nil, domainagg.Invalid(op, "question answered twice")
		}
		row := types.PeerReviewQuestionSubmission{PeerReviewQuestionID: q.ID}
		if q.QuestionType == prdomain.QuestionScale {
			if a.NumberData == nil {
				continue
			}
			if *a.NumberData < scaleMin || *a.NumberData > scaleMax {
				return nil, domainagg.Invalid(op, "scale answers must be between 1 and 5")
			}
			row.NumberData = a.NumberData
		} else {
			if a.TextData == nil || strings.TrimSpace(*a.TextData) == "" {
				continue
			}
			row.TextData = a.TextData
		}
		answered[q.ID] = true
		out = append(out, row)
	}
	for _, q := range questions {
		if q.AnswerRequired && !answered[q.ID] {
			return nil, domainagg.Invalid(op, "question "+q.ID.String()+" requires an answer")
		}
	}
	return out, nil
}

func (s *service) Flag(ctx context.Context, flaggedBy uuid.UUID, in NewFlag) (*types.FlaggedAnswer, error) {
	const op = "PeerReviewService.Flag"
	if err := validate.Struct(op, in); err != nil {
		return nil, err
	}
	var out *types.FlaggedAnswer
	err := aggregates.ExecuteWrite(ctx, s.deps(), op, func(dbc dbctx.Context) error {
		sub, err := s.repos.Submissions.GetSlideSubmission(dbc, in.SlideSubmissionID)
		if err != nil {
			return err
		}
		if sub.UserID == flaggedBy {
			return domainagg.Invalid(op, "cannot flag your own answer")
		}
		f := &types.FlaggedAnswer{
			SubmissionID: sub.ID,
			FlaggedUser:  sub.UserID,
			FlaggedBy:    flaggedBy,
			Reason:       strings.TrimSpace(in.Reason),
		}
		if d := strings.TrimSpace(in.Description); d != "" {
			f.Description = &d
		}
		out, err = s.repos.PeerReviewSubmissions.Flag(dbc, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Warn("answer flagged", "slide_submission_id", in.SlideSubmissionID, "flagged_by", flaggedBy, "reason", out.Reason)
	return out, nil
}
