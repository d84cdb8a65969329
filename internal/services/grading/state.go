package grading

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/domain/content"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// CompletionEvaluator re-evaluates module completion after a user's score
// for an exercise changed.
type CompletionEvaluator interface {
	EvaluateForExercise(dbc dbctx.Context, userID uuid.UUID, ex *types.Exercise, courseInstanceID uuid.UUID) error
}

type RecomputeOptions struct {
	Strategy      content.PointsUpdateStrategy
	PreserveStage bool
}

type TeacherDecisionInput struct {
	UserExerciseStateID uuid.UUID
	Decision            gradingdomain.TeacherDecisionType
	// ManualPoints is required for CustomPoints and ignored otherwise.
	ManualPoints *float64
	TeacherID    uuid.UUID
}

type StateService interface {
	// RecomputeFromSlideSubmission folds the active gradings of a slide
	// submission into its owner's user_exercise_state.
	RecomputeFromSlideSubmission(dbc dbctx.Context, slideSubmissionID uuid.UUID, opts RecomputeOptions) (*types.UserExerciseState, error)
	// Refresh re-derives a state from its latest submission, for example
	// after a peer review was given or received.
	Refresh(dbc dbctx.Context, stateID uuid.UUID) (*types.UserExerciseState, error)
	ApplyTeacherDecision(ctx context.Context, in TeacherDecisionInput) (*types.UserExerciseState, error)
}

type stateService struct {
	db          *gorm.DB
	log         *logger.Logger
	repos       repos.Set
	completions CompletionEvaluator
}

// NewStateService builds the state recomputer. completions may be nil.
func NewStateService(db *gorm.DB, baseLog *logger.Logger, r repos.Set, completions CompletionEvaluator) StateService {
	return &stateService{
		db:          db,
		log:         baseLog.With("service", "UserExerciseStateService"),
		repos:       r,
		completions: completions,
	}
}

func (s *stateService) RecomputeFromSlideSubmission(dbc dbctx.Context, slideSubmissionID uuid.UUID, opts RecomputeOptions) (*types.UserExerciseState, error) {
	sub, err := s.repos.Submissions.GetSlideSubmission(dbc, slideSubmissionID)
	if err != nil {
		return nil, err
	}
	ex, err := s.repos.Exercises.GetByID(dbc, sub.ExerciseID)
	if err != nil {
		return nil, err
	}
	state, err := s.repos.States.GetOrCreate(dbc, repos.StateKey{
		UserID:           sub.UserID,
		ExerciseID:       sub.ExerciseID,
		CourseInstanceID: sub.CourseInstanceID,
		ExamID:           sub.ExamID,
	})
	if err != nil {
		return nil, err
	}
	if opts.Strategy == "" {
		opts.Strategy = sub.UserPointsUpdateStrategy
	}
	return s.recompute(dbc, state.ID, ex, &sub.ID, opts, nil)
}

func (s *stateService) Refresh(dbc dbctx.Context, stateID uuid.UUID) (*types.UserExerciseState, error) {
	state, err := s.repos.States.GetByID(dbc, stateID)
	if err != nil {
		return nil, err
	}
	ex, err := s.repos.Exercises.GetByID(dbc, state.ExerciseID)
	if err != nil {
		return nil, err
	}
	var subID *uuid.UUID
	opts := RecomputeOptions{Strategy: content.CanAddPointsButCannotRemovePoints}
	latest, err := s.repos.Submissions.LatestSlideSubmission(dbc, state.UserID, state.ExerciseID, state.CourseInstanceID, state.ExamID)
	switch {
	case err == nil:
		subID = &latest.ID
		opts.Strategy = latest.UserPointsUpdateStrategy
	case !domainagg.IsCode(err, domainagg.CodeNotFound):
		return nil, err
	}
	return s.recompute(dbc, state.ID, ex, subID, opts, nil)
}

func (s *stateService) ApplyTeacherDecision(ctx context.Context, in TeacherDecisionInput) (*types.UserExerciseState, error) {
	const op = "UserExerciseStateService.ApplyTeacherDecision"
	if !in.Decision.Valid() {
		return nil, domainagg.Invalid(op, "unknown teacher decision")
	}
	var out *types.UserExerciseState
	err := aggregates.ExecuteWrite(ctx, aggregates.BaseDeps{DB: s.db, Log: s.log}, op, func(dbc dbctx.Context) error {
		state, err := s.repos.States.LockForUpdate(dbc, in.UserExerciseStateID)
		if err != nil {
			return err
		}
		ex, err := s.repos.Exercises.GetByID(dbc, state.ExerciseID)
		if err != nil {
			return err
		}
		points, err := decisionPoints(in, float64(ex.ScoreMaximum))
		if err != nil {
			return err
		}
		decision, err := s.repos.TeacherDecisions.Create(dbc, &types.TeacherGradingDecision{
			UserExerciseStateID: state.ID,
			TeacherDecision:     in.Decision,
			ScoreGiven:          points,
			TeacherUserID:       in.TeacherID,
		})
		if err != nil {
			return err
		}
		if state.CourseInstanceID != nil {
			if _, err := s.repos.PeerReviewQueue.RemoveForUser(dbc, state.UserID, state.ExerciseID, *state.CourseInstanceID); err != nil {
				return err
			}
		}
		out, err = s.recompute(dbc, state.ID, ex, nil, RecomputeOptions{Strategy: content.CanAddPointsAndCanRemovePoints}, decision)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("teacher decision applied", "state_id", in.UserExerciseStateID, "decision", in.Decision)
	return out, nil
}

func decisionPoints(in TeacherDecisionInput, scoreMax float64) (float64, error) {
	switch in.Decision {
	case gradingdomain.DecisionFullPoints:
		return scoreMax, nil
	case gradingdomain.DecisionZeroPoints, gradingdomain.DecisionSuspectedPlagiarism:
		return 0, nil
	default:
		if in.ManualPoints == nil {
			return 0, domainagg.Invalid("UserExerciseStateService.ApplyTeacherDecision", "custom points decision requires manual points")
		}
		return ClampScore(scoreMax, *in.ManualPoints), nil
	}
}

// recompute locks the state row, derives its next value and persists it when
// anything changed. decision overrides the stored latest decision when set.
func (s *stateService) recompute(dbc dbctx.Context, stateID uuid.UUID, ex *types.Exercise, slideSubmissionID *uuid.UUID, opts RecomputeOptions, decision *types.TeacherGradingDecision) (*types.UserExerciseState, error) {
	state, err := s.repos.States.LockForUpdate(dbc, stateID)
	if err != nil {
		return nil, err
	}

	summary := SlideSummary{GradingProgress: state.GradingProgress}
	if slideSubmissionID != nil {
		gradings, err := s.repos.Gradings.ListActiveForSlideSubmission(dbc, *slideSubmissionID)
		if err != nil {
			return nil, err
		}
		taskCount, err := s.slideTaskCount(dbc, *slideSubmissionID)
		if err != nil {
			return nil, err
		}
		summary = SummarizeSlide(gradings, taskCount)
	}
	summary.ScoreGiven = CombinePoints(opts.Strategy, state.ScoreGiven, summary.ScoreGiven)

	if decision == nil {
		if decision, err = s.repos.TeacherDecisions.Latest(dbc, state.ID); err != nil {
			return nil, err
		}
	}
	peer, err := s.peerReviewInfo(dbc, ex, state, slideSubmissionID)
	if err != nil {
		return nil, err
	}

	next := Derive(DeriveInput{
		Exercise:        *ex,
		Current:         *state,
		Summary:         summary,
		TeacherDecision: decision,
		PeerReview:      peer,
		PreserveStage:   opts.PreserveStage,
	})
	if !next.Changed(*state) {
		return state, nil
	}
	next.Apply(state)
	updated, err := s.repos.States.Update(dbc, state)
	if err != nil {
		return nil, err
	}
	s.log.Debug("user exercise state updated",
		"state_id", updated.ID,
		"reviewing_stage", updated.ReviewingStage,
		"grading_progress", updated.GradingProgress,
	)

	if s.completions != nil && updated.CourseInstanceID != nil {
		if err := s.completions.EvaluateForExercise(dbc, updated.UserID, ex, *updated.CourseInstanceID); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

func (s *stateService) slideTaskCount(dbc dbctx.Context, slideSubmissionID uuid.UUID) (int, error) {
	sub, err := s.repos.Submissions.GetSlideSubmission(dbc, slideSubmissionID)
	if err != nil {
		return 0, err
	}
	tasks, err := s.repos.Exercises.ListTasksBySlide(dbc, sub.ExerciseSlideID)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

func (s *stateService) peerReviewInfo(dbc dbctx.Context, ex *types.Exercise, state *types.UserExerciseState, slideSubmissionID *uuid.UUID) (*PeerReviewInfo, error) {
	if !ex.NeedsPeerReview || ex.CourseID == nil || state.CourseInstanceID == nil {
		return nil, nil
	}
	cfg, err := s.repos.PeerReviewConfigs.ForExercise(dbc, ex)
	if domainagg.IsCode(err, domainagg.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	given, err := s.repos.PeerReviewSubmissions.CountGiven(dbc, state.UserID, ex.ID, *state.CourseInstanceID)
	if err != nil {
		return nil, err
	}
	info := &PeerReviewInfo{Config: *cfg, Given: int(given)}
	if slideSubmissionID == nil {
		latest, err := s.repos.Submissions.LatestSlideSubmission(dbc, state.UserID, ex.ID, state.CourseInstanceID, nil)
		if domainagg.IsCode(err, domainagg.CodeNotFound) {
			return info, nil
		}
		if err != nil {
			return nil, err
		}
		slideSubmissionID = &latest.ID
	}

	received, err := s.repos.PeerReviewSubmissions.CountReceived(dbc, *slideSubmissionID, state.UserID)
	if err != nil {
		return nil, err
	}
	info.ReceivedEnough = int(received) >= cfg.PeerReviewsToReceive
	if !info.ReceivedEnough {
		entry, err := s.repos.PeerReviewQueue.GetByReceivingSubmission(dbc, *slideSubmissionID)
		switch {
		case err == nil:
			info.ReceivedEnough = entry.ReceivedEnoughPeerReviews
		case !domainagg.IsCode(err, domainagg.CodeNotFound):
			return nil, err
		}
	}
	if info.SelfReviewDone, err = s.repos.PeerReviewSubmissions.HasReviewed(dbc, *slideSubmissionID, state.UserID); err != nil {
		return nil, err
	}
	if info.AverageReceived, err = s.repos.PeerReviewSubmissions.AverageReceived(dbc, *slideSubmissionID, state.UserID); err != nil {
		return nil, err
	}
	return info, nil
}
