package grading

import (
	types "github.com/yungbote/headless-lms/internal/domain"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/domain/peerreview"
)

// PeerReviewInfo is what the deriver needs to know about the peer-review side
// of a user's attempt.
type PeerReviewInfo struct {
	Config          types.PeerReviewConfig
	Given           int
	ReceivedEnough  bool
	SelfReviewDone  bool
	AverageReceived float64
}

type DeriveInput struct {
	Exercise types.Exercise
	Current  types.UserExerciseState
	// Summary carries the slide score already combined with the state's
	// previous score under the points-update strategy.
	Summary         SlideSummary
	TeacherDecision *types.TeacherGradingDecision
	// PeerReview is nil when the exercise has no peer review or no config.
	PeerReview *PeerReviewInfo
	// PreserveStage keeps the reviewing stage of an attempt that already
	// went through review and takes its score from the gradings. Regrading
	// sets it.
	PreserveStage bool
}

type Derived struct {
	ScoreGiven       *float64
	ReviewingStage   gradingdomain.ReviewingStage
	ActivityProgress gradingdomain.ActivityProgress
	GradingProgress  gradingdomain.GradingProgress
}

// Changed reports whether applying d to s would modify the row.
func (d Derived) Changed(s types.UserExerciseState) bool {
	if d.ReviewingStage != s.ReviewingStage || d.ActivityProgress != s.ActivityProgress || d.GradingProgress != s.GradingProgress {
		return true
	}
	switch {
	case d.ScoreGiven == nil && s.ScoreGiven == nil:
		return false
	case d.ScoreGiven == nil || s.ScoreGiven == nil:
		return true
	default:
		return *d.ScoreGiven != *s.ScoreGiven
	}
}

// Apply copies the derived fields onto s.
func (d Derived) Apply(s *types.UserExerciseState) {
	s.ScoreGiven = d.ScoreGiven
	s.ReviewingStage = d.ReviewingStage
	s.ActivityProgress = d.ActivityProgress
	s.GradingProgress = d.GradingProgress
}

type peerOpinion struct {
	score *float64
	stage gradingdomain.ReviewingStage
}

// Derive computes the next user_exercise_state from everything known about
// the attempt. It is pure; callers load the inputs and persist the result.
func Derive(in DeriveInput) Derived {
	scoreMax := float64(in.Exercise.ScoreMaximum)
	if in.PreserveStage && in.TeacherDecision == nil && in.Current.ReviewingStage != gradingdomain.StageNotStarted {
		out := Derived{
			ReviewingStage:   in.Current.ReviewingStage,
			GradingProgress:  in.Summary.GradingProgress,
			ActivityProgress: in.Current.ActivityProgress,
		}
		if in.Summary.ScoreGiven != nil {
			v := ClampScore(scoreMax, *in.Summary.ScoreGiven)
			out.ScoreGiven = &v
		}
		return out
	}
	opinion := peerReviewOpinion(in)
	stage := deriveStage(in, opinion)

	out := Derived{
		ReviewingStage:  stage,
		GradingProgress: in.Summary.GradingProgress,
	}
	if score := deriveScore(in, stage, opinion); score != nil {
		v := ClampScore(scoreMax, *score)
		out.ScoreGiven = &v
	}
	out.ActivityProgress = deriveActivity(in, stage)
	return out
}

func deriveStage(in DeriveInput, opinion *peerOpinion) gradingdomain.ReviewingStage {
	if in.TeacherDecision != nil {
		return gradingdomain.StageReviewedAndLocked
	}
	current := in.Current.ReviewingStage
	if in.Exercise.NeedsPeerReview {
		if opinion == nil {
			return current
		}
		return opinion.stage
	}
	switch {
	case current == gradingdomain.StageReviewedAndLocked:
		return current
	case in.Summary.GradingProgress == gradingdomain.GradingPendingManual:
		return gradingdomain.StageWaitingForManualGrading
	default:
		return gradingdomain.StageNotStarted
	}
}

func deriveScore(in DeriveInput, stage gradingdomain.ReviewingStage, opinion *peerOpinion) *float64 {
	if in.TeacherDecision != nil {
		v := in.TeacherDecision.ScoreGiven
		return &v
	}
	if in.Current.ReviewingStage == gradingdomain.StageReviewedAndLocked &&
		stage == gradingdomain.StageReviewedAndLocked &&
		in.Current.ScoreGiven != nil {
		return in.Current.ScoreGiven
	}
	if in.Exercise.NeedsPeerReview && opinion != nil {
		return opinion.score
	}
	return in.Summary.ScoreGiven
}

func deriveActivity(in DeriveInput, stage gradingdomain.ReviewingStage) gradingdomain.ActivityProgress {
	submitted := in.Summary.GradingProgress != gradingdomain.GradingNotReady
	if !in.Exercise.NeedsPeerReview {
		if !submitted {
			return gradingdomain.ActivityInitialized
		}
		return gradingdomain.ActivityCompleted
	}
	switch stage {
	case gradingdomain.StageNotStarted:
		if !submitted {
			return gradingdomain.ActivityInitialized
		}
		return gradingdomain.ActivityInProgress
	case gradingdomain.StagePeerReview, gradingdomain.StageSelfReview:
		return gradingdomain.ActivityInProgress
	default:
		return gradingdomain.ActivityCompleted
	}
}

func peerReviewOpinion(in DeriveInput) *peerOpinion {
	if !in.Exercise.NeedsPeerReview || in.PeerReview == nil {
		return nil
	}
	current := in.Current.ReviewingStage
	if current == gradingdomain.StageReviewedAndLocked {
		return &peerOpinion{score: in.Current.ScoreGiven, stage: current}
	}
	if in.Summary.GradingProgress == gradingdomain.GradingNotReady {
		return &peerOpinion{stage: current}
	}
	info := in.PeerReview
	switch {
	case info.Given < info.Config.PeerReviewsToGive:
		return &peerOpinion{stage: gradingdomain.StagePeerReview}
	case in.Exercise.NeedsSelfReview && !info.SelfReviewDone:
		return &peerOpinion{stage: gradingdomain.StageSelfReview}
	case !info.ReceivedEnough:
		if current == gradingdomain.StageWaitingForManualGrading {
			return &peerOpinion{stage: current}
		}
		return &peerOpinion{stage: gradingdomain.StageWaitingForPeerReviews}
	}

	full := float64(in.Exercise.ScoreMaximum)
	zero := 0.0
	belowThreshold := info.AverageReceived < info.Config.AcceptingThreshold
	switch info.Config.AcceptingStrategy {
	case peerreview.AcceptOrRejectByAverage:
		if belowThreshold {
			return &peerOpinion{score: &zero, stage: gradingdomain.StageReviewedAndLocked}
		}
		return &peerOpinion{score: &full, stage: gradingdomain.StageReviewedAndLocked}
	case peerreview.AcceptOrManualReviewByAverage:
		if belowThreshold {
			return &peerOpinion{stage: gradingdomain.StageWaitingForManualGrading}
		}
		return &peerOpinion{score: &full, stage: gradingdomain.StageReviewedAndLocked}
	default:
		return &peerOpinion{stage: gradingdomain.StageWaitingForManualGrading}
	}
}
