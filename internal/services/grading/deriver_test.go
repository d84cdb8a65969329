package grading

import (
	"testing"

	types "github.com/yungbote/headless-lms/internal/domain"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/domain/peerreview"
)

func peerExercise(selfReview bool) types.Exercise {
	return types.Exercise{ScoreMaximum: 9000, NeedsPeerReview: true, NeedsSelfReview: selfReview}
}

func peerConfig(strategy peerreview.AcceptingStrategy) types.PeerReviewConfig {
	return types.PeerReviewConfig{PeerReviewsToGive: 3, PeerReviewsToReceive: 2, AcceptingThreshold: 2.1, AcceptingStrategy: strategy}
}

func graded(score float64) SlideSummary {
	return SlideSummary{ScoreGiven: &score, GradingProgress: gradingdomain.GradingFullyGraded}
}

func TestDeriveNormalExercise(t *testing.T) {
	d := Derive(DeriveInput{
		Exercise: types.Exercise{ScoreMaximum: 1},
		Current:  types.UserExerciseState{ReviewingStage: gradingdomain.StageNotStarted, ActivityProgress: gradingdomain.ActivityInitialized},
		Summary:  graded(1),
	})
	if d.ScoreGiven == nil || *d.ScoreGiven != 1 || d.ActivityProgress != gradingdomain.ActivityCompleted || d.ReviewingStage != gradingdomain.StageNotStarted {
		t.Fatalf("unexpected %+v", d)
	}
}

func TestDeriveClampsToExerciseMaximum(t *testing.T) {
	d := Derive(DeriveInput{Exercise: types.Exercise{ScoreMaximum: 2}, Summary: graded(7)})
	if *d.ScoreGiven != 2 {
		t.Fatalf("score %v exceeds maximum", *d.ScoreGiven)
	}
}

func TestDeriveManualGradingPending(t *testing.T) {
	d := Derive(DeriveInput{
		Exercise: types.Exercise{ScoreMaximum: 1},
		Current:  types.UserExerciseState{ReviewingStage: gradingdomain.StageNotStarted},
		Summary:  SlideSummary{GradingProgress: gradingdomain.GradingPendingManual},
	})
	if d.ReviewingStage != gradingdomain.StageWaitingForManualGrading {
		t.Fatalf("stage = %s", d.ReviewingStage)
	}
}

func TestDeriveTeacherDecisionLocks(t *testing.T) {
	d := Derive(DeriveInput{
		Exercise:        peerExercise(false),
		Current:         types.UserExerciseState{ReviewingStage: gradingdomain.StageWaitingForPeerReviews},
		Summary:         graded(1),
		TeacherDecision: &types.TeacherGradingDecision{TeacherDecision: gradingdomain.DecisionCustomPoints, ScoreGiven: 12000},
		PeerReview:      &PeerReviewInfo{Config: peerConfig(peerreview.ManualReviewEverything)},
	})
	if d.ReviewingStage != gradingdomain.StageReviewedAndLocked {
		t.Fatalf("stage = %s", d.ReviewingStage)
	}
	if *d.ScoreGiven != 9000 {
		t.Fatalf("teacher points must be clamped, got %v", *d.ScoreGiven)
	}
}

func TestDeriveLockedStateKeepsScore(t *testing.T) {
	locked := 4.0
	d := Derive(DeriveInput{
		Exercise: types.Exercise{ScoreMaximum: 10},
		Current:  types.UserExerciseState{ReviewingStage: gradingdomain.StageReviewedAndLocked, ScoreGiven: &locked},
		Summary:  graded(9),
	})
	if *d.ScoreGiven != 4 || d.ReviewingStage != gradingdomain.StageReviewedAndLocked {
		t.Fatalf("locked state changed: %+v", d)
	}
}

func TestDerivePeerReviewStages(t *testing.T) {
	tests := []struct {
		name       string
		selfReview bool
		current    gradingdomain.ReviewingStage
		info       PeerReviewInfo
		wantStage  gradingdomain.ReviewingStage
		wantScore  *float64
		wantAct    gradingdomain.ActivityProgress
	}{
		{
			name:      "must give reviews",
			current:   gradingdomain.StageNotStarted,
			info:      PeerReviewInfo{Config: peerConfig(peerreview.AcceptOrRejectByAverage), Given: 1},
			wantStage: gradingdomain.StagePeerReview,
			wantAct:   gradingdomain.ActivityInProgress,
		},
		{
			name:       "self review outstanding",
			selfReview: true,
			current:    gradingdomain.StagePeerReview,
			info:       PeerReviewInfo{Config: peerConfig(peerreview.AcceptOrRejectByAverage), Given: 3},
			wantStage:  gradingdomain.StageSelfReview,
			wantAct:    gradingdomain.ActivityInProgress,
		},
		{
			name:      "waiting to receive",
			current:   gradingdomain.StagePeerReview,
			info:      PeerReviewInfo{Config: peerConfig(peerreview.AcceptOrRejectByAverage), Given: 3},
			wantStage: gradingdomain.StageWaitingForPeerReviews,
			wantAct:   gradingdomain.ActivityCompleted,
		},
		{
			name:      "accept by average",
			current:   gradingdomain.StageWaitingForPeerReviews,
			info:      PeerReviewInfo{Config: peerConfig(peerreview.AcceptOrRejectByAverage), Given: 3, ReceivedEnough: true, AverageReceived: 3.67},
			wantStage: gradingdomain.StageReviewedAndLocked,
			wantScore: fp(9000),
			wantAct:   gradingdomain.ActivityCompleted,
		},
		{
			name:      "reject by average",
			current:   gradingdomain.StageWaitingForPeerReviews,
			info:      PeerReviewInfo{Config: peerConfig(peerreview.AcceptOrRejectByAverage), Given: 3, ReceivedEnough: true, AverageReceived: 1},
			wantStage: gradingdomain.StageReviewedAndLocked,
			wantScore: fp(0),
			wantAct:   gradingdomain.ActivityCompleted,
		},
		{
			name:      "manual review below threshold",
			current:   gradingdomain.StageWaitingForPeerReviews,
			info:      PeerReviewInfo{Config: peerConfig(peerreview.AcceptOrManualReviewByAverage), Given: 3, ReceivedEnough: true, AverageReceived: 2},
			wantStage: gradingdomain.StageWaitingForManualGrading,
			wantAct:   gradingdomain.ActivityCompleted,
		},
		{
			name:      "manual review everything",
			current:   gradingdomain.StageWaitingForPeerReviews,
			info:      PeerReviewInfo{Config: peerConfig(peerreview.ManualReviewEverything), Given: 3, ReceivedEnough: true, AverageReceived: 5},
			wantStage: gradingdomain.StageWaitingForManualGrading,
			wantAct:   gradingdomain.ActivityCompleted,
		},
		{
			name:      "manual grading survives until enough received",
			current:   gradingdomain.StageWaitingForManualGrading,
			info:      PeerReviewInfo{Config: peerConfig(peerreview.AcceptOrManualReviewByAverage), Given: 3},
			wantStage: gradingdomain.StageWaitingForManualGrading,
			wantAct:   gradingdomain.ActivityCompleted,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := tc.info
			d := Derive(DeriveInput{
				Exercise:   peerExercise(tc.selfReview),
				Current:    types.UserExerciseState{ReviewingStage: tc.current},
				Summary:    graded(1),
				PeerReview: &info,
			})
			if d.ReviewingStage != tc.wantStage {
				t.Fatalf("stage = %s, want %s", d.ReviewingStage, tc.wantStage)
			}
			if (d.ScoreGiven == nil) != (tc.wantScore == nil) || (d.ScoreGiven != nil && *d.ScoreGiven != *tc.wantScore) {
				t.Fatalf("score = %v, want %v", d.ScoreGiven, tc.wantScore)
			}
			if d.ActivityProgress != tc.wantAct {
				t.Fatalf("activity = %s, want %s", d.ActivityProgress, tc.wantAct)
			}
		})
	}
}

func TestDerivePeerExerciseWithoutSubmission(t *testing.T) {
	d := Derive(DeriveInput{
		Exercise:   peerExercise(false),
		Current:    types.UserExerciseState{ReviewingStage: gradingdomain.StageNotStarted},
		Summary:    SlideSummary{GradingProgress: gradingdomain.GradingNotReady},
		PeerReview: &PeerReviewInfo{Config: peerConfig(peerreview.AcceptOrRejectByAverage)},
	})
	if d.ReviewingStage != gradingdomain.StageNotStarted || d.ActivityProgress != gradingdomain.ActivityInitialized || d.ScoreGiven != nil {
		t.Fatalf("unexpected %+v", d)
	}
}

func TestDerivedChanged(t *testing.T) {
	s := types.UserExerciseState{ReviewingStage: gradingdomain.StageNotStarted, ActivityProgress: gradingdomain.ActivityCompleted, GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(1)}
	d := Derived{ReviewingStage: s.ReviewingStage, ActivityProgress: s.ActivityProgress, GradingProgress: s.GradingProgress, ScoreGiven: fp(1)}
	if d.Changed(s) {
		t.Fatalf("identical state reported as changed")
	}
	d.ScoreGiven = fp(2)
	if !d.Changed(s) {
		t.Fatalf("score change not detected")
	}
}

func TestDerivePreserveStageOnRegrading(t *testing.T) {
	prev := 9000.0
	d := Derive(DeriveInput{
		Exercise:      peerExercise(false),
		Current:       types.UserExerciseState{ReviewingStage: gradingdomain.StageReviewedAndLocked, ActivityProgress: gradingdomain.ActivityCompleted, ScoreGiven: &prev},
		Summary:       graded(4500),
		PeerReview:    &PeerReviewInfo{Config: peerConfig(peerreview.AcceptOrRejectByAverage), Given: 3, ReceivedEnough: true, AverageReceived: 5},
		PreserveStage: true,
	})
	if d.ReviewingStage != gradingdomain.StageReviewedAndLocked || *d.ScoreGiven != 4500 {
		t.Fatalf("regrading should keep the stage and take the new score: %+v", d)
	}
}
