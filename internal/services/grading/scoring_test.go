package grading

import (
	"testing"

	"github.com/yungbote/headless-lms/internal/domain/content"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
)

func fp(v float64) *float64 { return &v }

func TestScaleScore(t *testing.T) {
	tests := []struct {
		name                     string
		exerciseMax, given, max  float64
		want                     float64
	}{
		{name: "rescale", exerciseMax: 10, given: 3, max: 4, want: 7.5},
		{name: "truncates", exerciseMax: 10, given: 2, max: 3, want: 6.66},
		{name: "over maximum clamps", exerciseMax: 5, given: 12, max: 10, want: 5},
		{name: "negative clamps", exerciseMax: 5, given: -1, max: 10, want: 0},
		{name: "zero grader maximum", exerciseMax: 5, given: 1, max: 0, want: 0},
		{name: "exact decimals survive", exerciseMax: 1, given: 29, max: 100, want: 0.29},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScaleScore(tc.exerciseMax, tc.given, tc.max)
			if got != tc.want {
				t.Fatalf("ScaleScore(%v, %v, %v) = %v, want %v", tc.exerciseMax, tc.given, tc.max, got, tc.want)
			}
			if got < 0 || got > tc.exerciseMax {
				t.Fatalf("score %v outside [0, %v]", got, tc.exerciseMax)
			}
		})
	}
}

func TestSummarizeSlide(t *testing.T) {
	if s := SummarizeSlide(nil, 2); s.GradingProgress != gradingdomain.GradingNotReady || s.ScoreGiven != nil {
		t.Fatalf("empty slide summary = %+v", s)
	}

	tests := []struct {
		name      string
		gradings  []gradingdomain.ExerciseTaskGrading
		taskCount int
		progress  gradingdomain.GradingProgress
		want      *float64
	}{
		{
			name: "all tasks graded",
			gradings: []gradingdomain.ExerciseTaskGrading{
				{GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(4)},
				{GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(3)},
			},
			taskCount: 2,
			progress:  gradingdomain.GradingFullyGraded,
			want:      fp(3.5),
		},
		{
			name: "pending task counts as zero",
			gradings: []gradingdomain.ExerciseTaskGrading{
				{GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(10)},
				{GradingProgress: gradingdomain.GradingPending},
			},
			taskCount: 2,
			progress:  gradingdomain.GradingPending,
			want:      fp(5),
		},
		{
			name: "failed task counts as zero",
			gradings: []gradingdomain.ExerciseTaskGrading{
				{GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(9)},
				{GradingProgress: gradingdomain.GradingFailed},
				{GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(9)},
			},
			taskCount: 3,
			progress:  gradingdomain.GradingFailed,
			want:      fp(6),
		},
		{
			name: "task without a grading counts as zero",
			gradings: []gradingdomain.ExerciseTaskGrading{
				{GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(10)},
			},
			taskCount: 4,
			progress:  gradingdomain.GradingNotReady,
			want:      fp(2.5),
		},
		{
			name: "nothing scored yet",
			gradings: []gradingdomain.ExerciseTaskGrading{
				{GradingProgress: gradingdomain.GradingPending},
				{GradingProgress: gradingdomain.GradingPending},
			},
			taskCount: 2,
			progress:  gradingdomain.GradingPending,
		},
		{
			name: "task count below gradings uses gradings",
			gradings: []gradingdomain.ExerciseTaskGrading{
				{GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(2)},
				{GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(1)},
			},
			taskCount: 0,
			progress:  gradingdomain.GradingFullyGraded,
			want:      fp(1.5),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := SummarizeSlide(tc.gradings, tc.taskCount)
			if s.GradingProgress != tc.progress {
				t.Fatalf("progress = %s, want %s", s.GradingProgress, tc.progress)
			}
			if (s.ScoreGiven == nil) != (tc.want == nil) || (s.ScoreGiven != nil && *s.ScoreGiven != *tc.want) {
				t.Fatalf("score = %v, want %v", s.ScoreGiven, tc.want)
			}
		})
	}
}

func TestPartialSlideCannotInflateKeptPoints(t *testing.T) {
	strategy := content.CanAddPointsButCannotRemovePoints
	first := SummarizeSlide([]gradingdomain.ExerciseTaskGrading{
		{GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(10)},
		{GradingProgress: gradingdomain.GradingPending},
	}, 2)
	kept := CombinePoints(strategy, nil, first.ScoreGiven)
	final := SummarizeSlide([]gradingdomain.ExerciseTaskGrading{
		{GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(10)},
		{GradingProgress: gradingdomain.GradingFullyGraded, ScoreGiven: fp(0)},
	}, 2)
	kept = CombinePoints(strategy, kept, final.ScoreGiven)
	if kept == nil || *kept != 5 {
		t.Fatalf("kept score = %v, want 5", kept)
	}
}

func TestCombinePoints(t *testing.T) {
	tests := []struct {
		name          string
		strategy      content.PointsUpdateStrategy
		current, next *float64
		want          *float64
	}{
		{"no current", content.CanAddPointsButCannotRemovePoints, nil, fp(2), fp(2)},
		{"no next", content.CanAddPointsButCannotRemovePoints, fp(2), nil, fp(2)},
		{"keeps larger", content.CanAddPointsButCannotRemovePoints, fp(5), fp(3), fp(5)},
		{"raises", content.CanAddPointsButCannotRemovePoints, fp(3), fp(5), fp(5)},
		{"can remove", content.CanAddPointsAndCanRemovePoints, fp(5), fp(3), fp(3)},
		{"both nil", content.CanAddPointsAndCanRemovePoints, nil, nil, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CombinePoints(tc.strategy, tc.current, tc.next)
			if (got == nil) != (tc.want == nil) || (got != nil && *got != *tc.want) {
				t.Fatalf("CombinePoints = %v, want %v", got, tc.want)
			}
		})
	}
}
