package grading

import (
	"math"

	"github.com/yungbote/headless-lms/internal/domain/content"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
)

// TwoDecimals truncates toward zero at two decimals. The epsilon absorbs
// binary representation error so 0.29 stays 0.29.
func TwoDecimals(v float64) float64 {
	return math.Trunc(v*100+math.Copysign(1e-9, v)) / 100
}

// ScaleScore rescales a grader's (given, maximum) pair onto the exercise's
// maximum, clamped to [0, exerciseMax]. A non-positive grader maximum yields 0.
func ScaleScore(exerciseMax, given, maximum float64) float64 {
	if maximum <= 0 || exerciseMax <= 0 || math.IsNaN(given) {
		return 0
	}
	scaled := exerciseMax * (given / maximum)
	if scaled < 0 {
		scaled = 0
	}
	if scaled > exerciseMax {
		scaled = exerciseMax
	}
	return TwoDecimals(scaled)
}

// ClampScore bounds an externally supplied score (a teacher decision, a peer
// review outcome) to the exercise's range.
func ClampScore(exerciseMax, v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > exerciseMax {
		return TwoDecimals(exerciseMax)
	}
	return TwoDecimals(v)
}

// SlideSummary is the aggregate of the active gradings of one slide submission.
type SlideSummary struct {
	ScoreGiven      *float64
	GradingProgress gradingdomain.GradingProgress
}

// progressRank orders grading progress from least to most settled.
var progressRank = map[gradingdomain.GradingProgress]int{
	gradingdomain.GradingNotReady:      0,
	gradingdomain.GradingPending:       1,
	gradingdomain.GradingPendingManual: 2,
	gradingdomain.GradingFailed:        3,
	gradingdomain.GradingFullyGraded:   4,
}

// LeastSettled returns the least settled of the given progresses, or NotReady
// when there are none.
func LeastSettled(progresses []gradingdomain.GradingProgress) gradingdomain.GradingProgress {
	if len(progresses) == 0 {
		return gradingdomain.GradingNotReady
	}
	out := progresses[0]
	for _, p := range progresses[1:] {
		if progressRank[p] < progressRank[out] {
			out = p
		}
	}
	return out
}

// SummarizeSlide combines the active gradings of one slide submission with
// taskCount tasks and reports the least settled progress among them. Each task
// grading is stored on the exercise scale and carries 1/taskCount of the slide,
// so a task without a score (pending, failed or never submitted) contributes 0.
// The score stays nil until at least one task has been scored.
func SummarizeSlide(gradings []gradingdomain.ExerciseTaskGrading, taskCount int) SlideSummary {
	if len(gradings) == 0 {
		return SlideSummary{GradingProgress: gradingdomain.GradingNotReady}
	}
	if taskCount < len(gradings) {
		taskCount = len(gradings)
	}
	progress := gradingdomain.GradingFullyGraded
	if taskCount > len(gradings) {
		progress = gradingdomain.GradingNotReady
	}
	var sum float64
	scored := false
	for _, g := range gradings {
		if progressRank[g.GradingProgress] < progressRank[progress] {
			progress = g.GradingProgress
		}
		if g.ScoreGiven != nil {
			sum += *g.ScoreGiven
			scored = true
		}
	}
	out := SlideSummary{GradingProgress: progress}
	if scored {
		score := TwoDecimals(sum / float64(taskCount))
		out.ScoreGiven = &score
	}
	return out
}

// CombinePoints merges a new slide score with the state's current score.
func CombinePoints(strategy content.PointsUpdateStrategy, current, next *float64) *float64 {
	if current == nil {
		return next
	}
	if next == nil {
		return current
	}
	if strategy == content.CanAddPointsButCannotRemovePoints && *current >= *next {
		return current
	}
	return next
}
