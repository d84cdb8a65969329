package grading

type GradingProgress string

const (
	GradingNotReady      GradingProgress = "NotReady"
	GradingPending       GradingProgress = "Pending"
	GradingPendingManual GradingProgress = "PendingManual"
	GradingFullyGraded   GradingProgress = "FullyGraded"
	GradingFailed        GradingProgress = "Failed"
)

func (g GradingProgress) Valid() bool {
	switch g {
	case GradingNotReady, GradingPending, GradingPendingManual, GradingFullyGraded, GradingFailed:
		return true
	}
	return false
}

// Finished reports whether the grader is done with the grading.
func (g GradingProgress) Finished() bool {
	return g == GradingFullyGraded || g == GradingFailed
}

type ReviewingStage string

const (
	StageNotStarted              ReviewingStage = "NotStarted"
	StagePeerReview              ReviewingStage = "PeerReview"
	StageSelfReview              ReviewingStage = "SelfReview"
	StageWaitingForPeerReviews   ReviewingStage = "WaitingForPeerReviews"
	StageWaitingForManualGrading ReviewingStage = "WaitingForManualGrading"
	StageReviewedAndLocked       ReviewingStage = "ReviewedAndLocked"
)

type ActivityProgress string

const (
	ActivityInitialized ActivityProgress = "Initialized"
	ActivityStarted     ActivityProgress = "Started"
	ActivityInProgress  ActivityProgress = "InProgress"
	ActivitySubmitted   ActivityProgress = "Submitted"
	ActivityCompleted   ActivityProgress = "Completed"
)

type TeacherDecisionType string

const (
	DecisionFullPoints          TeacherDecisionType = "FullPoints"
	DecisionZeroPoints          TeacherDecisionType = "ZeroPoints"
	DecisionCustomPoints        TeacherDecisionType = "CustomPoints"
	DecisionSuspectedPlagiarism TeacherDecisionType = "SuspectedPlagiarism"
)

func (d TeacherDecisionType) Valid() bool {
	switch d {
	case DecisionFullPoints, DecisionZeroPoints, DecisionCustomPoints, DecisionSuspectedPlagiarism:
		return true
	}
	return false
}
