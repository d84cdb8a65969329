package grading

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// GradingResult is what a finished remote grading writes back.
type GradingResult struct {
	Progress             grading.GradingProgress
	ScoreGiven           *float64
	UnscaledScoreGiven   *float64
	UnscaledScoreMaximum *float64
	FeedbackText         *string
	FeedbackJSON         datatypes.JSON
}

type GradingRepo interface {
	Create(dbc dbctx.Context, pk pkey.Policy, g *types.ExerciseTaskGrading) (*types.ExerciseTaskGrading, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseTaskGrading, error)
	// ClaimPending leases up to limit Pending gradings whose previous lease
	// is absent or older than lease. Concurrent callers never receive the
	// same row.
	ClaimPending(dbc dbctx.Context, limit int, lease time.Duration) ([]types.ExerciseTaskGrading, error)
	// CompleteIfPending writes the result only while the grading is still
	// Pending and reports whether it did.
	CompleteIfPending(dbc dbctx.Context, id uuid.UUID, res GradingResult) (bool, error)
	// CompleteRegrading writes the result of a grading owned by a regrading.
	CompleteRegrading(dbc dbctx.Context, id uuid.UUID, res GradingResult) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, reason string) (bool, error)
	// ListActiveForSlideSubmission returns the gradings currently referenced
	// by the slide submission's task submissions.
	ListActiveForSlideSubmission(dbc dbctx.Context, slideSubmissionID uuid.UUID) ([]types.ExerciseTaskGrading, error)
}

var (
	fromPending = aggregates.Transition[grading.GradingProgress]{
		Table: "exercise_task_gradings", Column: "grading_progress",
		From: []grading.GradingProgress{grading.GradingPending},
	}
	// Regrading owns NotReady gradings until their result arrives.
	fromUnfinished = aggregates.Transition[grading.GradingProgress]{
		Table: "exercise_task_gradings", Column: "grading_progress",
		From: []grading.GradingProgress{grading.GradingPending, grading.GradingNotReady},
	}
)

type gradingRepo struct {
	db    *gorm.DB
	log   *logger.Logger
	guard aggregates.CASGuard
}

func NewGradingRepo(db *gorm.DB, baseLog *logger.Logger) GradingRepo {
	return &gradingRepo{
		db:    db,
		log:   baseLog.With("repo", "ExerciseTaskGradingRepo"),
		guard: aggregates.NewCASGuard(db),
	}
}

func (r *gradingRepo) Create(dbc dbctx.Context, pk pkey.Policy, g *types.ExerciseTaskGrading) (*types.ExerciseTaskGrading, error) {
	g.ID = pk.Resolve()
	if !g.GradingProgress.Valid() {
		return nil, aggregates.MapError("GradingRepo.Create", aggregates.ValidationError("invalid grading progress"))
	}
	if err := dbc.DB(r.db).Create(g).Error; err != nil {
		return nil, aggregates.MapError("GradingRepo.Create", err)
	}
	return g, nil
}

func (r *gradingRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ExerciseTaskGrading, error) {
	var g types.ExerciseTaskGrading
	if err := dbc.DB(r.db).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, aggregates.MapError("GradingRepo.GetByID", err)
	}
	return &g, nil
}

func (r *gradingRepo) ClaimPending(dbc dbctx.Context, limit int, lease time.Duration) ([]types.ExerciseTaskGrading, error) {
	if limit <= 0 {
		limit = 1
	}
	out := []types.ExerciseTaskGrading{}
	err := dbc.DB(r.db).Raw(`
		UPDATE exercise_task_gradings AS g
		SET dispatched_at = now(), updated_at = now()
		WHERE g.id IN (
			SELECT id FROM exercise_task_gradings
			WHERE deleted_at IS NULL
			  AND grading_progress = ?
			  AND (dispatched_at IS NULL OR dispatched_at < now() - make_interval(secs => ?))
			ORDER BY grading_priority DESC, created_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING g.*
	`, grading.GradingPending, lease.Seconds(), limit).Scan(&out).Error
	if err != nil {
		return nil, aggregates.MapError("GradingRepo.ClaimPending", err)
	}
	return out, nil
}

func (r *gradingRepo) resultUpdates(res GradingResult) map[string]any {
	now := time.Now().UTC()
	updates := map[string]any{
		"grading_progress":       res.Progress,
		"score_given":            res.ScoreGiven,
		"unscaled_score_given":   res.UnscaledScoreGiven,
		"unscaled_score_maximum": res.UnscaledScoreMaximum,
		"feedback_text":          res.FeedbackText,
		"feedback_json":          res.FeedbackJSON,
		"updated_at":             now,
	}
	if res.Progress == grading.GradingFullyGraded {
		updates["grading_completed_at"] = now
	}
	return updates
}

func (r *gradingRepo) CompleteIfPending(dbc dbctx.Context, id uuid.UUID, res GradingResult) (bool, error) {
	if !res.Progress.Valid() {
		return false, aggregates.MapError("GradingRepo.CompleteIfPending", aggregates.ValidationError("invalid grading progress"))
	}
	ok, err := fromPending.Apply(r.guard, dbc, id, r.resultUpdates(res))
	if err != nil {
		return false, aggregates.MapError("GradingRepo.CompleteIfPending", err)
	}
	return ok, nil
}

func (r *gradingRepo) CompleteRegrading(dbc dbctx.Context, id uuid.UUID, res GradingResult) error {
	if !res.Progress.Valid() {
		return aggregates.MapError("GradingRepo.CompleteRegrading", aggregates.ValidationError("invalid grading progress"))
	}
	ok, err := fromUnfinished.Apply(r.guard, dbc, id, r.resultUpdates(res))
	if err != nil {
		return aggregates.MapError("GradingRepo.CompleteRegrading", err)
	}
	return aggregates.MapError("GradingRepo.CompleteRegrading", aggregates.RequireCASSuccess(ok, "regrading result already recorded"))
}

func (r *gradingRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, reason string) (bool, error) {
	updates := map[string]any{
		"grading_progress": grading.GradingFailed,
		"updated_at":       time.Now().UTC(),
	}
	if reason != "" {
		updates["feedback_text"] = reason
	}
	ok, err := fromUnfinished.Apply(r.guard, dbc, id, updates)
	if err != nil {
		return false, aggregates.MapError("GradingRepo.MarkFailed", err)
	}
	return ok, nil
}

func (r *gradingRepo) ListActiveForSlideSubmission(dbc dbctx.Context, slideSubmissionID uuid.UUID) ([]types.ExerciseTaskGrading, error) {
	out := []types.ExerciseTaskGrading{}
	err := dbc.DB(r.db).
		Joins("JOIN exercise_task_submissions ets ON ets.exercise_task_grading_id = exercise_task_gradings.id AND ets.deleted_at IS NULL").
		Where("ets.exercise_slide_submission_id = ?", slideSubmissionID).
		Order("exercise_task_gradings.created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, aggregates.MapError("GradingRepo.ListActiveForSlideSubmission", err)
	}
	return out, nil
}
