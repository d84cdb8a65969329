package grading

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/services/exerciseservice"
)

type DispatcherConfig struct {
	BatchSize   int
	Concurrency int
	// Lease is how long a claimed grading is hidden from other dispatchers.
	// A grading whose lease expires without a result is claimed again.
	Lease    time.Duration
	Interval time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.Lease <= 0 {
		c.Lease = exerciseservice.DefaultTimeout + 3*time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	return c
}

// Dispatcher sends pending gradings to their exercise services and folds the
// results back into user state. It runs as a periodic job that can also be
// woken early.
type Dispatcher interface {
	// DispatchOnce claims one batch and grades it. It returns how many
	// gradings were claimed.
	DispatchOnce(ctx context.Context) (int, error)
	Wake()
	Wakeups() <-chan struct{}
	Type() string
	Interval() time.Duration
	// Run drains pending gradings batch by batch.
	Run(ctx context.Context) error
}

type dispatcher struct {
	db       *gorm.DB
	log      *logger.Logger
	repos    repos.Set
	registry exerciseservice.Registry
	client   exerciseservice.Client
	states   StateService
	cfg      DispatcherConfig
	wake     chan struct{}
}

func NewDispatcher(db *gorm.DB, baseLog *logger.Logger, r repos.Set, registry exerciseservice.Registry, client exerciseservice.Client, states StateService, cfg DispatcherConfig) Dispatcher {
	return &dispatcher{
		db:       db,
		log:      baseLog.With("worker", "GradingDispatcher"),
		repos:    r,
		registry: registry,
		client:   client,
		states:   states,
		cfg:      cfg.withDefaults(),
		wake:     make(chan struct{}, 1),
	}
}

func (d *dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) Wakeups() <-chan struct{} { return d.wake }

func (d *dispatcher) Type() string { return "grading_dispatch" }

func (d *dispatcher) Interval() time.Duration { return d.cfg.Interval }

func (d *dispatcher) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		n, err := d.DispatchOnce(ctx)
		if err != nil {
			return err
		}
		if n < d.cfg.BatchSize {
			return nil
		}
	}
	return nil
}

func (d *dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	start := time.Now()
	claimed, err := d.repos.Gradings.ClaimPending(dbctx.Context{Ctx: ctx}, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		observability.Current().ObserveWorker("grading_dispatcher", "error", time.Since(start))
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i := range claimed {
		grading := claimed[i]
		g.Go(func() error {
			d.gradeOne(gctx, &grading)
			return nil
		})
	}
	_ = g.Wait()
	observability.Current().ObserveWorker("grading_dispatcher", "ok", time.Since(start))
	return len(claimed), nil
}

// gradeOne never returns an error: every outcome is recorded on the grading
// row or left for the lease to expire.
func (d *dispatcher) gradeOne(ctx context.Context, g *types.ExerciseTaskGrading) {
	dbc := dbctx.Context{Ctx: ctx}
	log := d.log.With("grading_id", g.ID)

	task, err := d.repos.Exercises.GetTaskIncludingDeleted(dbc, g.ExerciseTaskID)
	if err != nil {
		d.fail(ctx, g, "", "load task: "+err.Error())
		return
	}
	ctx, span := observability.StartSpan(ctx, "grading.dispatch",
		observability.ID(observability.AttrGradingID, g.ID),
		observability.ID(observability.AttrExerciseID, g.ExerciseID),
		observability.AttrExerciseType.String(task.ExerciseType),
	)
	defer span.End()

	taskSub, err := d.repos.Submissions.GetTaskSubmission(dbc, g.ExerciseTaskSubmissionID)
	if err != nil {
		d.fail(ctx, g, task.ExerciseType, "load submission: "+err.Error())
		return
	}
	endpoint, err := d.registry.Resolve(ctx, task.ExerciseType)
	if err != nil {
		d.fail(ctx, g, task.ExerciseType, "resolve exercise service: "+err.Error())
		return
	}

	resp, err := d.client.Grade(ctx, endpoint.Service.Slug, endpoint.GradeURL(), exerciseservice.GradeRequest{
		ExerciseSpec:   json.RawMessage(task.PrivateSpec),
		SubmissionData: json.RawMessage(taskSub.DataJSON),
	})
	if exerciseservice.IsRejected(err) {
		log.Warn("grader breaker open, grading left pending", "exercise_type", task.ExerciseType)
		observability.Current().IncGrading(task.ExerciseType, "deferred")
		return
	}
	if err != nil {
		observability.MarkError(span, err)
		d.fail(ctx, g, task.ExerciseType, err.Error())
		return
	}

	if err := d.applyResult(ctx, g, taskSub, endpoint, resp); err != nil {
		observability.MarkError(span, err)
		log.Error("failed to store grading result", "error", err)
		return
	}
	span.SetAttributes(observability.AttrGradingProgress.String(string(resp.GradingProgress)))
	observability.Current().IncGrading(task.ExerciseType, string(resp.GradingProgress))
}

func (d *dispatcher) applyResult(ctx context.Context, g *types.ExerciseTaskGrading, taskSub *types.ExerciseTaskSubmission, endpoint *exerciseservice.Endpoint, resp *exerciseservice.GradeResponse) error {
	deps := aggregates.BaseDeps{DB: d.db, Log: d.log, Hooks: aggregates.NewObservabilityHooks(observability.Current())}
	return aggregates.ExecuteWrite(ctx, deps, "GradingDispatcher.applyResult", func(dbc dbctx.Context) error {
		ex, err := d.repos.Exercises.GetByID(dbc, g.ExerciseID)
		if err != nil {
			return err
		}
		ok, err := d.repos.Gradings.CompleteIfPending(dbc, g.ID, ResultFromResponse(float64(ex.ScoreMaximum), resp))
		if err != nil {
			return err
		}
		if !ok {
			d.log.Info("grading no longer pending, result dropped", "grading_id", g.ID)
			return nil
		}

		sub, err := d.repos.Submissions.GetSlideSubmission(dbc, taskSub.ExerciseSlideSubmissionID)
		if err != nil {
			return err
		}
		if err := StoreUserVariables(dbc, d.repos.ExerciseServices, sub, endpoint.Service.Slug, resp.SetUserVariables); err != nil {
			return err
		}
		_, err = d.states.RecomputeFromSlideSubmission(dbc, sub.ID, RecomputeOptions{Strategy: sub.UserPointsUpdateStrategy})
		return err
	})
}

func (d *dispatcher) fail(ctx context.Context, g *types.ExerciseTaskGrading, exerciseType, reason string) {
	ok, err := d.repos.Gradings.MarkFailed(dbctx.Context{Ctx: ctx}, g.ID, reason)
	if err != nil {
		d.log.Error("failed to mark grading failed", "grading_id", g.ID, "error", err)
		return
	}
	if ok {
		d.log.Warn("grading failed", "grading_id", g.ID, "exercise_type", exerciseType, "reason", reason)
		observability.Current().IncGrading(exerciseType, string(gradingdomain.GradingFailed))
	}
}

// ResultFromResponse converts a grader response into the stored result, with
// the score rescaled onto the exercise's maximum.
func ResultFromResponse(exerciseMax float64, resp *exerciseservice.GradeResponse) repos.GradingResult {
	given := resp.ScoreGiven
	maximum := resp.ScoreMaximum
	scaled := ScaleScore(exerciseMax, given, maximum)
	res := repos.GradingResult{
		Progress:             resp.GradingProgress,
		ScoreGiven:           &scaled,
		UnscaledScoreGiven:   &given,
		UnscaledScoreMaximum: &maximum,
		FeedbackText:         resp.FeedbackText,
	}
	if len(resp.FeedbackJSON) > 0 {
		res.FeedbackJSON = datatypes.JSON(resp.FeedbackJSON)
	}
	return res
}

// StoreUserVariables writes the variables a grader asked to set for the
// submission's user, scoped to its course or exam.
func StoreUserVariables(dbc dbctx.Context, svcRepo repos.ExerciseServiceRepo, sub *types.ExerciseSlideSubmission, slug string, vars map[string]json.RawMessage) error {
	for key, value := range vars {
		if key == "" {
			return errors.New("exercise service returned an empty user variable key")
		}
		if _, err := svcRepo.UpsertUserVariable(dbc, &types.UserCourseExerciseServiceVariable{
			UserID:              sub.UserID,
			CourseID:            sub.CourseID,
			ExamID:              sub.ExamID,
			ExerciseServiceSlug: slug,
			VariableKey:         key,
			VariableValue:       datatypes.JSON(value),
		}); err != nil {
			return err
		}
	}
	return nil
}
