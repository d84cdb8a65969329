package regrading

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/domain/content"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/validate"
	"github.com/yungbote/headless-lms/internal/services/exerciseservice"
	"github.com/yungbote/headless-lms/internal/services/grading"
)

// DefaultInterval is how often open regradings are processed.
const DefaultInterval = 60 * time.Second

type NewRegrading struct {
	TaskSubmissionIDs []uuid.UUID                  `json:"exercise_task_submission_ids" validate:"required,min=1,dive,required"`
	Strategy          content.PointsUpdateStrategy `json:"user_points_update_strategy" validate:"omitempty,oneof=CanAddPointsButCannotRemovePoints CanAddPointsAndCanRemovePoints"`
	CreatedBy         *uuid.UUID                   `json:"-"`
}

type Engine interface {
	// Create opens a regrading over the given task submissions.
	Create(ctx context.Context, in NewRegrading) (*types.Regrading, error)
	// RunOnce processes every open regrading oldest first and returns the
	// number of submissions regraded.
	RunOnce(ctx context.Context) (int, error)
	Type() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

type engine struct {
	db       *gorm.DB
	log      *logger.Logger
	repos    repos.Set
	registry exerciseservice.Registry
	client   exerciseservice.Client
	states   grading.StateService
	interval time.Duration

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func NewEngine(db *gorm.DB, baseLog *logger.Logger, r repos.Set, registry exerciseservice.Registry, client exerciseservice.Client, states grading.StateService, interval time.Duration) Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &engine{
		db:       db,
		log:      baseLog.With("worker", "RegradingEngine"),
		repos:    r,
		registry: registry,
		client:   client,
		states:   states,
		interval: interval,
		sems:     map[string]*semaphore.Weighted{},
	}
}

func (e *engine) Type() string { return "regrading" }

func (e *engine) Interval() time.Duration { return e.interval }

func (e *engine) Run(ctx context.Context) error {
	_, err := e.RunOnce(ctx)
	return err
}

func (e *engine) Create(ctx context.Context, in NewRegrading) (*types.Regrading, error) {
	const op = "RegradingEngine.Create"
	if err := validate.Struct(op, in); err != nil {
		return nil, err
	}
	strategy := in.Strategy
	if strategy == "" {
		strategy = content.CanAddPointsAndCanRemovePoints
	}
	var out *types.Regrading
	err := aggregates.ExecuteWrite(ctx, aggregates.BaseDeps{DB: e.db, Log: e.log}, op, func(dbc dbctx.Context) error {
		rg, err := e.repos.Regradings.Create(dbc, &types.Regrading{
			UserPointsUpdateStrategy: strategy,
			CreatedByUserID:          in.CreatedBy,
			TotalGradingProgress:     gradingdomain.GradingNotReady,
		}, in.TaskSubmissionIDs)
		if err != nil {
			return err
		}
		out = rg
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("regrading created", "regrading_id", out.ID, "submissions", len(in.TaskSubmissionIDs))
	return out, nil
}

func (e *engine) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	dbc := dbctx.Context{Ctx: ctx}
	open, err := e.repos.Regradings.ListUncompleted(dbc)
	if err != nil {
		observability.Current().ObserveWorker("regrading", "error", time.Since(start))
		return 0, err
	}
	total := 0
	for i := range open {
		if ctx.Err() != nil {
			break
		}
		n, err := e.processRegrading(ctx, &open[i])
		total += n
		if err != nil {
			e.log.Warn("regrading pass failed", "regrading_id", open[i].ID, "error", err)
		}
	}
	observability.Current().ObserveWorker("regrading", "ok", time.Since(start))
	return total, nil
}

func (e *engine) processRegrading(ctx context.Context, rg *types.Regrading) (int, error) {
	ctx, span := observability.StartSpan(ctx, "regrading.batch", observability.ID(observability.AttrRegradingID, rg.ID))
	defer span.End()

	dbc := dbctx.Context{Ctx: ctx}
	if rg.RegradingStartedAt == nil {
		if err := e.repos.Regradings.MarkStarted(dbc, rg.ID); err != nil {
			return 0, err
		}
	}
	pending, err := e.repos.Regradings.ListPending(dbc, rg.ID)
	if err != nil {
		return 0, err
	}

	done := e.dispatch(ctx, pending, func(ctx context.Context, p *repos.PendingRegradingSubmission, ep *exerciseservice.Endpoint) error {
		return e.regradeOne(ctx, rg, p, ep)
	})

	remaining, err := e.repos.Regradings.ListPending(dbc, rg.ID)
	if err != nil {
		return done, err
	}
	if len(remaining) > 0 {
		return done, nil
	}
	outcomes, err := e.repos.Regradings.ListOutcomes(dbc, rg.ID)
	if err != nil {
		return done, err
	}
	total := grading.LeastSettled(outcomes)
	if err := e.repos.Regradings.Complete(dbc, rg.ID, total); err != nil {
		return done, err
	}
	e.log.Info("regrading completed", "regrading_id", rg.ID, "total_grading_progress", total)
	return done, nil
}

// dispatch runs work for every pending submission and returns how many
// succeeded. Each exercise service has its own limit, so submissions of a slow
// service never hold back those of another.
func (e *engine) dispatch(ctx context.Context, pending []repos.PendingRegradingSubmission, work func(context.Context, *repos.PendingRegradingSubmission, *exerciseservice.Endpoint) error) int {
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := range pending {
		p := &pending[i]
		endpoint, err := e.registry.Resolve(gctx, p.ExerciseType)
		if err != nil {
			e.log.Warn("exercise service unavailable, submission left for next pass",
				"regrading_id", p.RegradingID, "exercise_type", p.ExerciseType, "error", err)
			observability.Current().IncRegradingTask("deferred")
			continue
		}
		sem := e.semaphore(endpoint)
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			if err := work(gctx, p, endpoint); err != nil {
				e.log.Warn("regrading submission failed", "regrading_submission_id", p.ID, "error", err)
				observability.Current().IncRegradingTask("error")
				return nil
			}
			done.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(done.Load())
}

// semaphore returns the limiter for one exercise service, sized by its
// advertised max_reprocessing_submissions_at_once.
func (e *engine) semaphore(ep *exerciseservice.Endpoint) *semaphore.Weighted {
	e.mu.Lock()
	defer e.mu.Unlock()
	slug := ep.Service.Slug
	if sem, ok := e.sems[slug]; ok {
		return sem
	}
	n := int64(ep.Service.MaxReprocessingSubmissionsAtOnce)
	if n < 1 {
		n = 1
	}
	sem := semaphore.NewWeighted(n)
	e.sems[slug] = sem
	return sem
}

func (e *engine) regradeOne(ctx context.Context, rg *types.Regrading, p *repos.PendingRegradingSubmission, endpoint *exerciseservice.Endpoint) (err error) {
	ctx, span := observability.StartSpan(ctx, "regrading.submission",
		observability.ID(observability.AttrRegradingID, rg.ID),
		observability.ID(observability.AttrGradingID, p.GradingBeforeRegrading),
		observability.AttrExerciseType.String(p.ExerciseType),
	)
	defer func() { observability.EndSpan(span, err) }()

	dbc := dbctx.Context{Ctx: ctx}
	before, err := e.repos.Gradings.GetByID(dbc, p.GradingBeforeRegrading)
	if err != nil {
		return err
	}
	task, err := e.repos.Exercises.GetTaskIncludingDeleted(dbc, p.ExerciseTaskID)
	if err != nil {
		return err
	}
	taskSub, err := e.repos.Submissions.GetTaskSubmission(dbc, p.ExerciseTaskSubmissionID)
	if err != nil {
		return err
	}

	startedAt := time.Now().UTC()
	resp, gradeErr := e.client.Grade(ctx, endpoint.Service.Slug, endpoint.GradeURL(), exerciseservice.GradeRequest{
		ExerciseSpec:   json.RawMessage(task.PrivateSpec),
		SubmissionData: json.RawMessage(taskSub.DataJSON),
	})

	// The regraded grading is linked in the same transaction that records its
	// result, so an interrupted pass leaves the row pending.
	var progress gradingdomain.GradingProgress
	err = aggregates.ExecuteWrite(ctx, aggregates.BaseDeps{DB: e.db, Log: e.log}, "RegradingEngine.recordResult", func(dbc dbctx.Context) error {
		after, err := e.repos.Gradings.Create(dbc, pkey.NewGenerate(), &types.ExerciseTaskGrading{
			ExerciseTaskSubmissionID: taskSub.ID,
			CourseID:                 before.CourseID,
			ExamID:                   before.ExamID,
			ExerciseID:               before.ExerciseID,
			ExerciseTaskID:           task.ID,
			GradingPriority:          before.GradingPriority,
			GradingProgress:          gradingdomain.GradingNotReady,
			GradingStartedAt:         &startedAt,
			DispatchedAt:             &startedAt,
		})
		if err != nil {
			return err
		}
		if err := e.repos.Regradings.SetGradingAfter(dbc, p.ID, after.ID, p.GradingAfterRegrading); err != nil {
			return err
		}
		if p.GradingAfterRegrading != nil {
			if _, err := e.repos.Gradings.MarkFailed(dbc, *p.GradingAfterRegrading, "regrading interrupted"); err != nil {
				return err
			}
		}
		if gradeErr != nil {
			progress = gradingdomain.GradingFailed
			_, err := e.repos.Gradings.MarkFailed(dbc, after.ID, gradeErr.Error())
			return err
		}
		progress = resp.GradingProgress

		ex, err := e.repos.Exercises.GetByID(dbc, before.ExerciseID)
		if err != nil {
			return err
		}
		if err := e.repos.Gradings.CompleteRegrading(dbc, after.ID, grading.ResultFromResponse(float64(ex.ScoreMaximum), resp)); err != nil {
			return err
		}
		if err := e.repos.Submissions.SetActiveGrading(dbc, taskSub.ID, after.ID); err != nil {
			return err
		}
		sub, err := e.repos.Submissions.GetSlideSubmission(dbc, taskSub.ExerciseSlideSubmissionID)
		if err != nil {
			return err
		}
		if err := grading.StoreUserVariables(dbc, e.repos.ExerciseServices, sub, endpoint.Service.Slug, resp.SetUserVariables); err != nil {
			return err
		}
		_, err = e.states.RecomputeFromSlideSubmission(dbc, sub.ID, grading.RecomputeOptions{
			Strategy:      rg.UserPointsUpdateStrategy,
			PreserveStage: true,
		})
		return err
	})
	if err != nil {
		return err
	}
	span.SetAttributes(observability.AttrGradingProgress.String(string(progress)))
	observability.Current().IncRegradingTask(string(progress))
	return nil
}
