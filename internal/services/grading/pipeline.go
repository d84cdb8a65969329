package grading

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/domain/content"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/validate"
)

// DefaultGradingPriority is the priority of gradings created by a student
// submission. Higher is dispatched first.
const DefaultGradingPriority = 100

type TaskSubmissionInput struct {
	ExerciseTaskID uuid.UUID       `json:"exercise_task_id" validate:"required"`
	DataJSON       json.RawMessage `json:"data_json"`
}

type NewSlideSubmission struct {
	ExerciseSlideID uuid.UUID             `json:"exercise_slide_id" validate:"required"`
	TaskSubmissions []TaskSubmissionInput `json:"exercise_task_submissions" validate:"required,min=1,dive"`
}

// SubmissionContext places a submission in exactly one course instance or exam.
type SubmissionContext struct {
	CourseInstanceID *uuid.UUID
	ExamID           *uuid.UUID
}

type TaskSubmissionResult struct {
	ExerciseTaskID   uuid.UUID `json:"exercise_task_id"`
	TaskSubmissionID uuid.UUID `json:"exercise_task_submission_id"`
	GradingID        uuid.UUID `json:"exercise_task_grading_id"`
}

type SubmissionResult struct {
	SlideSubmissionID uuid.UUID                `json:"exercise_slide_submission_id"`
	Tasks             []TaskSubmissionResult   `json:"exercise_task_submission_results"`
	State             *types.UserExerciseState `json:"exercise_status"`
}

// ChapterLocks reports whether a user may still submit to a chapter's exercises.
type ChapterLocks interface {
	ExercisesLocked(dbc dbctx.Context, userID, chapterID uuid.UUID) (bool, error)
}

// Waker is nudged after new pending gradings are committed.
type Waker interface {
	Wake()
}

type Pipeline interface {
	// Submit stores a slide submission with one Pending grading per task and
	// returns before any grader is contacted.
	Submit(ctx context.Context, userID, exerciseID uuid.UUID, in NewSlideSubmission, sc SubmissionContext) (*SubmissionResult, error)
}

type pipeline struct {
	db     *gorm.DB
	log    *logger.Logger
	repos  repos.Set
	states StateService
	locks  ChapterLocks
	waker  Waker
	now    func() time.Time
}

// NewPipeline builds the submission pipeline. locks and waker may be nil.
func NewPipeline(db *gorm.DB, baseLog *logger.Logger, r repos.Set, states StateService, locks ChapterLocks, waker Waker) Pipeline {
	return &pipeline{
		db:     db,
		log:    baseLog.With("service", "GradingPipeline"),
		repos:  r,
		states: states,
		locks:  locks,
		waker:  waker,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *pipeline) Submit(ctx context.Context, userID, exerciseID uuid.UUID, in NewSlideSubmission, sc SubmissionContext) (*SubmissionResult, error) {
	const op = "GradingPipeline.Submit"
	if err := validate.Struct(op, in); err != nil {
		return nil, err
	}
	if (sc.CourseInstanceID == nil) == (sc.ExamID == nil) {
		return nil, domainagg.Invalid(op, "exactly one of course instance and exam is required")
	}

	var out *SubmissionResult
	deps := aggregates.BaseDeps{DB: p.db, Log: p.log, Hooks: aggregates.NewObservabilityHooks(observability.Current())}
	err := aggregates.ExecuteWrite(ctx, deps, op, func(dbc dbctx.Context) error {
		ex, err := p.repos.Exercises.GetByID(dbc, exerciseID)
		if err != nil {
			return err
		}
		slide, err := p.repos.Exercises.GetSlide(dbc, in.ExerciseSlideID)
		if err != nil {
			return err
		}
		if slide.ExerciseID != ex.ID {
			return domainagg.Precondition(op, "exercise slide does not belong to the exercise")
		}
		deleted, err := p.repos.Exercises.InDeletedChapter(dbc, ex)
		if err != nil {
			return err
		}
		if deleted {
			return domainagg.Precondition(op, "exercise is in a deleted chapter")
		}
		strategy, courseID, err := p.resolveContext(dbc, ex, sc)
		if err != nil {
			return err
		}
		if err := p.checkSubmissionAllowed(dbc, userID, ex, slide.ID); err != nil {
			return err
		}

		tasks, err := p.repos.Exercises.ListTasksBySlide(dbc, slide.ID)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]types.ExerciseTask, len(tasks))
		for _, t := range tasks {
			byID[t.ID] = t
		}
		seen := make(map[uuid.UUID]bool, len(in.TaskSubmissions))
		for _, ts := range in.TaskSubmissions {
			if _, ok := byID[ts.ExerciseTaskID]; !ok {
				return domainagg.Precondition(op, "task "+ts.ExerciseTaskID.String()+" is not on the submitted slide")
			}
			if seen[ts.ExerciseTaskID] {
				return domainagg.Invalid(op, "task "+ts.ExerciseTaskID.String()+" is submitted more than once")
			}
			seen[ts.ExerciseTaskID] = true
		}
		if len(seen) != len(tasks) {
			return domainagg.Invalid(op, "every task of the slide must be submitted")
		}

		sub, err := p.repos.Submissions.CreateSlideSubmission(dbc, pkey.NewGenerate(), &types.ExerciseSlideSubmission{
			ExerciseSlideID:          slide.ID,
			ExerciseID:               ex.ID,
			UserID:                   userID,
			CourseID:                 courseID,
			CourseInstanceID:         sc.CourseInstanceID,
			ExamID:                   sc.ExamID,
			UserPointsUpdateStrategy: strategy,
		})
		if err != nil {
			return err
		}

		now := p.now()
		result := &SubmissionResult{SlideSubmissionID: sub.ID, Tasks: make([]TaskSubmissionResult, 0, len(in.TaskSubmissions))}
		for _, ts := range in.TaskSubmissions {
			data := ts.DataJSON
			if len(data) == 0 {
				data = json.RawMessage("null")
			}
			taskSub, err := p.repos.Submissions.CreateTaskSubmission(dbc, pkey.NewGenerate(), &types.ExerciseTaskSubmission{
				ExerciseSlideSubmissionID: sub.ID,
				ExerciseTaskID:            ts.ExerciseTaskID,
				ExerciseSlideID:           slide.ID,
				DataJSON:                  datatypes.JSON(data),
			})
			if err != nil {
				return err
			}
			g, err := p.repos.Gradings.Create(dbc, pkey.NewGenerate(), &types.ExerciseTaskGrading{
				ExerciseTaskSubmissionID: taskSub.ID,
				CourseID:                 courseID,
				ExamID:                   sc.ExamID,
				ExerciseID:               ex.ID,
				ExerciseTaskID:           ts.ExerciseTaskID,
				GradingPriority:          DefaultGradingPriority,
				GradingProgress:          gradingdomain.GradingPending,
				GradingStartedAt:         &now,
			})
			if err != nil {
				return err
			}
			if err := p.repos.Submissions.SetActiveGrading(dbc, taskSub.ID, g.ID); err != nil {
				return err
			}
			result.Tasks = append(result.Tasks, TaskSubmissionResult{
				ExerciseTaskID:   ts.ExerciseTaskID,
				TaskSubmissionID: taskSub.ID,
				GradingID:        g.ID,
			})
		}

		state, err := p.repos.States.GetOrCreate(dbc, repos.StateKey{
			UserID:           userID,
			ExerciseID:       ex.ID,
			CourseInstanceID: sc.CourseInstanceID,
			ExamID:           sc.ExamID,
		})
		if err != nil {
			return err
		}
		if state.SelectedExerciseSlideID == nil || *state.SelectedExerciseSlideID != slide.ID {
			state.SelectedExerciseSlideID = &slide.ID
			if _, err := p.repos.States.Update(dbc, state); err != nil {
				return err
			}
		}
		if result.State, err = p.states.RecomputeFromSlideSubmission(dbc, sub.ID, RecomputeOptions{Strategy: strategy}); err != nil {
			return err
		}
		out = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("slide submission stored",
		"user_id", userID,
		"exercise_id", exerciseID,
		"slide_submission_id", out.SlideSubmissionID,
		"tasks", len(out.Tasks),
	)
	if p.waker != nil {
		p.waker.Wake()
	}
	return out, nil
}

// resolveContext checks the submission context against the exercise and
// returns the points-update strategy and course id to record.
func (p *pipeline) resolveContext(dbc dbctx.Context, ex *types.Exercise, sc SubmissionContext) (content.PointsUpdateStrategy, *uuid.UUID, error) {
	const op = "GradingPipeline.Submit"
	if sc.ExamID != nil {
		if ex.ExamID == nil || *ex.ExamID != *sc.ExamID {
			return "", nil, domainagg.Precondition(op, "exercise is not part of the exam")
		}
		exam, err := p.repos.Structure.GetExam(dbc, *sc.ExamID)
		if err != nil {
			return "", nil, err
		}
		now := p.now()
		if exam.EndsAt != nil && now.After(*exam.EndsAt) {
			return "", nil, domainagg.Precondition(op, "exam has ended")
		}
		strategy := exam.PointsUpdateStrategy
		if strategy == "" {
			strategy = content.CanAddPointsAndCanRemovePoints
		}
		return strategy, nil, nil
	}

	inst, err := p.repos.Structure.GetInstance(dbc, *sc.CourseInstanceID)
	if err != nil {
		return "", nil, err
	}
	if ex.CourseID == nil || *ex.CourseID != inst.CourseID {
		return "", nil, domainagg.Precondition(op, "exercise is not part of the course instance")
	}
	course, err := p.repos.Courses.GetByID(dbc, inst.CourseID)
	if err != nil {
		return "", nil, err
	}
	strategy := course.PointsUpdateStrategy
	if strategy == "" {
		strategy = content.CanAddPointsButCannotRemovePoints
	}
	courseID := course.ID
	return strategy, &courseID, nil
}

func (p *pipeline) checkSubmissionAllowed(dbc dbctx.Context, userID uuid.UUID, ex *types.Exercise, slideID uuid.UUID) error {
	const op = "GradingPipeline.Submit"
	if ex.Deadline != nil && p.now().After(*ex.Deadline) {
		return domainagg.Precondition(op, "exercise deadline has passed")
	}
	if p.locks != nil && ex.ChapterID != nil {
		locked, err := p.locks.ExercisesLocked(dbc, userID, *ex.ChapterID)
		if err != nil {
			return err
		}
		if locked {
			return domainagg.Precondition(op, "chapter exercises are locked")
		}
	}
	if ex.LimitNumberOfTries && ex.MaxTriesPerSlide != nil {
		prev, err := p.repos.Submissions.ListSlideSubmissionsForUser(dbc, userID, ex.ID)
		if err != nil {
			return err
		}
		tries := 0
		for _, s := range prev {
			if s.ExerciseSlideID == slideID {
				tries++
			}
		}
		if tries >= *ex.MaxTriesPerSlide {
			return domainagg.Precondition(op, "no tries left for this slide")
		}
	}
	return nil
}
