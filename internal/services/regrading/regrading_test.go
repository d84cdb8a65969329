package regrading

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos"
	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/domain/content"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/services/exerciseservice"
	"github.com/yungbote/headless-lms/internal/services/grading"
)

type regradingHarness struct {
	tx         *gorm.DB
	set        repos.Set
	engine     Engine
	pipeline   grading.Pipeline
	dispatcher grading.Dispatcher
	course     *testutil.CourseFixture
	exercise   *testutil.ExerciseFixture
	userID     uuid.UUID
	score      atomic.Int64
	answers    atomic.Int64
	failAnswer atomic.Int64
}

func newRegradingHarness(t *testing.T) *regradingHarness {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	ctx := context.Background()

	h := &regradingHarness{tx: tx}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SubmissionData struct {
				Answer int64 `json:"answer"`
			} `json:"submission_data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if fail := h.failAnswer.Load(); fail != 0 && req.SubmissionData.Answer == fail {
			http.Error(w, "grader crashed", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"grading_progress":"FullyGraded","score_given":%d,"score_maximum":4}`, h.score.Load())
	}))
	t.Cleanup(srv.Close)

	slug := "regrader-" + uuid.NewString()[:8]
	testutil.SeedExerciseService(t, ctx, tx, slug, srv.URL, 1)
	h.course = testutil.SeedCourse(t, ctx, tx)
	h.exercise = testutil.SeedExercise(t, ctx, tx, h.course, 10, slug)
	h.userID = testutil.SeedUser(t, ctx, tx, slug+"@example.com").ID

	h.set = repos.NewSet(tx, log)
	client := exerciseservice.NewClient(log, exerciseservice.ClientConfig{})
	registry := exerciseservice.NewRegistry(tx, log, h.set.ExerciseServices, client, nil)
	states := grading.NewStateService(tx, log, h.set, nil)
	h.pipeline = grading.NewPipeline(tx, log, h.set, states, nil, nil)
	h.dispatcher = grading.NewDispatcher(tx, log, h.set, registry, client, states, grading.DispatcherConfig{Concurrency: 1})
	h.engine = NewEngine(tx, log, h.set, registry, client, states, 0)
	return h
}

// gradeOnce submits and grades one answer, returning the task submission.
// Answers are numbered from 1 in submission order.
func (h *regradingHarness) gradeOnce(t *testing.T, score int64) grading.TaskSubmissionResult {
	t.Helper()
	ctx := context.Background()
	h.score.Store(score)
	answer := fmt.Sprintf(`{"answer":%d}`, h.answers.Add(1))
	res, err := h.pipeline.Submit(ctx, h.userID, h.exercise.Exercise.ID, grading.NewSlideSubmission{
		ExerciseSlideID: h.exercise.Slide.ID,
		TaskSubmissions: []grading.TaskSubmissionInput{{ExerciseTaskID: h.exercise.Task.ID, DataJSON: json.RawMessage(answer)}},
	}, grading.SubmissionContext{CourseInstanceID: &h.course.Instance.ID})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if n, err := h.dispatcher.DispatchOnce(ctx); err != nil || n != 1 {
		t.Fatalf("DispatchOnce n=%d err=%v", n, err)
	}
	return res.Tasks[0]
}

func (h *regradingHarness) stateScore(t *testing.T) float64 {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background(), Tx: h.tx}
	st, err := h.set.States.Get(dbc, repos.StateKey{UserID: h.userID, ExerciseID: h.exercise.Exercise.ID, CourseInstanceID: &h.course.Instance.ID})
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.ScoreGiven == nil {
		t.Fatalf("state score is nil")
	}
	return *st.ScoreGiven
}

func TestRegradingKeepsHistoryAndMovesActiveGrading(t *testing.T) {
	h := newRegradingHarness(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: h.tx}

	task := h.gradeOnce(t, 3)
	if got := h.stateScore(t); got != 7.5 {
		t.Fatalf("initial state score = %v", got)
	}

	h.score.Store(4)
	rg, err := h.engine.Create(ctx, NewRegrading{TaskSubmissionIDs: []uuid.UUID{task.TaskSubmissionID}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rg.UserPointsUpdateStrategy != content.CanAddPointsAndCanRemovePoints {
		t.Fatalf("default strategy = %q", rg.UserPointsUpdateStrategy)
	}

	n, err := h.engine.RunOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RunOnce n=%d err=%v", n, err)
	}

	subs, err := h.set.Regradings.ListSubmissions(dbc, rg.ID)
	if err != nil || len(subs) != 1 {
		t.Fatalf("ListSubmissions = %+v err=%v", subs, err)
	}
	if subs[0].GradingBeforeRegrading != task.GradingID {
		t.Fatalf("grading_before_regrading = %s, want %s", subs[0].GradingBeforeRegrading, task.GradingID)
	}
	if subs[0].GradingAfterRegrading == nil || *subs[0].GradingAfterRegrading == task.GradingID {
		t.Fatalf("grading_after_regrading = %v", subs[0].GradingAfterRegrading)
	}

	before, err := h.set.Gradings.GetByID(dbc, task.GradingID)
	if err != nil {
		t.Fatalf("before: %v", err)
	}
	if before.ScoreGiven == nil || *before.ScoreGiven != 7.5 {
		t.Fatalf("old grading was modified: %+v", before)
	}
	after, err := h.set.Gradings.GetByID(dbc, *subs[0].GradingAfterRegrading)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if after.GradingProgress != gradingdomain.GradingFullyGraded || after.ScoreGiven == nil || *after.ScoreGiven != 10 {
		t.Fatalf("new grading = %+v", after)
	}

	taskSub, err := h.set.Submissions.GetTaskSubmission(dbc, task.TaskSubmissionID)
	if err != nil {
		t.Fatalf("task submission: %v", err)
	}
	if taskSub.ExerciseTaskGradingID == nil || *taskSub.ExerciseTaskGradingID != after.ID {
		t.Fatalf("active grading = %v, want %s", taskSub.ExerciseTaskGradingID, after.ID)
	}
	if got := h.stateScore(t); got != 10 {
		t.Fatalf("state score after regrading = %v", got)
	}

	done, err := h.set.Regradings.GetByID(dbc, rg.ID)
	if err != nil {
		t.Fatalf("regrading: %v", err)
	}
	if done.RegradingStartedAt == nil || done.RegradingCompletedAt == nil || done.TotalGradingProgress != gradingdomain.GradingFullyGraded {
		t.Fatalf("regrading not closed: %+v", done)
	}
	if n, err := h.engine.RunOnce(ctx); err != nil || n != 0 {
		t.Fatalf("second RunOnce n=%d err=%v", n, err)
	}
}

func TestRegradingStrategyDecidesLowerScore(t *testing.T) {
	cases := []struct {
		name     string
		strategy content.PointsUpdateStrategy
		want     float64
	}{
		{name: "can remove", strategy: content.CanAddPointsAndCanRemovePoints, want: 2.5},
		{name: "cannot remove", strategy: content.CanAddPointsButCannotRemovePoints, want: 7.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newRegradingHarness(t)
			ctx := context.Background()
			task := h.gradeOnce(t, 3)

			h.score.Store(1)
			if _, err := h.engine.Create(ctx, NewRegrading{TaskSubmissionIDs: []uuid.UUID{task.TaskSubmissionID}, Strategy: tc.strategy}); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if _, err := h.engine.RunOnce(ctx); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if got := h.stateScore(t); got != tc.want {
				t.Fatalf("state score = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCreateRegradingValidates(t *testing.T) {
	h := newRegradingHarness(t)
	_, err := h.engine.Create(context.Background(), NewRegrading{})
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("empty regrading err = %v", err)
	}
	_, err = h.engine.Create(context.Background(), NewRegrading{TaskSubmissionIDs: []uuid.UUID{uuid.New()}, Strategy: "Sometimes"})
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("bad strategy err = %v", err)
	}
}

func TestRegradingInterruptedPassIsRedriven(t *testing.T) {
	h := newRegradingHarness(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: h.tx}
	task := h.gradeOnce(t, 3)

	h.score.Store(4)
	rg, err := h.engine.Create(ctx, NewRegrading{TaskSubmissionIDs: []uuid.UUID{task.TaskSubmissionID}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	pending, err := h.set.Regradings.ListPending(dbc, rg.ID)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPending = %d, %v", len(pending), err)
	}

	// A pass that died after linking its grading leaves it NotReady.
	stale, err := h.set.Gradings.Create(dbc, pkey.NewGenerate(), &types.ExerciseTaskGrading{
		ExerciseTaskSubmissionID: task.TaskSubmissionID,
		CourseID:                 &h.course.Course.ID,
		ExerciseID:               h.exercise.Exercise.ID,
		ExerciseTaskID:           h.exercise.Task.ID,
		GradingProgress:          gradingdomain.GradingNotReady,
	})
	if err != nil {
		t.Fatalf("stale grading: %v", err)
	}
	if err := h.set.Regradings.SetGradingAfter(dbc, pending[0].ID, stale.ID, nil); err != nil {
		t.Fatalf("link stale grading: %v", err)
	}

	n, err := h.engine.RunOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RunOnce n=%d err=%v", n, err)
	}
	subs, err := h.set.Regradings.ListSubmissions(dbc, rg.ID)
	if err != nil || len(subs) != 1 || subs[0].GradingAfterRegrading == nil || *subs[0].GradingAfterRegrading == stale.ID {
		t.Fatalf("submissions = %+v, %v", subs, err)
	}
	old, err := h.set.Gradings.GetByID(dbc, stale.ID)
	if err != nil || old.GradingProgress != gradingdomain.GradingFailed {
		t.Fatalf("stale grading = %+v, %v", old, err)
	}
	if got := h.stateScore(t); got != 10 {
		t.Fatalf("state score = %v", got)
	}
	done, err := h.set.Regradings.GetByID(dbc, rg.ID)
	if err != nil || done.RegradingCompletedAt == nil || done.TotalGradingProgress != gradingdomain.GradingFullyGraded {
		t.Fatalf("regrading = %+v, %v", done, err)
	}
}

func TestRegradingWithFailedResultIsClosedAsFailed(t *testing.T) {
	h := newRegradingHarness(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: h.tx}
	first := h.gradeOnce(t, 3)
	second := h.gradeOnce(t, 3)

	h.score.Store(4)
	h.failAnswer.Store(2)
	rg, err := h.engine.Create(ctx, NewRegrading{TaskSubmissionIDs: []uuid.UUID{first.TaskSubmissionID, second.TaskSubmissionID}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.engine.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	outcomes := map[uuid.UUID]gradingdomain.GradingProgress{}
	subs, err := h.set.Regradings.ListSubmissions(dbc, rg.ID)
	if err != nil || len(subs) != 2 {
		t.Fatalf("submissions = %+v, %v", subs, err)
	}
	for _, sub := range subs {
		if sub.GradingAfterRegrading == nil {
			t.Fatalf("submission %s has no regraded grading", sub.ExerciseTaskSubmissionID)
		}
		g, err := h.set.Gradings.GetByID(dbc, *sub.GradingAfterRegrading)
		if err != nil {
			t.Fatalf("grading: %v", err)
		}
		outcomes[sub.ExerciseTaskSubmissionID] = g.GradingProgress
	}
	if outcomes[first.TaskSubmissionID] != gradingdomain.GradingFullyGraded || outcomes[second.TaskSubmissionID] != gradingdomain.GradingFailed {
		t.Fatalf("outcomes = %v", outcomes)
	}

	failed, err := h.set.Submissions.GetTaskSubmission(dbc, second.TaskSubmissionID)
	if err != nil || failed.ExerciseTaskGradingID == nil || *failed.ExerciseTaskGradingID != second.GradingID {
		t.Fatalf("failed regrade must keep the old active grading: %+v, %v", failed, err)
	}
	done, err := h.set.Regradings.GetByID(dbc, rg.ID)
	if err != nil || done.RegradingCompletedAt == nil || done.TotalGradingProgress != gradingdomain.GradingFailed {
		t.Fatalf("regrading = %+v, %v", done, err)
	}
}

type staticRegistry struct {
	exerciseservice.Registry
	limits map[string]int
}

func (r staticRegistry) Resolve(_ context.Context, exerciseType string) (*exerciseservice.Endpoint, error) {
	return &exerciseservice.Endpoint{Service: types.ExerciseService{Slug: exerciseType, MaxReprocessingSubmissionsAtOnce: r.limits[exerciseType]}}, nil
}

func TestSlowServiceDoesNotHoldBackOtherServices(t *testing.T) {
	e := NewEngine(nil, testutil.Logger(t), repos.Set{}, staticRegistry{limits: map[string]int{"slow": 1, "fast": 1}}, nil, nil, 0).(*engine)

	pending := []repos.PendingRegradingSubmission{
		{ExerciseType: "slow"}, {ExerciseType: "slow"}, {ExerciseType: "fast"}, {ExerciseType: "fast"},
	}
	var (
		fastSeen  atomic.Int64
		fastDone  = make(chan struct{})
		closeOnce sync.Once
		starved   atomic.Bool
	)
	done := e.dispatch(context.Background(), pending, func(ctx context.Context, p *repos.PendingRegradingSubmission, ep *exerciseservice.Endpoint) error {
		if ep.Service.Slug == "fast" {
			if fastSeen.Add(1) == 2 {
				closeOnce.Do(func() { close(fastDone) })
			}
			return nil
		}
		select {
		case <-fastDone:
		case <-time.After(5 * time.Second):
			starved.Store(true)
		}
		return nil
	})
	if done != 4 {
		t.Fatalf("done = %d, want 4", done)
	}
	if starved.Load() {
		t.Fatalf("fast service waited behind the slow one")
	}
}
