package completion

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/headless-lms/internal/data/repos"
	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
)

func intp(v int) *int { return &v }

func TestEligible(t *testing.T) {
	cases := []struct {
		name    string
		module  types.CourseModule
		metrics Metrics
		want    bool
	}{
		{name: "automatic disabled", module: types.CourseModule{CompletionPointsThreshold: intp(1)}, metrics: Metrics{ScoreGiven: 5}, want: false},
		{name: "no thresholds", module: types.CourseModule{AutomaticCompletion: true}, metrics: Metrics{ScoreGiven: 5, AttemptedExercises: 5}, want: false},
		{name: "points met", module: types.CourseModule{AutomaticCompletion: true, CompletionPointsThreshold: intp(10)}, metrics: Metrics{ScoreGiven: 11}, want: true},
		{name: "points missed", module: types.CourseModule{AutomaticCompletion: true, CompletionPointsThreshold: intp(10)}, metrics: Metrics{ScoreGiven: 9}, want: false},
		{name: "attempts met", module: types.CourseModule{AutomaticCompletion: true, CompletionNumberOfExercisesAttemptedThreshold: intp(2)}, metrics: Metrics{AttemptedExercises: 2}, want: true},
		{
			name:    "both required",
			module:  types.CourseModule{AutomaticCompletion: true, CompletionPointsThreshold: intp(10), CompletionNumberOfExercisesAttemptedThreshold: intp(3)},
			metrics: Metrics{ScoreGiven: 12, AttemptedExercises: 2},
			want:    false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Eligible(&tc.module, tc.metrics); got != tc.want {
				t.Fatalf("Eligible = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	six, five := 6.0, 5.0
	got := Summarize([]types.UserExerciseState{
		{ScoreGiven: &six, ActivityProgress: gradingdomain.ActivityCompleted},
		{ScoreGiven: &five, ActivityProgress: gradingdomain.ActivityCompleted},
		{ActivityProgress: gradingdomain.ActivityInitialized},
	})
	if got.ScoreGiven != 11 || got.AttemptedExercises != 2 {
		t.Fatalf("Summarize = %+v", got)
	}
}

type completionFixture struct {
	svc    CompletionService
	set    repos.Set
	dbc    dbctx.Context
	course *testutil.CourseFixture
	states []*types.UserExerciseState
	userID uuid.UUID
}

func newCompletionFixture(t *testing.T, scores ...float64) *completionFixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	cf := testutil.SeedCourse(t, ctx, tx)
	u := testutil.SeedUser(t, ctx, tx, "completion-"+uuid.NewString()[:8]+"@example.com")
	set := repos.NewSet(tx, log)
	if _, err := set.Structure.UpdateModuleCompletionPolicy(dbc, cf.Module.ID, true, intp(10), nil); err != nil {
		t.Fatalf("UpdateModuleCompletionPolicy: %v", err)
	}

	f := &completionFixture{svc: NewCompletionService(tx, log, set), set: set, dbc: dbc, course: cf, userID: u.ID}
	for _, score := range scores {
		ef := testutil.SeedExercise(t, ctx, tx, cf, 6, "quiz")
		st, err := set.States.GetOrCreate(dbc, repos.StateKey{UserID: u.ID, ExerciseID: ef.Exercise.ID, CourseInstanceID: &cf.Instance.ID})
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		f.setScore(t, st, score)
		f.states = append(f.states, st)
	}
	return f
}

func (f *completionFixture) setScore(t *testing.T, st *types.UserExerciseState, score float64) {
	t.Helper()
	st.ScoreGiven = &score
	st.ActivityProgress = gradingdomain.ActivityCompleted
	st.GradingProgress = gradingdomain.GradingFullyGraded
	if _, err := f.set.States.Update(f.dbc, st); err != nil {
		t.Fatalf("Update state: %v", err)
	}
}

func TestCompletionFollowsThresholdAcrossRegrading(t *testing.T) {
	f := newCompletionFixture(t, 6, 5)

	c, err := f.svc.EvaluateModule(f.dbc, f.userID, f.course.Module.ID, f.course.Instance.ID)
	if err != nil {
		t.Fatalf("EvaluateModule: %v", err)
	}
	if c == nil || !c.Passed || c.IsManual() {
		t.Fatalf("completion = %+v", c)
	}

	f.setScore(t, f.states[1], 3)
	c, err = f.svc.EvaluateModule(f.dbc, f.userID, f.course.Module.ID, f.course.Instance.ID)
	if err != nil {
		t.Fatalf("EvaluateModule after regrading: %v", err)
	}
	if c == nil || c.Passed {
		t.Fatalf("completion after drop = %+v", c)
	}

	f.setScore(t, f.states[1], 6)
	ex, err := f.set.Exercises.GetByID(f.dbc, f.states[1].ExerciseID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if err := f.svc.EvaluateForExercise(f.dbc, f.userID, ex, f.course.Instance.ID); err != nil {
		t.Fatalf("EvaluateForExercise: %v", err)
	}
	c, err = f.set.Completions.Get(f.dbc, f.userID, f.course.Module.ID, f.course.Instance.ID)
	if err != nil || !c.Passed {
		t.Fatalf("completion after recovery = %+v err=%v", c, err)
	}
}

func TestBelowThresholdCreatesNothing(t *testing.T) {
	f := newCompletionFixture(t, 6, 3)
	c, err := f.svc.EvaluateModule(f.dbc, f.userID, f.course.Module.ID, f.course.Instance.ID)
	if err != nil || c != nil {
		t.Fatalf("completion = %+v err=%v", c, err)
	}
	_, err = f.set.Completions.Get(f.dbc, f.userID, f.course.Module.ID, f.course.Instance.ID)
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("Get err = %v", err)
	}
}

func TestManualCompletionIsNotTouched(t *testing.T) {
	f := newCompletionFixture(t, 1)
	teacher := testutil.SeedUser(t, context.Background(), f.dbc.Tx, "teacher-"+uuid.NewString()[:8]+"@example.com")

	manual, err := f.svc.GrantManual(context.Background(), ManualCompletion{
		UserID:           f.userID,
		CourseModuleID:   f.course.Module.ID,
		CourseInstanceID: f.course.Instance.ID,
		Passed:           true,
		Grade:            intp(4),
		TeacherID:        teacher.ID,
	})
	if err != nil {
		t.Fatalf("GrantManual: %v", err)
	}
	c, err := f.svc.EvaluateModule(f.dbc, f.userID, f.course.Module.ID, f.course.Instance.ID)
	if err != nil {
		t.Fatalf("EvaluateModule: %v", err)
	}
	if c.ID != manual.ID || !c.Passed || !c.IsManual() {
		t.Fatalf("manual completion changed: %+v", c)
	}

	_, err = f.svc.GrantManual(context.Background(), ManualCompletion{UserID: f.userID, TeacherID: teacher.ID})
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("incomplete manual completion err = %v", err)
	}
}

func TestManualCompletionReplacesAutomaticOne(t *testing.T) {
	f := newCompletionFixture(t, 6, 5)
	auto, err := f.svc.EvaluateModule(f.dbc, f.userID, f.course.Module.ID, f.course.Instance.ID)
	if err != nil || auto == nil || auto.IsManual() {
		t.Fatalf("automatic completion = %+v, %v", auto, err)
	}
	teacher := testutil.SeedUser(t, context.Background(), f.dbc.Tx, "teacher-"+uuid.NewString()[:8]+"@example.com")

	manual, err := f.svc.GrantManual(context.Background(), ManualCompletion{
		UserID:           f.userID,
		CourseModuleID:   f.course.Module.ID,
		CourseInstanceID: f.course.Instance.ID,
		Passed:           true,
		TeacherID:        teacher.ID,
	})
	if err != nil {
		t.Fatalf("GrantManual: %v", err)
	}
	if manual.ID == auto.ID || !manual.IsManual() {
		t.Fatalf("manual completion = %+v", manual)
	}
	if _, err := f.set.Completions.GetByID(f.dbc, auto.ID); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("automatic completion must be deleted, got %v", err)
	}
	live, err := f.set.Completions.Get(f.dbc, f.userID, f.course.Module.ID, f.course.Instance.ID)
	if err != nil || live.ID != manual.ID {
		t.Fatalf("live completion = %+v, %v", live, err)
	}
}
