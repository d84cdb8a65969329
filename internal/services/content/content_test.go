package content

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/datatypes"

	"github.com/yungbote/headless-lms/internal/data/repos"
	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	contentdomain "github.com/yungbote/headless-lms/internal/domain/content"
	"github.com/yungbote/headless-lms/internal/domain/exercise"
	"github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/services/exerciseservice"
)

type fakeRegistry struct{ resolves int }

func (r *fakeRegistry) Resolve(_ context.Context, exerciseType string) (*exerciseservice.Endpoint, error) {
	r.resolves++
	if exerciseType == "offline" {
		return nil, errors.New("connection refused")
	}
	return &exerciseservice.Endpoint{
		Service: types.ExerciseService{Slug: exerciseType, PublicURL: "https://" + exerciseType + ".example.com"},
		Info:    types.ExerciseServiceInfo{UserInterfaceIframePath: "/iframe"},
	}, nil
}

func (r *fakeRegistry) Refresh(context.Context) (int, error) { return 0, nil }

func (r *fakeRegistry) GenerateTaskSpecs(context.Context, *types.ExerciseTask) error { return nil }

type memCache struct {
	mu   sync.Mutex
	vals map[string][]byte
}

func (c *memCache) GetJSON(_ context.Context, key string, dst any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.vals[key]
	return ok && json.Unmarshal(b, dst) == nil
}

func (c *memCache) SetJSON(_ context.Context, key string, v any, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, _ := json.Marshal(v)
	c.vals[key] = b
}

func (c *memCache) Delete(_ context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.vals, k)
	}
}

func (c *memCache) Client() *goredis.Client { return nil }
func (c *memCache) Close() error            { return nil }

type contentFixture struct {
	svc      *service
	registry *fakeRegistry
	cache    *memCache
	set      repos.Set
	dbc      dbctx.Context
	course   *testutil.CourseFixture
	ex       *testutil.ExerciseFixture
	user     *types.User
}

func newContentFixture(t *testing.T) *contentFixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	ctx := context.Background()
	set := repos.NewSet(tx, log)
	cf := testutil.SeedCourse(t, ctx, tx)
	reg := &fakeRegistry{}
	cache := &memCache{vals: map[string][]byte{}}
	return &contentFixture{
		svc:      NewService(tx, log, set, reg, cache).(*service),
		registry: reg,
		cache:    cache,
		set:      set,
		dbc:      dbctx.Context{Ctx: ctx, Tx: tx},
		course:   cf,
		ex:       testutil.SeedExercise(t, ctx, tx, cf, 1, "quizzes"),
		user:     testutil.SeedUser(t, ctx, tx, "reader-"+uuid.NewString()[:8]+"@example.com"),
	}
}

// sameJSON compares documents semantically; jsonb output is reformatted.
func sameJSON(t *testing.T, got json.RawMessage, want string) bool {
	t.Helper()
	if len(got) == 0 {
		return false
	}
	var a, b any
	if err := json.Unmarshal(got, &a); err != nil {
		t.Fatalf("unmarshal %s: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &b); err != nil {
		t.Fatalf("unmarshal %s: %v", want, err)
	}
	return reflect.DeepEqual(a, b)
}

func (f *contentFixture) viewer() Viewer {
	return Viewer{UserID: f.user.ID, CourseInstanceID: &f.course.Instance.ID}
}

func TestGetCoursePageAnonymous(t *testing.T) {
	f := newContentFixture(t)
	second := &types.Exercise{ID: uuid.New(), CourseID: &f.course.Course.ID, PageID: f.course.Page.ID, Name: "second", OrderNumber: 2, ScoreMaximum: 1}
	if err := f.dbc.Tx.Create(second).Error; err != nil {
		t.Fatalf("create exercise: %v", err)
	}

	got, err := f.svc.GetCoursePage(context.Background(), f.course.Page.ID, Viewer{})
	if err != nil {
		t.Fatalf("GetCoursePage: %v", err)
	}
	if len(got.Exercises) != 2 || got.Exercises[0].Exercise.ID != f.ex.Exercise.ID || got.Exercises[1].Exercise.ID != second.ID {
		t.Fatalf("exercises = %+v", got.Exercises)
	}
	first := got.Exercises[0]
	if first.State != nil || first.Slide == nil || first.Slide.ID != f.ex.Slide.ID || len(first.Slide.Tasks) != 1 {
		t.Fatalf("first exercise = %+v", first)
	}
	task := first.Slide.Tasks[0]
	if task.Type() != exercise.TaskVariantBrowser || task.Browser.IframeURL != "https://quizzes.example.com/iframe" {
		t.Fatalf("task = %+v", task.Browser)
	}
	if task.Browser.PreviousData != nil || task.Browser.ModelSol != nil {
		t.Fatalf("anonymous reader must not see answers: %+v", task.Browser)
	}
	if got.Exercises[1].Slide != nil {
		t.Fatalf("exercise without slides must have no slide")
	}
}

func TestGetCoursePagePersonalized(t *testing.T) {
	f := newContentFixture(t)
	ctx := context.Background()
	other := &types.ExerciseSlide{ID: uuid.New(), ExerciseID: f.ex.Exercise.ID, OrderNumber: 1}
	otherTask := &types.ExerciseTask{
		ID:                uuid.New(),
		ExerciseSlideID:   other.ID,
		ExerciseType:      "quizzes",
		Assignment:        datatypes.JSON([]byte("[]")),
		PublicSpec:        datatypes.JSON([]byte(`{"options":2}`)),
		ModelSolutionSpec: datatypes.JSON([]byte(`{"correct":1}`)),
	}
	for _, row := range []any{other, otherTask} {
		if err := f.dbc.Tx.Create(row).Error; err != nil {
			t.Fatalf("create %T: %v", row, err)
		}
	}

	st, err := f.set.States.GetOrCreate(f.dbc, repos.StateKey{UserID: f.user.ID, ExerciseID: f.ex.Exercise.ID, CourseInstanceID: &f.course.Instance.ID})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	st.SelectedExerciseSlideID = &other.ID
	st.ActivityProgress = grading.ActivityCompleted
	if _, err := f.set.States.Update(f.dbc, st); err != nil {
		t.Fatalf("Update state: %v", err)
	}
	sub := &types.ExerciseSlideSubmission{
		ID:                       uuid.New(),
		ExerciseSlideID:          other.ID,
		ExerciseID:               f.ex.Exercise.ID,
		UserID:                   f.user.ID,
		CourseID:                 &f.course.Course.ID,
		CourseInstanceID:         &f.course.Instance.ID,
		UserPointsUpdateStrategy: contentdomain.CanAddPointsButCannotRemovePoints,
	}
	taskSub := &types.ExerciseTaskSubmission{
		ID:                        uuid.New(),
		ExerciseSlideSubmissionID: sub.ID,
		ExerciseTaskID:            otherTask.ID,
		ExerciseSlideID:           other.ID,
		DataJSON:                  datatypes.JSON([]byte(`{"choice":1}`)),
	}
	for _, row := range []any{sub, taskSub} {
		if err := f.dbc.Tx.Create(row).Error; err != nil {
			t.Fatalf("create %T: %v", row, err)
		}
	}

	got, err := f.svc.GetCoursePage(ctx, f.course.Page.ID, f.viewer())
	if err != nil {
		t.Fatalf("GetCoursePage: %v", err)
	}
	pe := got.Exercises[0]
	if pe.State == nil || pe.State.ID != st.ID {
		t.Fatalf("state = %+v", pe.State)
	}
	if pe.Slide == nil || pe.Slide.ID != other.ID || len(pe.Slide.Tasks) != 1 {
		t.Fatalf("selected slide = %+v", pe.Slide)
	}
	bt := pe.Slide.Tasks[0].Browser
	if !sameJSON(t, bt.PreviousData, `{"choice":1}`) || !sameJSON(t, bt.ModelSol, `{"correct":1}`) {
		t.Fatalf("browser task = %+v", bt)
	}
}

func TestGetCoursePageToleratesOfflineService(t *testing.T) {
	f := newContentFixture(t)
	if err := f.dbc.Tx.Model(f.ex.Task).Update("exercise_type", "offline").Error; err != nil {
		t.Fatalf("update task: %v", err)
	}
	got, err := f.svc.GetCoursePage(context.Background(), f.course.Page.ID, f.viewer())
	if err != nil {
		t.Fatalf("GetCoursePage: %v", err)
	}
	if url := got.Exercises[0].Slide.Tasks[0].Browser.IframeURL; url != "" {
		t.Fatalf("iframe url = %q", url)
	}
}

func TestGetCoursePageByPathUsesCache(t *testing.T) {
	f := newContentFixture(t)
	ctx := context.Background()
	page := f.course.Page

	if _, err := f.svc.GetCoursePageByPath(ctx, f.course.Course.ID, page.URLPath, Viewer{}); err != nil {
		t.Fatalf("GetCoursePageByPath: %v", err)
	}
	if _, ok := f.cache.vals[pathKey(f.course.Course.ID, page.URLPath)]; !ok {
		t.Fatalf("page id was not cached")
	}
	if _, err := f.svc.GetCoursePageByPath(ctx, f.course.Course.ID, "/nowhere", Viewer{}); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("unknown path err = %v", err)
	}

	if _, err := f.svc.SavePage(ctx, page.ID, "Renamed", datatypes.JSON([]byte(`[{"type":"paragraph"}]`)), f.user.ID); err != nil {
		t.Fatalf("SavePage: %v", err)
	}
	if _, ok := f.cache.vals[pathKey(f.course.Course.ID, page.URLPath)]; ok {
		t.Fatalf("saving a page must drop its cached path")
	}
}

func TestSavePageValidatesInput(t *testing.T) {
	f := newContentFixture(t)
	ctx := context.Background()
	if _, err := f.svc.SavePage(ctx, f.course.Page.ID, "", datatypes.JSON([]byte("[]")), f.user.ID); !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("empty title err = %v", err)
	}
	if _, err := f.svc.SavePage(ctx, f.course.Page.ID, "Title", datatypes.JSON([]byte("{")), f.user.ID); !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("broken body err = %v", err)
	}
}

func TestEditorTasksExposePrivateSpec(t *testing.T) {
	f := newContentFixture(t)
	tasks, err := f.svc.EditorTasks(context.Background(), f.ex.Slide.ID)
	if err != nil {
		t.Fatalf("EditorTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Type() != exercise.TaskVariantEditor || !sameJSON(t, tasks[0].Editor.PrivateSpec, `{"answer":42}`) {
		t.Fatalf("editor tasks = %+v", tasks)
	}
	b, err := json.Marshal(tasks[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil || head.Type != "editor" {
		t.Fatalf("wire type = %q, %v", head.Type, err)
	}
}
