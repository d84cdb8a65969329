package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/domain/content"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email string) *types.User {
	tb.Helper()
	first, last := "Ada", "Lovelace"
	u := &types.User{
		ID:        uuid.New(),
		Email:     email,
		FirstName: &first,
		LastName:  &last,
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

// CourseFixture is an organization with one course, instance, default module and chapter.
type CourseFixture struct {
	Org      *types.Organization
	Course   *types.Course
	Instance *types.CourseInstance
	Module   *types.CourseModule
	Chapter  *types.Chapter
	Page     *types.Page
}

func SeedCourse(tb testing.TB, ctx context.Context, tx *gorm.DB) *CourseFixture {
	tb.Helper()
	suffix := uuid.NewString()[:8]
	org := &types.Organization{ID: uuid.New(), Slug: "org-" + suffix, Name: "Org " + suffix}
	group := &types.CourseLanguageGroup{ID: uuid.New()}
	course := &types.Course{
		ID:                    uuid.New(),
		OrganizationID:        org.ID,
		CourseLanguageGroupID: group.ID,
		Slug:                  "course-" + suffix,
		Name:                  "Course " + suffix,
		LanguageCode:          "en-US",
		PointsUpdateStrategy:  content.CanAddPointsButCannotRemovePoints,
	}
	inst := &types.CourseInstance{ID: uuid.New(), CourseID: course.ID}
	module := &types.CourseModule{ID: uuid.New(), CourseID: course.ID}
	chapter := &types.Chapter{ID: uuid.New(), CourseID: course.ID, CourseModuleID: module.ID, Name: "Chapter 1", ChapterNumber: 1}
	page := &types.Page{
		ID:        uuid.New(),
		CourseID:  &course.ID,
		ChapterID: &chapter.ID,
		URLPath:   "/chapter-1/page-" + suffix,
		Title:     "Page",
		Content:   datatypes.JSON([]byte("[]")),
	}
	for _, row := range []any{org, group, course, inst, module, chapter, page} {
		if err := tx.WithContext(ctx).Create(row).Error; err != nil {
			tb.Fatalf("seed course fixture %T: %v", row, err)
		}
	}
	return &CourseFixture{Org: org, Course: course, Instance: inst, Module: module, Chapter: chapter, Page: page}
}

// ExerciseFixture is one exercise with a single slide and task.
type ExerciseFixture struct {
	Exercise *types.Exercise
	Slide    *types.ExerciseSlide
	Task     *types.ExerciseTask
}

func SeedExercise(tb testing.TB, ctx context.Context, tx *gorm.DB, cf *CourseFixture, scoreMaximum int, exerciseType string) *ExerciseFixture {
	tb.Helper()
	ex := &types.Exercise{
		ID:           uuid.New(),
		CourseID:     &cf.Course.ID,
		PageID:       cf.Page.ID,
		ChapterID:    &cf.Chapter.ID,
		Name:         fmt.Sprintf("exercise-%d", scoreMaximum),
		ScoreMaximum: scoreMaximum,
	}
	slide := &types.ExerciseSlide{ID: uuid.New(), ExerciseID: ex.ID}
	task := &types.ExerciseTask{
		ID:              uuid.New(),
		ExerciseSlideID: slide.ID,
		ExerciseType:    exerciseType,
		Assignment:      datatypes.JSON([]byte("[]")),
		PrivateSpec:     datatypes.JSON([]byte(`{"answer":42}`)),
		PublicSpec:      datatypes.JSON([]byte(`{}`)),
	}
	for _, row := range []any{ex, slide, task} {
		if err := tx.WithContext(ctx).Create(row).Error; err != nil {
			tb.Fatalf("seed exercise fixture %T: %v", row, err)
		}
	}
	return &ExerciseFixture{Exercise: ex, Slide: slide, Task: task}
}

// AddTask appends another task of the same type to the fixture's slide.
func AddTask(tb testing.TB, ctx context.Context, tx *gorm.DB, ef *ExerciseFixture, privateSpec string) *types.ExerciseTask {
	tb.Helper()
	task := &types.ExerciseTask{
		ID:              uuid.New(),
		ExerciseSlideID: ef.Slide.ID,
		ExerciseType:    ef.Task.ExerciseType,
		Assignment:      datatypes.JSON([]byte("[]")),
		PrivateSpec:     datatypes.JSON([]byte(privateSpec)),
		PublicSpec:      datatypes.JSON([]byte(`{}`)),
		OrderNumber:     ef.Task.OrderNumber + 1,
	}
	if err := tx.WithContext(ctx).Create(task).Error; err != nil {
		tb.Fatalf("seed extra task: %v", err)
	}
	return task
}

func SeedExerciseService(tb testing.TB, ctx context.Context, tx *gorm.DB, slug, url string, maxReprocessing int) *types.ExerciseService {
	tb.Helper()
	svc := &types.ExerciseService{
		ID:                               uuid.New(),
		Name:                             slug,
		Slug:                             slug,
		PublicURL:                        url,
		MaxReprocessingSubmissionsAtOnce: maxReprocessing,
	}
	info := &types.ExerciseServiceInfo{
		ExerciseServiceID:             svc.ID,
		ServiceName:                   slug,
		UserInterfaceIframePath:       "/iframe",
		GradeEndpointPath:             "/grade",
		PublicSpecEndpointPath:        "/public-spec",
		ModelSolutionSpecEndpointPath: "/model-solution",
	}
	for _, row := range []any{svc, info} {
		if err := tx.WithContext(ctx).Create(row).Error; err != nil {
			tb.Fatalf("seed exercise service %T: %v", row, err)
		}
	}
	return svc
}
