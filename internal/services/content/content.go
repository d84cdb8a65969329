package content

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/domain/exercise"
	"github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/redis"
	"github.com/yungbote/headless-lms/internal/services/exerciseservice"
)

const pageCacheTTL = time.Minute

// Viewer identifies who is reading a page. A zero UserID is an anonymous
// reader and gets no personalization.
type Viewer struct {
	UserID           uuid.UUID
	CourseInstanceID *uuid.UUID
	ExamID           *uuid.UUID
}

type CoursePage struct {
	Page      types.Page     `json:"page"`
	Exercises []PageExercise `json:"exercises"`
}

type PageExercise struct {
	Exercise types.Exercise           `json:"exercise"`
	Slide    *SlideView               `json:"current_exercise_slide,omitempty"`
	State    *types.UserExerciseState `json:"user_exercise_state,omitempty"`
}

type SlideView struct {
	ID          uuid.UUID              `json:"id"`
	OrderNumber int                    `json:"order_number"`
	Tasks       []exercise.TaskVariant `json:"exercise_tasks"`
}

type Service interface {
	GetCoursePage(ctx context.Context, pageID uuid.UUID, v Viewer) (*CoursePage, error)
	GetCoursePageByPath(ctx context.Context, courseID uuid.UUID, urlPath string, v Viewer) (*CoursePage, error)
	// EditorTasks returns a slide's tasks as teachers see them in the editor.
	EditorTasks(ctx context.Context, slideID uuid.UUID) ([]exercise.TaskVariant, error)
	SavePage(ctx context.Context, pageID uuid.UUID, title string, body datatypes.JSON, authorID uuid.UUID) (*types.Page, error)
	RestorePage(ctx context.Context, historyID, authorID uuid.UUID) (*types.Page, error)
}

type service struct {
	db       *gorm.DB
	log      *logger.Logger
	repos    repos.Set
	runner   aggregates.TxRunner
	registry exerciseservice.Registry
	cache    redis.Cache
}

func NewService(db *gorm.DB, baseLog *logger.Logger, r repos.Set, registry exerciseservice.Registry, cache redis.Cache) Service {
	if cache == nil {
		cache = redis.Nop{}
	}
	return &service{
		db:       db,
		log:      baseLog.With("service", "ContentService"),
		repos:    r,
		runner:   aggregates.NewGormTxRunner(db),
		registry: registry,
		cache:    cache,
	}
}

func pathKey(courseID uuid.UUID, urlPath string) string {
	return "page_path:" + courseID.String() + ":" + urlPath
}

func (s *service) GetCoursePageByPath(ctx context.Context, courseID uuid.UUID, urlPath string, v Viewer) (*CoursePage, error) {
	key := pathKey(courseID, urlPath)
	var pageID uuid.UUID
	hit := s.cache.GetJSON(ctx, key, &pageID)
	observability.Current().IncCacheLookup("page_path", hit)
	if !hit {
		p, err := s.repos.Pages.GetByPath(s.read(ctx), courseID, urlPath)
		if err != nil {
			return nil, err
		}
		pageID = p.ID
		s.cache.SetJSON(ctx, key, pageID, pageCacheTTL)
	}
	return s.GetCoursePage(ctx, pageID, v)
}

func (s *service) GetCoursePage(ctx context.Context, pageID uuid.UUID, v Viewer) (*CoursePage, error) {
	ctx, span := observability.StartSpan(ctx, "content.get_course_page")
	defer span.End()

	dbc := s.read(ctx)
	page, err := s.repos.Pages.GetByID(dbc, pageID)
	if err != nil {
		return nil, err
	}
	exercises, err := s.repos.Exercises.ListByPage(dbc, pageID)
	if err != nil {
		return nil, err
	}

	out := &CoursePage{Page: *page, Exercises: make([]PageExercise, 0, len(exercises))}
	endpoints := map[string]*exerciseservice.Endpoint{}
	for _, ex := range exercises {
		pe := PageExercise{Exercise: ex}
		if v.UserID != uuid.Nil && (v.CourseInstanceID != nil || v.ExamID != nil) {
			st, err := s.repos.States.Get(dbc, repos.StateKey{
				UserID:           v.UserID,
				ExerciseID:       ex.ID,
				CourseInstanceID: v.CourseInstanceID,
				ExamID:           v.ExamID,
			})
			switch {
			case err == nil:
				pe.State = st
			case !domainagg.IsCode(err, domainagg.CodeNotFound):
				return nil, err
			}
		}
		slide, err := s.selectSlide(dbc, ex.ID, pe.State)
		if err != nil {
			return nil, err
		}
		if slide != nil {
			view, err := s.browserSlide(ctx, dbc, ex, *slide, v, pe.State, endpoints)
			if err != nil {
				return nil, err
			}
			pe.Slide = view
		}
		out.Exercises = append(out.Exercises, pe)
	}
	return out, nil
}

// selectSlide picks the user's selected slide when it still exists, else the first one.
func (s *service) selectSlide(dbc dbctx.Context, exerciseID uuid.UUID, st *types.UserExerciseState) (*types.ExerciseSlide, error) {
	slides, err := s.repos.Exercises.ListSlides(dbc, exerciseID)
	if err != nil || len(slides) == 0 {
		return nil, err
	}
	if st != nil && st.SelectedExerciseSlideID != nil {
		for i := range slides {
			if slides[i].ID == *st.SelectedExerciseSlideID {
				return &slides[i], nil
			}
		}
	}
	return &slides[0], nil
}

func (s *service) browserSlide(ctx context.Context, dbc dbctx.Context, ex types.Exercise, slide types.ExerciseSlide, v Viewer, st *types.UserExerciseState, endpoints map[string]*exerciseservice.Endpoint) (*SlideView, error) {
	tasks, err := s.repos.Exercises.ListTasksBySlide(dbc, slide.ID)
	if err != nil {
		return nil, err
	}
	previous, err := s.previousAnswers(dbc, ex, slide.ID, v)
	if err != nil {
		return nil, err
	}
	completed := st != nil && st.ActivityProgress == grading.ActivityCompleted

	view := &SlideView{ID: slide.ID, OrderNumber: slide.OrderNumber, Tasks: make([]exercise.TaskVariant, 0, len(tasks))}
	for _, t := range tasks {
		bt := &exercise.BrowserTask{
			TaskID:       t.ID,
			ExerciseType: t.ExerciseType,
			IframeURL:    s.iframeURL(ctx, t.ExerciseType, endpoints),
			Assignment:   json.RawMessage(t.Assignment),
			PublicSpec:   json.RawMessage(t.PublicSpec),
		}
		if prev, ok := previous[t.ID]; ok {
			bt.PreviousData = prev.data
			bt.Grading = prev.grading
		}
		if completed && len(t.ModelSolutionSpec) > 0 {
			bt.ModelSol = json.RawMessage(t.ModelSolutionSpec)
		}
		view.Tasks = append(view.Tasks, exercise.TaskVariant{Browser: bt})
	}
	return view, nil
}

// iframeURL is best effort; an unreachable service leaves the URL empty.
func (s *service) iframeURL(ctx context.Context, exerciseType string, endpoints map[string]*exerciseservice.Endpoint) string {
	ep, seen := endpoints[exerciseType]
	if !seen {
		var err error
		ep, err = s.registry.Resolve(ctx, exerciseType)
		if err != nil {
			s.log.Warn("exercise service unavailable for page", "exercise_type", exerciseType, "error", err)
			ep = nil
		}
		endpoints[exerciseType] = ep
	}
	if ep == nil {
		return ""
	}
	return ep.IframeURL()
}

type previousAnswer struct {
	data    json.RawMessage
	grading json.RawMessage
}

// previousAnswers returns the task answers of the user's latest submission to the slide.
func (s *service) previousAnswers(dbc dbctx.Context, ex types.Exercise, slideID uuid.UUID, v Viewer) (map[uuid.UUID]previousAnswer, error) {
	if v.UserID == uuid.Nil {
		return nil, nil
	}
	latest, err := s.repos.Submissions.LatestSlideSubmission(dbc, v.UserID, ex.ID, v.CourseInstanceID, v.ExamID)
	if domainagg.IsCode(err, domainagg.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if latest.ExerciseSlideID != slideID {
		return nil, nil
	}
	subs, err := s.repos.Submissions.ListTaskSubmissions(dbc, latest.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]previousAnswer, len(subs))
	for _, ts := range subs {
		prev := previousAnswer{data: json.RawMessage(ts.DataJSON)}
		if ts.ExerciseTaskGradingID != nil {
			g, err := s.repos.Gradings.GetByID(dbc, *ts.ExerciseTaskGradingID)
			if err != nil {
				return nil, err
			}
			if prev.grading, err = json.Marshal(g); err != nil {
				return nil, err
			}
		}
		out[ts.ExerciseTaskID] = prev
	}
	return out, nil
}

func (s *service) EditorTasks(ctx context.Context, slideID uuid.UUID) ([]exercise.TaskVariant, error) {
	dbc := s.read(ctx)
	slide, err := s.repos.Exercises.GetSlide(dbc, slideID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.repos.Exercises.ListTasksBySlide(dbc, slide.ID)
	if err != nil {
		return nil, err
	}
	endpoints := map[string]*exerciseservice.Endpoint{}
	out := make([]exercise.TaskVariant, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, exercise.TaskVariant{Editor: &exercise.EditorTask{
			TaskID:            t.ID,
			ExerciseType:      t.ExerciseType,
			IframeURL:         s.iframeURL(ctx, t.ExerciseType, endpoints),
			Assignment:        json.RawMessage(t.Assignment),
			PrivateSpec:       json.RawMessage(t.PrivateSpec),
			ModelSolutionSpec: json.RawMessage(t.ModelSolutionSpec),
		}})
	}
	return out, nil
}

func (s *service) SavePage(ctx context.Context, pageID uuid.UUID, title string, body datatypes.JSON, authorID uuid.UUID) (*types.Page, error) {
	const op = "ContentService.SavePage"
	if title == "" {
		return nil, domainagg.Invalid(op, "title is required")
	}
	if !json.Valid(body) {
		return nil, domainagg.Invalid(op, "content must be valid JSON")
	}
	var page *types.Page
	err := aggregates.ExecuteWrite(ctx, s.deps(), op, func(dbc dbctx.Context) error {
		var err error
		page, err = s.repos.Pages.UpdateContent(dbc, pageID, title, body, authorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.forget(ctx, page)
	return page, nil
}

func (s *service) RestorePage(ctx context.Context, historyID, authorID uuid.UUID) (*types.Page, error) {
	var page *types.Page
	err := aggregates.ExecuteWrite(ctx, s.deps(), "ContentService.RestorePage", func(dbc dbctx.Context) error {
		var err error
		page, err = s.repos.Pages.Restore(dbc, historyID, authorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.forget(ctx, page)
	return page, nil
}

func (s *service) forget(ctx context.Context, p *types.Page) {
	if p.CourseID != nil {
		s.cache.Delete(ctx, pathKey(*p.CourseID, p.URLPath))
	}
}

func (s *service) read(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx, Tx: s.db.WithContext(ctx)}
}

func (s *service) deps() aggregates.BaseDeps {
	return aggregates.BaseDeps{DB: s.db, Log: s.log, Runner: s.runner}
}
