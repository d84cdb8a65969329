package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/headless-lms/internal/data/repos"
	gradingdomain "github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/domain/user"
	"github.com/yungbote/headless-lms/internal/http/response"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/services/access"
	"github.com/yungbote/headless-lms/internal/services/grading"
	"github.com/yungbote/headless-lms/internal/services/peerreview"
	"github.com/yungbote/headless-lms/internal/services/regrading"
)

type ExerciseHandlerDeps struct {
	Pipeline   grading.Pipeline
	States     grading.StateService
	PeerReview peerreview.Service
	Regrading  regrading.Engine
	Access     access.Service
	Repos      repos.Set
}

// ExerciseHandler covers answering exercises, reviewing peers and the
// teacher side of grading.
type ExerciseHandler struct {
	pipeline   grading.Pipeline
	states     grading.StateService
	peerReview peerreview.Service
	regrading  regrading.Engine
	access     access.Service
	repos      repos.Set
}

func NewExerciseHandlerWithDeps(deps ExerciseHandlerDeps) *ExerciseHandler {
	return &ExerciseHandler{
		pipeline:   deps.Pipeline,
		states:     deps.States,
		peerReview: deps.PeerReview,
		regrading:  deps.Regrading,
		access:     deps.Access,
		repos:      deps.Repos,
	}
}

// POST /course-material/exercises/:exercise_id/submissions?course_instance_id=|exam_id=
// body: grading.NewSlideSubmission
func (h *ExerciseHandler) Submit(c *gin.Context) {
	exerciseID, err := uuidParam(c, "exercise_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	v, err := viewerFrom(c)
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	if (v.CourseInstanceID == nil) == (v.ExamID == nil) {
		response.BadRequest(c, errors.New("exactly one of course_instance_id or exam_id is required"))
		return
	}
	var in grading.NewSlideSubmission
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	sc := grading.SubmissionContext{CourseInstanceID: v.CourseInstanceID, ExamID: v.ExamID}
	res, err := h.pipeline.Submit(c.Request.Context(), v.UserID, exerciseID, in, sc)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /course-material/exercises/:exercise_id/peer-review?course_instance_id=
func (h *ExerciseHandler) PeerReviewOffer(c *gin.Context) {
	exerciseID, err := uuidParam(c, "exercise_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	instanceID, err := optionalUUIDQuery(c, "course_instance_id")
	if err != nil || instanceID == nil {
		response.BadRequest(c, errors.New("course_instance_id is required"))
		return
	}
	offer, err := h.peerReview.Offer(c.Request.Context(), currentUser(c), exerciseID, *instanceID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"offer": offer})
}

// POST /course-material/peer-reviews
// body: peerreview.NewReview
func (h *ExerciseHandler) SubmitPeerReview(c *gin.Context) {
	var in peerreview.NewReview
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	sub, err := h.peerReview.Submit(c.Request.Context(), currentUser(c), in)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondCreated(c, sub)
}

// POST /course-material/flagged-answers
// body: peerreview.NewFlag
func (h *ExerciseHandler) FlagAnswer(c *gin.Context) {
	var in peerreview.NewFlag
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	flag, err := h.peerReview.Flag(c.Request.Context(), currentUser(c), in)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondCreated(c, flag)
}

// POST /teacher/user-exercise-states/:state_id/decision
// body: { "decision": "FullPoints" | "ZeroPoints" | "CustomPoints" | "SuspectedPlagiarism", "manual_points": 1.5 }
func (h *ExerciseHandler) TeacherDecision(c *gin.Context) {
	stateID, err := uuidParam(c, "state_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	var req struct {
		Decision     gradingdomain.TeacherDecisionType `json:"decision"`
		ManualPoints *float64                          `json:"manual_points"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	uid := currentUser(c)
	if err := h.access.RequireUserExerciseState(ctx, uid, stateID, user.RoleTeacher, user.RoleAssistant); err != nil {
		response.RespondError(c, err)
		return
	}
	st, err := h.states.ApplyTeacherDecision(ctx, grading.TeacherDecisionInput{
		UserExerciseStateID: stateID,
		Decision:            req.Decision,
		ManualPoints:        req.ManualPoints,
		TeacherID:           uid,
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, st)
}

// POST /teacher/regradings
// body: regrading.NewRegrading
func (h *ExerciseHandler) CreateRegrading(c *gin.Context) {
	var in regrading.NewRegrading
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	uid := currentUser(c)
	if err := h.requireTeacherOfSubmissions(c, in.TaskSubmissionIDs); err != nil {
		response.RespondError(c, err)
		return
	}
	in.CreatedBy = &uid
	rg, err := h.regrading.Create(ctx, in)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rg)
}

// requireTeacherOfSubmissions checks the caller may regrade every exercise
// the task submissions belong to.
func (h *ExerciseHandler) requireTeacherOfSubmissions(c *gin.Context, ids []uuid.UUID) error {
	ctx := c.Request.Context()
	dbc := dbctx.Context{Ctx: ctx}
	checked := map[uuid.UUID]bool{}
	for _, id := range ids {
		ts, err := h.repos.Submissions.GetTaskSubmission(dbc, id)
		if err != nil {
			return err
		}
		slide, err := h.repos.Exercises.GetSlide(dbc, ts.ExerciseSlideID)
		if err != nil {
			return err
		}
		if checked[slide.ExerciseID] {
			continue
		}
		if err := h.access.RequireExercise(ctx, currentUser(c), slide.ExerciseID, user.RoleTeacher); err != nil {
			return err
		}
		checked[slide.ExerciseID] = true
	}
	return nil
}
