package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/headless-lms/internal/domain/user"
	"github.com/yungbote/headless-lms/internal/http/response"
	"github.com/yungbote/headless-lms/internal/services/access"
	"github.com/yungbote/headless-lms/internal/services/visits"
)

// maxStatsRange bounds one course statistics query.
const maxStatsRange = 366 * 24 * time.Hour

type StatsHandler struct {
	visits visits.VisitService
	access access.Service
}

func NewStatsHandler(v visits.VisitService, acc access.Service) *StatsHandler {
	return &StatsHandler{visits: v, access: acc}
}

// POST /course-material/page-visits
// body: visits.NewVisit
func (h *StatsHandler) RecordVisit(c *gin.Context) {
	var in visits.NewVisit
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	in.UserAgent = c.Request.UserAgent()
	in.IPAddress = c.ClientIP()
	if _, err := h.visits.Record(c.Request.Context(), in); err != nil {
		response.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /teacher/courses/:course_id/visit-stats?from=2024-01-01&to=2024-02-01
func (h *StatsHandler) CourseStats(c *gin.Context) {
	courseID, err := uuidParam(c, "course_id")
	if err != nil {
		response.BadRequest(c, err)
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if raw := c.Query("from"); raw != "" {
		if from, err = parseDay(raw); err != nil {
			response.BadRequest(c, err)
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = parseDay(raw); err != nil {
			response.BadRequest(c, err)
			return
		}
	}
	if !from.Before(to) || to.Sub(from) > maxStatsRange {
		response.BadRequest(c, errors.New("from must be before to and the range at most a year"))
		return
	}
	ctx := c.Request.Context()
	if err := h.access.RequireCourse(ctx, currentUser(c), courseID, user.RoleTeacher, user.RoleAssistant); err != nil {
		response.RespondError(c, err)
		return
	}
	stats, err := h.visits.CourseStats(ctx, courseID, from, to)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, stats)
}

// parseDay accepts a date or an RFC 3339 timestamp.
func parseDay(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
