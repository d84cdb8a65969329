package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/platform/apierr"
	"github.com/yungbote/headless-lms/internal/platform/ctxutil"
)

type APIError struct {
	ErrorType     string `json:"error_type"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

var statusByCode = map[domainagg.ErrorCode]int{
	domainagg.CodeValidation:         http.StatusBadRequest,
	domainagg.CodeNotFound:           http.StatusNotFound,
	domainagg.CodeConflict:           http.StatusConflict,
	domainagg.CodeDatabaseConstraint: http.StatusConflict,
	domainagg.CodeInvariantViolation: http.StatusConflict,
	domainagg.CodePreconditionFailed: http.StatusUnprocessableEntity,
	domainagg.CodeUnauthorized:       http.StatusUnauthorized,
	domainagg.CodeForbidden:          http.StatusForbidden,
	domainagg.CodeRetryable:          http.StatusServiceUnavailable,
	domainagg.CodeInternal:           http.StatusInternalServerError,
}

// Classify maps an error to its HTTP status and stable error type.
func Classify(err error) (int, string) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		status := ae.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := ae.Code
		if code == "" {
			code = "invalid_request"
		}
		return status, code
	}
	code := domainagg.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		return http.StatusInternalServerError, string(domainagg.CodeInternal)
	}
	return status, string(code)
}

// RespondError writes the error envelope. Server errors only expose the
// request's correlation id; the cause is attached to the gin context for the
// request logger.
func RespondError(c *gin.Context, err error) {
	status, errType := Classify(err)
	body := APIError{ErrorType: errType, Message: messageOf(err)}
	if status >= http.StatusInternalServerError {
		body.Message = http.StatusText(status)
		body.CorrelationID = ctxutil.RequestID(c.Request.Context())
	}
	if err != nil {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: body})
}

// BadRequest reports a malformed request body or parameter.
func BadRequest(c *gin.Context, err error) {
	RespondError(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
}

func messageOf(err error) string {
	if err == nil {
		return "unknown error"
	}
	var de *domainagg.Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}
