package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/http/response"
	"github.com/yungbote/headless-lms/internal/observability"
)

func TestTraceContextLabelsServerSpan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	r := gin.New()
	r.Use(otelgin.Middleware("test", otelgin.WithTracerProvider(tp)))
	r.Use(AttachTraceContext())
	r.GET("/courses/:course_id/exercises/:exercise_id", func(c *gin.Context) {
		response.RespondError(c, domainagg.Precondition("Test.Handler", "answer the exercise first"))
	})

	req := httptest.NewRequest(http.MethodGet, "/courses/c-1/exercises/e-1", nil)
	req.Header.Set(headerRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get(headerRequestID) != "req-1" || w.Header().Get(headerTraceID) == "" {
		t.Fatalf("headers = %v", w.Header())
	}
	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d", len(spans))
	}
	got := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes() {
		got[kv.Key] = kv.Value.Emit()
	}
	want := map[attribute.Key]string{
		observability.AttrCourseID:   "c-1",
		observability.AttrExerciseID: "e-1",
		observability.AttrErrorCode:  string(domainagg.CodePreconditionFailed),
		"lms.request_id":             "req-1",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("attribute %s = %q, want %q (all %v)", k, got[k], v, got)
		}
	}
}
