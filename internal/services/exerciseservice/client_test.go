package exerciseservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/platform/httpx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

func TestGradePostsSpecAndSubmission(t *testing.T) {
	var got GradeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"grading_progress":"FullyGraded","score_given":3,"score_maximum":4,"feedback_text":"ok","set_user_variables":{"seen":true}}`))
	}))
	defer srv.Close()

	c := NewClient(logger.Nop(), ClientConfig{})
	res, err := c.Grade(context.Background(), "quizzes", srv.URL+"/grade", GradeRequest{
		ExerciseSpec:   json.RawMessage(`{"answer":42}`),
		SubmissionData: json.RawMessage(`{"answer":41}`),
	})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if string(got.ExerciseSpec) != `{"answer":42}` || string(got.SubmissionData) != `{"answer":41}` {
		t.Fatalf("unexpected request %+v", got)
	}
	if res.GradingProgress != grading.GradingFullyGraded || res.ScoreGiven != 3 || res.ScoreMaximum != 4 {
		t.Fatalf("unexpected response %+v", res)
	}
	if string(res.SetUserVariables["seen"]) != "true" {
		t.Fatalf("missing user variable: %+v", res.SetUserVariables)
	}
}

func TestGradeErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		malformed bool
	}{
		{name: "server error", status: 500, body: `oops`},
		{name: "bad json", status: 200, body: `{"grading_progress":`, malformed: true},
		{name: "unknown progress", status: 200, body: `{"grading_progress":"Done","score_given":1,"score_maximum":1}`, malformed: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(logger.Nop(), ClientConfig{})
			_, err := c.Grade(context.Background(), "quizzes", srv.URL, GradeRequest{})
			if err == nil {
				t.Fatalf("expected error")
			}
			if errors.Is(err, ErrMalformedResponse) != tc.malformed {
				t.Fatalf("malformed = %v, err = %v", !tc.malformed, err)
			}
			var se *httpx.StatusError
			if !tc.malformed && (!errors.As(err, &se) || se.Status != tc.status) {
				t.Fatalf("expected status error, got %v", err)
			}
		})
	}
}

func TestGradeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(logger.Nop(), ClientConfig{Timeout: 50 * time.Millisecond})
	if _, err := c.Grade(context.Background(), "slow", srv.URL, GradeRequest{}); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestBreakerOpensPerService(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(logger.Nop(), ClientConfig{BreakerMinRequests: 2, BreakerFailRatio: 0.5, BreakerOpenFor: time.Minute})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.Grade(ctx, "flaky", srv.URL, GradeRequest{}); err == nil {
			t.Fatalf("expected failure")
		}
	}
	_, err := c.Grade(ctx, "flaky", srv.URL, GradeRequest{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("open breaker should not reach the server, calls = %d", calls.Load())
	}

	// Another service keeps its own breaker.
	if _, err := c.Grade(ctx, "other", srv.URL, GradeRequest{}); errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("breaker leaked across services")
	}
}

func TestMalformedResponsesDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewClient(logger.Nop(), ClientConfig{BreakerMinRequests: 1, BreakerFailRatio: 0.1})
	for i := 0; i < 3; i++ {
		_, err := c.Grade(context.Background(), "sloppy", srv.URL, GradeRequest{})
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("attempt %d: expected malformed response, got %v", i, err)
		}
	}
}

func TestFetchInfoAndGenerateSpec(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"service_name":"Quizzes","user_interface_iframe_path":"/iframe","grade_endpoint_path":"/grade","public_spec_endpoint_path":"/public","model_solution_spec_endpoint_path":"/model","has_custom_view":true}`))
	})
	mux.HandleFunc("/public", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]any{"options": in["options"]})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(logger.Nop(), ClientConfig{})
	info, err := c.FetchInfo(context.Background(), "quizzes", srv.URL+"/info")
	if err != nil {
		t.Fatalf("FetchInfo: %v", err)
	}
	if info.ServiceName != "Quizzes" || info.GradeEndpointPath != "/grade" || !info.HasCustomView {
		t.Fatalf("unexpected info %+v", info)
	}

	spec, err := c.GenerateSpec(context.Background(), "quizzes", srv.URL+"/public", json.RawMessage(`{"options":["a","b"],"correct":"a"}`))
	if err != nil {
		t.Fatalf("GenerateSpec: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(spec, &out); err != nil {
		t.Fatalf("unmarshal spec: %v", err)
	}
	if _, leaked := out["correct"]; leaked {
		t.Fatalf("public spec leaked private fields: %s", spec)
	}
}

func TestEndpointURLs(t *testing.T) {
	internal := "http://quizzes.internal:3000/"
	ep := Endpoint{}
	ep.Service.PublicURL = "https://courses.example.com/quizzes"
	ep.Service.InternalURL = &internal
	ep.Info.GradeEndpointPath = "/api/grade"
	ep.Info.UserInterfaceIframePath = "/iframe"

	if got := ep.GradeURL(); got != "http://quizzes.internal:3000/api/grade" {
		t.Fatalf("GradeURL = %s", got)
	}
	if got := ep.IframeURL(); got != "https://courses.example.com/quizzes/iframe" {
		t.Fatalf("IframeURL = %s", got)
	}
}
