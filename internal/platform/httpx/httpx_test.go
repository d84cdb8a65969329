package httpx

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(context.DeadlineExceeded) {
		t.Fatalf("deadline should be retryable")
	}
	if !IsRetryableError(&StatusError{Status: 503}) {
		t.Fatalf("503 should be retryable")
	}
	if IsRetryableError(&StatusError{Status: 400}) {
		t.Fatalf("400 should not be retryable")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"120"}}}
	if got := RetryAfterDuration(resp, time.Second, time.Minute); got != time.Minute {
		t.Fatalf("expected cap at 1m, got %s", got)
	}
}

func TestJoinURL(t *testing.T) {
	if got := JoinURL("http://svc/", "/grade"); got != "http://svc/grade" {
		t.Fatalf("got %q", got)
	}
}
