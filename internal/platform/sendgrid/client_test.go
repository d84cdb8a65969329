package sendgrid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yungbote/headless-lms/internal/platform/logger"
)

func TestSendPostsMailSendPayload(t *testing.T) {
	var got mailSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" || r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("X-Message-Id", "m-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, err := New(logger.Nop(), Config{APIKey: "k", BaseURL: srv.URL, DefaultFromEmail: "noreply@example.com"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := c.Send(context.Background(), Message{
		To:      Address{Email: "student@example.com"},
		Subject: "Hello",
		Text:    "body",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "m-1" || res.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got.From.Email != "noreply@example.com" || len(got.Personalizations) != 1 || got.Personalizations[0].To[0].Email != "student@example.com" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&HTTPError{StatusCode: 429}, true},
		{&HTTPError{StatusCode: 503}, true},
		{&HTTPError{StatusCode: 400}, false},
		{&HTTPError{StatusCode: 401}, false},
		{errors.New("sendgrid: recipient required"), false},
		{errors.New("dial tcp: connection refused"), true},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("IsTransient(%v): want=%v got=%v", tc.err, tc.want, got)
		}
	}
}

func TestSendReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"invalid email"}]}`))
	}))
	defer srv.Close()

	c, _ := New(logger.Nop(), Config{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Send(context.Background(), Message{
		From: Address{Email: "a@example.com"}, To: Address{Email: "b"}, Subject: "s", HTML: "<p>x</p>",
	})
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != 400 || IsTransient(err) {
		t.Fatalf("expected permanent 400, got %v", err)
	}
}
