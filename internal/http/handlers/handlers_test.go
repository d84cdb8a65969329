package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/http/middleware"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/services/account"
	"github.com/yungbote/headless-lms/internal/services/oauth"
	"github.com/yungbote/headless-lms/internal/services/studyregistry"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.AttachRequestContext())
	return r
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthReady(t *testing.T) {
	for name, tc := range map[string]struct {
		err  error
		want int
	}{
		"up":   {want: http.StatusOK},
		"down": {err: errors.New("connection refused"), want: http.StatusServiceUnavailable},
	} {
		t.Run(name, func(t *testing.T) {
			r := newEngine()
			r.GET("/readyz", NewHealthHandler(pingerFunc(func(context.Context) error { return tc.err })).Ready)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

type fakeOAuth struct {
	oauth.Service
	tokenReq  oauth.TokenRequest
	tokenErr  error
	authorize func(req oauth.AuthorizeRequest, userID *uuid.UUID) (string, error)
}

func (f *fakeOAuth) Token(_ context.Context, req oauth.TokenRequest) (*oauth.TokenResponse, error) {
	f.tokenReq = req
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return &oauth.TokenResponse{AccessToken: "at", TokenType: "DPoP", ExpiresIn: 3600, Scope: "openid"}, nil
}

func (f *fakeOAuth) Authorize(_ context.Context, req oauth.AuthorizeRequest, userID *uuid.UUID) (string, error) {
	return f.authorize(req, userID)
}

func TestTokenReadsBasicCredentialsAndDPoP(t *testing.T) {
	fake := &fakeOAuth{}
	h := NewOAuthHandler(newTestLogger(t), fake, nil, "https://lms.example.com/oauth")
	r := newEngine()
	r.POST("/oauth/token", h.Token)

	form := url.Values{"grant_type": {"authorization_code"}, "code": {"abc"}, "code_verifier": {"v"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("client%3Aone", "s3cret")
	req.Header.Set("DPoP", "proof")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("token responses must not be cached")
	}
	got := fake.tokenReq
	if got.Client.ClientID != "client:one" || got.Client.ClientSecret != "s3cret" || got.Code != "abc" {
		t.Fatalf("token request = %+v", got)
	}
	if got.DPoP.Proof != "proof" || got.DPoP.URL != "https://lms.example.com/oauth/token" || got.DPoP.Method != http.MethodPost {
		t.Fatalf("dpop = %+v", got.DPoP)
	}
}

func TestTokenErrorBody(t *testing.T) {
	fake := &fakeOAuth{tokenErr: &oauth.Error{Code: oauth.ErrInvalidGrant, Description: "code expired", Status: http.StatusBadRequest}}
	r := newEngine()
	r.POST("/oauth/token", NewOAuthHandler(newTestLogger(t), fake, nil, "https://lms.example.com/oauth").Token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader("grant_type=authorization_code")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "invalid_grant" || body["error_description"] != "code expired" {
		t.Fatalf("body = %v", body)
	}
}

func TestAuthorizeRedirects(t *testing.T) {
	fake := &fakeOAuth{authorize: func(req oauth.AuthorizeRequest, userID *uuid.UUID) (string, error) {
		if userID != nil {
			return "", errors.New("expected an anonymous request")
		}
		if req.State == "bad" {
			return "", &oauth.Error{Code: oauth.ErrInvalidScope, RedirectURI: "https://client.example.com/cb", State: "bad", Status: http.StatusBadRequest}
		}
		return "https://lms.example.com/login?client_id=" + req.ClientID, nil
	}}
	r := newEngine()
	r.GET("/oauth/authorize", NewOAuthHandler(newTestLogger(t), fake, nil, "https://lms.example.com/oauth").Authorize)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/authorize?client_id=c1&state=ok", nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "https://lms.example.com/login?client_id=c1" {
		t.Fatalf("status = %d location = %q", w.Code, w.Header().Get("Location"))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/authorize?client_id=c1&state=bad", nil))
	loc, err := url.Parse(w.Header().Get("Location"))
	if w.Code != http.StatusFound || err != nil {
		t.Fatalf("status = %d err = %v", w.Code, err)
	}
	if loc.Host != "client.example.com" || loc.Query().Get("error") != "invalid_scope" || loc.Query().Get("state") != "bad" {
		t.Fatalf("location = %s", loc)
	}
}

type fakeAccount struct {
	account.Service
	session *account.Session
}

func (f *fakeAccount) Login(_ context.Context, email, password string) (*account.Session, error) {
	if password != "correct horse" {
		return nil, domainagg.NewError(domainagg.CodeUnauthorized, "AccountService.Login", "invalid email or password", nil)
	}
	return f.session, nil
}

func TestLoginSetsSessionCookie(t *testing.T) {
	fake := &fakeAccount{session: &account.Session{Token: "session-token", ExpiresAt: time.Now().Add(time.Hour)}}
	h := NewAccountHandler(newTestLogger(t), fake, nil, true)
	r := newEngine()
	r.POST("/login", h.Login)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"a@example.com","password":"nope"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"a@example.com","password":"correct horse"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var cookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == middleware.SessionCookie {
			cookie = ck
		}
	}
	if cookie == nil || cookie.Value != "session-token" || !cookie.HttpOnly || !cookie.Secure {
		t.Fatalf("cookie = %+v", cookie)
	}
}

type fakeRegistry struct {
	studyregistry.Service
	registrar *types.StudyRegistryRegistrar
	rows      []types.CourseModuleCompletion
}

func (f *fakeRegistry) Authenticate(_ context.Context, secret string) (*types.StudyRegistryRegistrar, error) {
	if secret != f.registrar.SecretKey {
		return nil, domainagg.NewError(domainagg.CodeUnauthorized, "StudyRegistryService.Authenticate", "unknown registrar secret", nil)
	}
	return f.registrar, nil
}

func (f *fakeRegistry) Unregistered(context.Context, uuid.UUID, uuid.UUID) iter.Seq2[types.CourseModuleCompletion, error] {
	return func(yield func(types.CourseModuleCompletion, error) bool) {
		for _, row := range f.rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

func TestStudyRegistryStreamsJSONArray(t *testing.T) {
	fake := &fakeRegistry{
		registrar: &types.StudyRegistryRegistrar{ID: uuid.New(), SecretKey: "registrar-secret"},
		rows:      []types.CourseModuleCompletion{{ID: uuid.New()}, {ID: uuid.New()}},
	}
	r := newEngine()
	r.GET("/modules/:module_id/completions", NewStudyRegistryHandler(newTestLogger(t), fake).Unregistered)
	path := "/modules/" + uuid.NewString() + "/completions"

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Basic wrong")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad secret status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Basic registrar-secret")
	r.ServeHTTP(w, req)
	var rows []types.CourseModuleCompletion
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	if len(rows) != 2 || rows[1].ID != fake.rows[1].ID {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestParseDay(t *testing.T) {
	d, err := parseDay("2024-03-01")
	if err != nil || !d.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date = %v, %v", d, err)
	}
	if _, err := parseDay("2024-03-01T10:00:00Z"); err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if _, err := parseDay("yesterday"); err == nil {
		t.Fatalf("expected an error")
	}
}
