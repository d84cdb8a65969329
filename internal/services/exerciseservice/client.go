package exerciseservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/headless-lms/internal/domain/grading"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/httpx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// DefaultTimeout bounds every outbound call to an exercise service.
const DefaultTimeout = 120 * time.Second

const maxResponseBytes = 8 << 20

// ErrMalformedResponse is returned when a service answers 2xx with a body
// that cannot be used.
var ErrMalformedResponse = errors.New("malformed exercise service response")

// IsRejected reports whether err came from an open breaker rather than from
// the service itself.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

type GradeRequest struct {
	ExerciseSpec   json.RawMessage `json:"exercise_spec"`
	SubmissionData json.RawMessage `json:"submission_data"`
}

type GradeResponse struct {
	GradingProgress  grading.GradingProgress    `json:"grading_progress"`
	ScoreGiven       float64                    `json:"score_given"`
	ScoreMaximum     float64                    `json:"score_maximum"`
	FeedbackText     *string                    `json:"feedback_text,omitempty"`
	FeedbackJSON     json.RawMessage            `json:"feedback_json,omitempty"`
	SetUserVariables map[string]json.RawMessage `json:"set_user_variables,omitempty"`
}

func (r GradeResponse) validate() error {
	if !r.GradingProgress.Valid() {
		return fmt.Errorf("%w: grading_progress %q", ErrMalformedResponse, r.GradingProgress)
	}
	if r.ScoreMaximum < 0 || r.ScoreGiven < 0 {
		return fmt.Errorf("%w: negative score", ErrMalformedResponse)
	}
	return nil
}

// ServiceInfo is the descriptor served at a service's info URL.
type ServiceInfo struct {
	ServiceName                   string `json:"service_name"`
	UserInterfaceIframePath       string `json:"user_interface_iframe_path"`
	GradeEndpointPath             string `json:"grade_endpoint_path"`
	PublicSpecEndpointPath        string `json:"public_spec_endpoint_path"`
	ModelSolutionSpecEndpointPath string `json:"model_solution_spec_endpoint_path"`
	HasCustomView                 bool   `json:"has_custom_view"`
}

func (i ServiceInfo) validate() error {
	if strings.TrimSpace(i.ServiceName) == "" || strings.TrimSpace(i.GradeEndpointPath) == "" {
		return fmt.Errorf("%w: service info missing service_name or grade_endpoint_path", ErrMalformedResponse)
	}
	return nil
}

// Client talks to remote exercise services. Calls for one service slug share
// a circuit breaker so a dead grader fails fast instead of holding workers.
type Client interface {
	Grade(ctx context.Context, slug, url string, req GradeRequest) (*GradeResponse, error)
	FetchInfo(ctx context.Context, slug, url string) (*ServiceInfo, error)
	// GenerateSpec posts a private spec to a spec endpoint and returns the
	// generated document unchanged.
	GenerateSpec(ctx context.Context, slug, url string, privateSpec json.RawMessage) (json.RawMessage, error)
}

type ClientConfig struct {
	Timeout time.Duration
	// BreakerMinRequests is the request count a window needs before the
	// failure ratio can trip the breaker.
	BreakerMinRequests uint32
	BreakerFailRatio   float64
	BreakerOpenFor     time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = 10
	}
	if c.BreakerFailRatio <= 0 {
		c.BreakerFailRatio = 0.6
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = 30 * time.Second
	}
	return c
}

type client struct {
	log  *logger.Logger
	http *http.Client
	cfg  ClientConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

func NewClient(baseLog *logger.Logger, cfg ClientConfig) Client {
	cfg = cfg.withDefaults()
	return &client{
		log:      baseLog.With("client", "ExerciseServiceClient"),
		http:     &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		breakers: map[string]*gobreaker.CircuitBreaker[[]byte]{},
	}
}

func (c *client) breaker(slug string) *gobreaker.CircuitBreaker[[]byte] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[slug]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        slug,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     c.cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < c.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= c.cfg.BreakerFailRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("exercise service breaker state change", "exercise_type", name, "from", from.String(), "to", to.String())
			observability.Current().SetBreakerState(name, int(to))
		},
	})
	c.breakers[slug] = cb
	return cb
}

func (c *client) do(ctx context.Context, slug, op, method, url string, body any) ([]byte, error) {
	ctx, span := observability.StartSpan(ctx, "exerciseservice."+op,
		observability.AttrExerciseType.String(slug),
		attribute.String("http.url", url),
	)
	defer span.End()

	start := time.Now()
	raw, err := c.breaker(slug).Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, url, body)
	})
	status := "ok"
	switch {
	case IsRejected(err):
		status = "rejected"
	case err != nil:
		status = "error"
	}
	if op == "grade" {
		observability.Current().ObserveGraderCall(slug, status, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return nil, err
	}
	return raw, nil
}

func (c *client) roundTrip(ctx context.Context, method, url string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(raw)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &httpx.StatusError{Status: resp.StatusCode, Body: snippet}
	}
	return raw, nil
}

func (c *client) Grade(ctx context.Context, slug, url string, req GradeRequest) (*GradeResponse, error) {
	raw, err := c.do(ctx, slug, "grade", http.MethodPost, url, req)
	if err != nil {
		return nil, err
	}
	var out GradeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) FetchInfo(ctx context.Context, slug, url string) (*ServiceInfo, error) {
	raw, err := c.do(ctx, slug, "info", http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var out ServiceInfo
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) GenerateSpec(ctx context.Context, slug, url string, privateSpec json.RawMessage) (json.RawMessage, error) {
	if len(privateSpec) == 0 {
		privateSpec = json.RawMessage("null")
	}
	raw, err := c.do(ctx, slug, "spec", http.MethodPost, url, privateSpec)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: spec is not json", ErrMalformedResponse)
	}
	return json.RawMessage(raw), nil
}
