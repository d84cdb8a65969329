package aggregates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
)

type fakeRunner struct{ err error }

func (r fakeRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if err := fn(dbctx.Context{Ctx: ctx}); err != nil {
		return err
	}
	return r.err
}

type spyHooks struct {
	statuses    []string
	conflicts   int
	retries     int
	constraints []string
}

func (h *spyHooks) ObserveOperation(_, status string, _ time.Duration) {
	h.statuses = append(h.statuses, status)
}
func (h *spyHooks) IncConflict(string) { h.conflicts++ }
func (h *spyHooks) IncRetry(string)    { h.retries++ }
func (h *spyHooks) IncConstraint(_, constraint string) {
	h.constraints = append(h.constraints, constraint)
}

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func spanAttr(s sdktrace.ReadOnlySpan, key attribute.Key) string {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestExecuteWriteCountsNamedConstraints(t *testing.T) {
	rec := recordSpans(t)
	hooks := &spyHooks{}
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "peer_review_submissions_user_submission_key"}

	err := ExecuteWrite(context.Background(), BaseDeps{Runner: fakeRunner{err: dup}, Hooks: hooks}, "PeerReviewService.Submit", func(dbctx.Context) error {
		return nil
	})
	if !domainagg.IsCode(err, domainagg.CodeDatabaseConstraint) {
		t.Fatalf("err = %v", err)
	}
	if len(hooks.constraints) != 1 || hooks.constraints[0] != "peer_review_submissions_user_submission_key" {
		t.Fatalf("constraints = %v", hooks.constraints)
	}
	if len(hooks.statuses) != 1 || hooks.statuses[0] != string(domainagg.CodeDatabaseConstraint) {
		t.Fatalf("statuses = %v", hooks.statuses)
	}

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "PeerReviewService.Submit" {
		t.Fatalf("spans = %v", spans)
	}
	if got := spanAttr(spans[0], observability.AttrWriteOp); got != "PeerReviewService.Submit" {
		t.Fatalf("write op attribute = %q", got)
	}
	if got := spanAttr(spans[0], observability.AttrErrorCode); got != string(domainagg.CodeDatabaseConstraint) {
		t.Fatalf("error code attribute = %q", got)
	}
}

func TestExecuteWriteSuccessAndRetry(t *testing.T) {
	rec := recordSpans(t)
	hooks := &spyHooks{}
	deps := BaseDeps{Runner: fakeRunner{}, Hooks: hooks}

	if err := ExecuteWrite(context.Background(), deps, "", func(dbctx.Context) error { return nil }); err != nil {
		t.Fatalf("ExecuteWrite: %v", err)
	}
	err := ExecuteWrite(context.Background(), deps, "GradingDispatcher.applyResult", func(dbctx.Context) error {
		return errors.Join(ErrRetryable, errors.New("serialization failure"))
	})
	if !domainagg.IsCode(err, domainagg.CodeRetryable) {
		t.Fatalf("err = %v", err)
	}
	if hooks.retries != 1 || hooks.conflicts != 0 || len(hooks.constraints) != 0 {
		t.Fatalf("hooks = %+v", hooks)
	}
	if len(hooks.statuses) != 2 || hooks.statuses[0] != "success" {
		t.Fatalf("statuses = %v", hooks.statuses)
	}
	spans := rec.Ended()
	if len(spans) != 2 || spans[0].Name() != "write" || spanAttr(spans[0], observability.AttrErrorCode) != "" {
		t.Fatalf("spans = %v", spans)
	}
}
