package aggregates

import (
	"context"
	"strings"
	"time"

	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"gorm.io/gorm"
)

type BaseDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Runner   TxRunner
	Hooks    Hooks
	CASGuard CASGuard
}

func (d BaseDeps) WithDefaults() BaseDeps {
	if d.Runner == nil {
		d.Runner = NewGormTxRunner(d.DB)
	}
	if d.Hooks == nil {
		d.Hooks = NewObservabilityHooks(observability.Current())
	}
	if d.CASGuard.db == nil {
		d.CASGuard = NewCASGuard(d.DB)
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return d
}

// ExecuteWrite runs fn in a transaction under a span named op, maps its
// error and records the outcome.
func ExecuteWrite(ctx context.Context, deps BaseDeps, op string, fn func(dbc dbctx.Context) error) error {
	start := time.Now()
	deps = deps.WithDefaults()
	op = strings.TrimSpace(op)
	if op == "" {
		op = "write"
	}
	ctx, span := observability.StartSpan(ctx, op, observability.AttrWriteOp.String(op))
	err := deps.Runner.InTx(ctx, fn)
	mapped := MapError(op, err)
	observability.EndSpan(span, mapped)

	status := "success"
	if mapped != nil {
		status = errorStatus(mapped)
		if domainagg.IsCode(mapped, domainagg.CodeConflict) {
			deps.Hooks.IncConflict(op)
		}
		if domainagg.IsCode(mapped, domainagg.CodeRetryable) {
			deps.Hooks.IncRetry(op)
		}
		if de, ok := domainagg.As(mapped); ok && de.Code == domainagg.CodeDatabaseConstraint {
			deps.Hooks.IncConstraint(op, de.Constraint)
		}
	}
	deps.Hooks.ObserveOperation(op, status, time.Since(start))
	return mapped
}

func errorStatus(err error) string {
	code := strings.TrimSpace(string(domainagg.CodeOf(err)))
	if code == "" {
		return "failure"
	}
	return code
}
