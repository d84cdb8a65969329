package aggregates

import (
	"context"

	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"gorm.io/gorm"
)

// TxRunner provides a shared transaction boundary primitive for writes.
type TxRunner interface {
	InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

type gormTxRunner struct {
	db *gorm.DB
}

// NewGormTxRunner returns a transaction runner backed by GORM transactions.
func NewGormTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db}
}

func (r *gormTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	if r == nil || r.db == nil {
		return domainagg.NewError(domainagg.CodeInternal, "tx", "transaction runner has nil db", nil)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

// Nested runs fn inside dbc's transaction (as a savepoint) if present, else opens one.
func Nested(dbc dbctx.Context, runner TxRunner, fn func(dbc dbctx.Context) error) error {
	if dbc.Tx != nil {
		return dbc.Tx.Transaction(func(tx *gorm.DB) error {
			return fn(dbc.WithTx(tx))
		})
	}
	return runner.InTx(dbc.Ctx, fn)
}
