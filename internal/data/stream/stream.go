// Package stream exposes large result sets as lazy, single-pass sequences.
package stream

import (
	"database/sql"
	"iter"
	"sync/atomic"

	"gorm.io/gorm"
)

// Rows runs q and yields one scanned T per row. The returned sequence is
// finite and may be ranged over once; later iterations yield ErrConsumed.
func Rows[T any](q *gorm.DB) iter.Seq2[T, error] {
	var used atomic.Bool
	return func(yield func(T, error) bool) {
		var zero T
		if !used.CompareAndSwap(false, true) {
			yield(zero, ErrConsumed)
			return
		}
		rows, err := q.Rows()
		if err != nil {
			yield(zero, err)
			return
		}
		defer closeRows(rows)
		for rows.Next() {
			var item T
			if err := q.ScanRows(rows, &item); err != nil {
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, err)
		}
	}
}

func closeRows(rows *sql.Rows) { _ = rows.Close() }

type consumedError struct{}

func (consumedError) Error() string { return "stream already consumed" }

// ErrConsumed is yielded when a sequence is ranged over a second time.
var ErrConsumed error = consumedError{}
