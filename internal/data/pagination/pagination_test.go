package pagination

import (
	"errors"
	"testing"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
)

func TestOffsetAndTotalPages(t *testing.T) {
	cases := []struct {
		page, limit int
		count       int64
		offset      int
		totalPages  int64
	}{
		{page: 1, limit: 100, count: 250, offset: 0, totalPages: 3},
		{page: 3, limit: 100, count: 250, offset: 200, totalPages: 3},
		{page: 2, limit: 10, count: 10, offset: 10, totalPages: 1},
		{page: 1, limit: 1, count: 1, offset: 0, totalPages: 1},
		{page: 1, limit: 7, count: 0, offset: 0, totalPages: 0},
		{page: 5, limit: 1000, count: 1001, offset: 4000, totalPages: 2},
	}
	for _, tc := range cases {
		p, err := New(tc.page, tc.limit)
		if err != nil {
			t.Fatalf("New(%d,%d): %v", tc.page, tc.limit, err)
		}
		if got := p.Offset(); got != tc.offset {
			t.Fatalf("offset(%d,%d) = %d, want %d", tc.page, tc.limit, got, tc.offset)
		}
		if got := p.TotalPages(tc.count); got != tc.totalPages {
			t.Fatalf("total_pages(%d) limit %d = %d, want %d", tc.count, tc.limit, got, tc.totalPages)
		}
	}
}

func TestWindowSizeNeverExceedsLimit(t *testing.T) {
	const rows = 250
	p, _ := New(3, 100)
	remaining := rows - p.Offset()
	if remaining > p.Limit {
		remaining = p.Limit
	}
	if remaining != 50 {
		t.Fatalf("expected last window of 50, got %d", remaining)
	}
}

func TestNewRejectsOutOfRange(t *testing.T) {
	for _, tc := range [][2]int{{0, 10}, {1, 0}, {1, 1001}, {-1, 5}} {
		if _, err := New(tc[0], tc[1]); !errors.Is(err, aggregates.ErrValidation) {
			t.Fatalf("New(%d,%d): expected validation error, got %v", tc[0], tc[1], err)
		}
	}
}

func TestFromQueryDefaults(t *testing.T) {
	p, err := FromQuery(0, 0)
	if err != nil {
		t.Fatalf("FromQuery: %v", err)
	}
	if p.Page != 1 || p.Limit != DefaultLimit {
		t.Fatalf("unexpected defaults %+v", p)
	}
}
