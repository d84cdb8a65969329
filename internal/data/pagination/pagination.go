package pagination

import (
	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Pagination is a 1-based page window. Construct with New to get validation.
type Pagination struct {
	Page  int `form:"page" json:"page"`
	Limit int `form:"limit" json:"limit"`
}

// New validates page >= 1 and limit in [1, MaxLimit].
func New(page, limit int) (Pagination, error) {
	if page < 1 {
		return Pagination{}, aggregates.ValidationError("page must be at least 1")
	}
	if limit < 1 || limit > MaxLimit {
		return Pagination{}, aggregates.ValidationError("limit must be between 1 and 1000")
	}
	return Pagination{Page: page, Limit: limit}, nil
}

// FromQuery applies defaults for zero values before validating.
func FromQuery(page, limit int) (Pagination, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return New(page, limit)
}

func (p Pagination) Offset() int {
	return p.Limit * (p.Page - 1)
}

// TotalPages returns ceil(count/limit). Zero rows yield zero pages.
func (p Pagination) TotalPages(count int64) int64 {
	if count <= 0 || p.Limit <= 0 {
		return 0
	}
	l := int64(p.Limit)
	return (count + l - 1) / l
}

// Apply adds LIMIT and OFFSET to q.
func (p Pagination) Apply(q *gorm.DB) *gorm.DB {
	return q.Limit(p.Limit).Offset(p.Offset())
}

// Page is one window of a paginated listing.
type Page[T any] struct {
	Data       []T   `json:"data"`
	TotalPages int64 `json:"total_pages"`
	TotalCount int64 `json:"total_count"`
}

// Fetch counts q and loads the window described by p into a Page.
func Fetch[T any](q *gorm.DB, p Pagination) (Page[T], error) {
	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return Page[T]{}, err
	}
	rows := []T{}
	if err := p.Apply(q.Session(&gorm.Session{})).Find(&rows).Error; err != nil {
		return Page[T]{}, err
	}
	return Page[T]{Data: rows, TotalPages: p.TotalPages(count), TotalCount: count}, nil
}
