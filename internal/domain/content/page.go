package content

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type HistoryChangeReason string

const (
	HistoryPageSaved       HistoryChangeReason = "page-saved"
	HistoryHistoryRestored HistoryChangeReason = "history-restored"
)

// Page belongs to exactly one of a course or an exam. url_path is unique within a course.
type Page struct {
	ID                  uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID            *uuid.UUID     `gorm:"type:uuid;index" json:"course_id,omitempty"`
	ExamID              *uuid.UUID     `gorm:"type:uuid;index" json:"exam_id,omitempty"`
	ChapterID           *uuid.UUID     `gorm:"type:uuid;index" json:"chapter_id,omitempty"`
	URLPath             string         `gorm:"not null;column:url_path" json:"url_path"`
	Title               string         `gorm:"not null;column:title" json:"title"`
	Content             datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"content"`
	OrderNumber         int            `gorm:"not null;default:0" json:"order_number"`
	PageLanguageGroupID *uuid.UUID     `gorm:"type:uuid;index" json:"page_language_group_id,omitempty"`
	Hidden              bool           `gorm:"not null;default:false" json:"hidden"`
	CreatedAt           time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Page) TableName() string { return "pages" }

// PageHistory is append-only. RestoredFromID points at the history row a
// restore copied; the chain is walked by id, never materialized.
type PageHistory struct {
	ID             uuid.UUID           `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PageID         uuid.UUID           `gorm:"type:uuid;not null;index" json:"page_id"`
	Title          string              `gorm:"not null;column:title" json:"title"`
	Content        datatypes.JSON      `gorm:"type:jsonb;not null" json:"content"`
	HistoryReason  HistoryChangeReason `gorm:"type:text;not null;column:history_change_reason" json:"history_change_reason"`
	RestoredFromID *uuid.UUID          `gorm:"type:uuid;column:restored_from_id" json:"restored_from_id,omitempty"`
	AuthorUserID   uuid.UUID           `gorm:"type:uuid;not null" json:"author_user_id"`
	CreatedAt      time.Time           `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt      `gorm:"index" json:"deleted_at,omitempty"`
}

func (PageHistory) TableName() string { return "page_history" }
