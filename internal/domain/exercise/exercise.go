package exercise

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Exercise struct {
	ID                        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID                  *uuid.UUID     `gorm:"type:uuid;index" json:"course_id,omitempty"`
	ExamID                    *uuid.UUID     `gorm:"type:uuid;index" json:"exam_id,omitempty"`
	PageID                    uuid.UUID      `gorm:"type:uuid;not null;index" json:"page_id"`
	ChapterID                 *uuid.UUID     `gorm:"type:uuid;index" json:"chapter_id,omitempty"`
	Name                      string         `gorm:"not null;column:name" json:"name"`
	OrderNumber               int            `gorm:"not null;default:0" json:"order_number"`
	ScoreMaximum              int            `gorm:"not null;default:1" json:"score_maximum"`
	Deadline                  *time.Time     `gorm:"column:deadline" json:"deadline,omitempty"`
	LimitNumberOfTries        bool           `gorm:"not null;default:false" json:"limit_number_of_tries"`
	MaxTriesPerSlide          *int           `gorm:"column:max_tries_per_slide" json:"max_tries_per_slide,omitempty"`
	NeedsPeerReview           bool           `gorm:"not null;default:false" json:"needs_peer_review"`
	NeedsSelfReview           bool           `gorm:"not null;default:false" json:"needs_self_review"`
	UseCoursePeerReviewConfig bool           `gorm:"not null;default:true" json:"use_course_default_peer_review_config"`
	CreatedAt                 time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                 time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                 gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Exercise) TableName() string { return "exercises" }

type ExerciseSlide struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ExerciseID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"exercise_id"`
	OrderNumber int            `gorm:"not null;default:0" json:"order_number"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ExerciseSlide) TableName() string { return "exercise_slides" }

// ExerciseTask is the unit graded by an exercise service of type ExerciseType.
type ExerciseTask struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ExerciseSlideID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"exercise_slide_id"`
	ExerciseType      string         `gorm:"not null;column:exercise_type" json:"exercise_type"`
	Assignment        datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"assignment"`
	PrivateSpec       datatypes.JSON `gorm:"type:jsonb" json:"private_spec,omitempty"`
	PublicSpec        datatypes.JSON `gorm:"type:jsonb" json:"public_spec,omitempty"`
	ModelSolutionSpec datatypes.JSON `gorm:"type:jsonb" json:"model_solution_spec,omitempty"`
	OrderNumber       int            `gorm:"not null;default:0" json:"order_number"`
	CreatedAt         time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ExerciseTask) TableName() string { return "exercise_tasks" }
