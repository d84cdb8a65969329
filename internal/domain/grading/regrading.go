package grading

import (
	"time"

	"github.com/google/uuid"
	"github.com/yungbote/headless-lms/internal/domain/content"
	"gorm.io/gorm"
)

type Regrading struct {
	ID                       uuid.UUID                    `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RegradingStartedAt       *time.Time                   `gorm:"column:regrading_started_at" json:"regrading_started_at,omitempty"`
	RegradingCompletedAt     *time.Time                   `gorm:"column:regrading_completed_at" json:"regrading_completed_at,omitempty"`
	TotalGradingProgress     GradingProgress              `gorm:"type:text;not null;default:'NotReady'" json:"total_grading_progress"`
	UserPointsUpdateStrategy content.PointsUpdateStrategy `gorm:"type:text;not null;default:'CanAddPointsAndCanRemovePoints'" json:"user_points_update_strategy"`
	CreatedByUserID          *uuid.UUID                   `gorm:"type:uuid" json:"created_by_user_id,omitempty"`
	CreatedAt                time.Time                    `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                time.Time                    `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                gorm.DeletedAt               `gorm:"index" json:"deleted_at,omitempty"`
}

func (Regrading) TableName() string { return "regradings" }

// ExerciseTaskRegradingSubmission links the grading that was active when the
// submission was selected with the grading the regrading produced.
type ExerciseTaskRegradingSubmission struct {
	ID                       uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RegradingID              uuid.UUID      `gorm:"type:uuid;not null;index" json:"regrading_id"`
	ExerciseTaskSubmissionID uuid.UUID      `gorm:"type:uuid;not null;index" json:"exercise_task_submission_id"`
	GradingBeforeRegrading   uuid.UUID      `gorm:"type:uuid;not null;column:grading_before_regrading" json:"grading_before_regrading"`
	GradingAfterRegrading    *uuid.UUID     `gorm:"type:uuid;column:grading_after_regrading" json:"grading_after_regrading,omitempty"`
	CreatedAt                time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ExerciseTaskRegradingSubmission) TableName() string {
	return "exercise_task_regrading_submissions"
}
