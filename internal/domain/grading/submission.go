package grading

import (
	"time"

	"github.com/google/uuid"
	"github.com/yungbote/headless-lms/internal/domain/content"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExerciseSlideSubmission has exactly one of CourseID or ExamID set.
type ExerciseSlideSubmission struct {
	ID                       uuid.UUID                    `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ExerciseSlideID          uuid.UUID                    `gorm:"type:uuid;not null;index" json:"exercise_slide_id"`
	ExerciseID               uuid.UUID                    `gorm:"type:uuid;not null;index" json:"exercise_id"`
	UserID                   uuid.UUID                    `gorm:"type:uuid;not null;index" json:"user_id"`
	CourseID                 *uuid.UUID                   `gorm:"type:uuid;index" json:"course_id,omitempty"`
	CourseInstanceID         *uuid.UUID                   `gorm:"type:uuid;index" json:"course_instance_id,omitempty"`
	ExamID                   *uuid.UUID                   `gorm:"type:uuid;index" json:"exam_id,omitempty"`
	UserPointsUpdateStrategy content.PointsUpdateStrategy `gorm:"type:text;not null" json:"user_points_update_strategy"`
	CreatedAt                time.Time                    `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                time.Time                    `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                gorm.DeletedAt               `gorm:"index" json:"deleted_at,omitempty"`
}

func (ExerciseSlideSubmission) TableName() string { return "exercise_slide_submissions" }

// ExerciseTaskSubmission points at its active grading through ExerciseTaskGradingID.
type ExerciseTaskSubmission struct {
	ID                        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ExerciseSlideSubmissionID uuid.UUID      `gorm:"type:uuid;not null;index" json:"exercise_slide_submission_id"`
	ExerciseTaskID            uuid.UUID      `gorm:"type:uuid;not null;index" json:"exercise_task_id"`
	ExerciseSlideID           uuid.UUID      `gorm:"type:uuid;not null" json:"exercise_slide_id"`
	DataJSON                  datatypes.JSON `gorm:"type:jsonb;column:data_json" json:"data_json"`
	ExerciseTaskGradingID     *uuid.UUID     `gorm:"type:uuid;column:exercise_task_grading_id" json:"exercise_task_grading_id,omitempty"`
	Metadata                  datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt                 time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                 time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                 gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ExerciseTaskSubmission) TableName() string { return "exercise_task_submissions" }

type ExerciseTaskGrading struct {
	ID                       uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ExerciseTaskSubmissionID uuid.UUID       `gorm:"type:uuid;not null;index" json:"exercise_task_submission_id"`
	CourseID                 *uuid.UUID      `gorm:"type:uuid" json:"course_id,omitempty"`
	ExamID                   *uuid.UUID      `gorm:"type:uuid" json:"exam_id,omitempty"`
	ExerciseID               uuid.UUID       `gorm:"type:uuid;not null;index" json:"exercise_id"`
	ExerciseTaskID           uuid.UUID       `gorm:"type:uuid;not null" json:"exercise_task_id"`
	GradingPriority          int             `gorm:"not null;default:100" json:"grading_priority"`
	ScoreGiven               *float64        `gorm:"column:score_given" json:"score_given,omitempty"`
	GradingProgress          GradingProgress `gorm:"type:text;not null;default:'NotReady';index" json:"grading_progress"`
	UnscaledScoreGiven       *float64        `gorm:"column:unscaled_score_given" json:"unscaled_score_given,omitempty"`
	UnscaledScoreMaximum     *float64        `gorm:"column:unscaled_score_maximum" json:"unscaled_score_maximum,omitempty"`
	GradingStartedAt         *time.Time      `gorm:"column:grading_started_at" json:"grading_started_at,omitempty"`
	GradingCompletedAt       *time.Time      `gorm:"column:grading_completed_at" json:"grading_completed_at,omitempty"`
	DispatchedAt             *time.Time      `gorm:"column:dispatched_at" json:"-"`
	FeedbackJSON             datatypes.JSON  `gorm:"type:jsonb;column:feedback_json" json:"feedback_json,omitempty"`
	FeedbackText             *string         `gorm:"column:feedback_text" json:"feedback_text,omitempty"`
	CreatedAt                time.Time       `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                gorm.DeletedAt  `gorm:"index" json:"deleted_at,omitempty"`
}

func (ExerciseTaskGrading) TableName() string { return "exercise_task_gradings" }

// UserExerciseState is unique per (user, exercise, course_instance, exam, deleted_at).
type UserExerciseState struct {
	ID                      uuid.UUID        `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID                  uuid.UUID        `gorm:"type:uuid;not null;index" json:"user_id"`
	ExerciseID              uuid.UUID        `gorm:"type:uuid;not null;index" json:"exercise_id"`
	CourseInstanceID        *uuid.UUID       `gorm:"type:uuid;index" json:"course_instance_id,omitempty"`
	ExamID                  *uuid.UUID       `gorm:"type:uuid" json:"exam_id,omitempty"`
	SelectedExerciseSlideID *uuid.UUID       `gorm:"type:uuid" json:"selected_exercise_slide_id,omitempty"`
	ScoreGiven              *float64         `gorm:"column:score_given" json:"score_given,omitempty"`
	GradingProgress         GradingProgress  `gorm:"type:text;not null;default:'NotReady'" json:"grading_progress"`
	ActivityProgress        ActivityProgress `gorm:"type:text;not null;default:'Initialized'" json:"activity_progress"`
	ReviewingStage          ReviewingStage   `gorm:"type:text;not null;default:'NotStarted'" json:"reviewing_stage"`
	CreatedAt               time.Time        `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt               time.Time        `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt               gorm.DeletedAt   `gorm:"index" json:"deleted_at,omitempty"`
}

func (UserExerciseState) TableName() string { return "user_exercise_states" }

type TeacherGradingDecision struct {
	ID                  uuid.UUID           `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserExerciseStateID uuid.UUID           `gorm:"type:uuid;not null;index" json:"user_exercise_state_id"`
	TeacherDecision     TeacherDecisionType `gorm:"type:text;not null" json:"teacher_decision"`
	ScoreGiven          float64             `gorm:"not null" json:"score_given"`
	TeacherUserID       uuid.UUID           `gorm:"type:uuid;not null" json:"user_id"`
	CreatedAt           time.Time           `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt           gorm.DeletedAt      `gorm:"index" json:"deleted_at,omitempty"`
}

func (TeacherGradingDecision) TableName() string { return "teacher_grading_decisions" }
