package content

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PointsUpdateStrategy string

const (
	CanAddPointsButCannotRemovePoints PointsUpdateStrategy = "CanAddPointsButCannotRemovePoints"
	CanAddPointsAndCanRemovePoints    PointsUpdateStrategy = "CanAddPointsAndCanRemovePoints"
)

type CourseLanguageGroup struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CourseLanguageGroup) TableName() string { return "course_language_groups" }

type Course struct {
	ID                    uuid.UUID            `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OrganizationID        uuid.UUID            `gorm:"type:uuid;not null;index" json:"organization_id"`
	CourseLanguageGroupID uuid.UUID            `gorm:"type:uuid;not null;index" json:"course_language_group_id"`
	Slug                  string               `gorm:"not null;column:slug" json:"slug"`
	Name                  string               `gorm:"not null;column:name" json:"name"`
	Description           *string              `gorm:"column:description" json:"description,omitempty"`
	LanguageCode          string               `gorm:"not null;default:'en-US';column:language_code" json:"language_code"`
	IsDraft               bool                 `gorm:"not null;default:false" json:"is_draft"`
	IsTest                bool                 `gorm:"not null;default:false" json:"is_test_mode"`
	ChapterLockingEnabled bool                 `gorm:"not null;default:false" json:"chapter_locking_enabled"`
	PointsUpdateStrategy  PointsUpdateStrategy `gorm:"type:text;not null;default:'CanAddPointsButCannotRemovePoints'" json:"points_update_strategy"`
	CreatedAt             time.Time            `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt             time.Time            `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt             gorm.DeletedAt       `gorm:"index" json:"deleted_at,omitempty"`
}

func (Course) TableName() string { return "courses" }

type CourseInstance struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	Name         *string        `gorm:"column:name" json:"name,omitempty"`
	StartingTime *time.Time     `gorm:"column:starting_time" json:"starting_time,omitempty"`
	EndingTime   *time.Time     `gorm:"column:ending_time" json:"ending_time,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CourseInstance) TableName() string { return "course_instances" }

// CourseModule is a completion unit. Every course has a default module with a nil name.
type CourseModule struct {
	ID                                            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID                                      uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	Name                                          *string        `gorm:"column:name" json:"name,omitempty"`
	OrderNumber                                   int            `gorm:"not null;default:0" json:"order_number"`
	AutomaticCompletion                           bool           `gorm:"not null;default:false" json:"automatic_completion"`
	CompletionPointsThreshold                     *int           `gorm:"column:completion_points_threshold" json:"completion_points_threshold,omitempty"`
	CompletionNumberOfExercisesAttemptedThreshold *int           `gorm:"column:completion_number_of_exercises_attempted_threshold" json:"completion_number_of_exercises_attempted_threshold,omitempty"`
	CompletionRegistrationLinkOverride            *string        `gorm:"column:completion_registration_link_override" json:"completion_registration_link_override,omitempty"`
	EctsCredits                                   *float64       `gorm:"column:ects_credits" json:"ects_credits,omitempty"`
	CertificationEnabled                          bool           `gorm:"not null;default:false" json:"certification_enabled"`
	CreatedAt                                     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                                     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                                     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CourseModule) TableName() string { return "course_modules" }

func (m CourseModule) IsDefault() bool { return m.Name == nil }

type Chapter struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	CourseModuleID uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_module_id"`
	Name           string         `gorm:"not null;column:name" json:"name"`
	ChapterNumber  int            `gorm:"not null;column:chapter_number" json:"chapter_number"`
	FrontPageID    *uuid.UUID     `gorm:"type:uuid;column:front_page_id" json:"front_page_id,omitempty"`
	OpensAt        *time.Time     `gorm:"column:opens_at" json:"opens_at,omitempty"`
	DeadLine       *time.Time     `gorm:"column:deadline" json:"deadline,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Chapter) TableName() string { return "chapters" }

type Exam struct {
	ID                    uuid.UUID            `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OrganizationID        uuid.UUID            `gorm:"type:uuid;not null;index" json:"organization_id"`
	Name                  string               `gorm:"not null;column:name" json:"name"`
	StartsAt              *time.Time           `gorm:"column:starts_at" json:"starts_at,omitempty"`
	EndsAt                *time.Time           `gorm:"column:ends_at" json:"ends_at,omitempty"`
	TimeMinutes           int                  `gorm:"not null;default:60" json:"time_minutes"`
	MinimumPointsTreshold int                  `gorm:"not null;default:0;column:minimum_points_treshold" json:"minimum_points_treshold"`
	GradeManually         bool                 `gorm:"not null;default:false" json:"grade_manually"`
	PointsUpdateStrategy  PointsUpdateStrategy `gorm:"type:text;not null;default:'CanAddPointsAndCanRemovePoints'" json:"points_update_strategy"`
	CreatedAt             time.Time            `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt             time.Time            `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt             gorm.DeletedAt       `gorm:"index" json:"deleted_at,omitempty"`
}

func (Exam) TableName() string { return "exams" }
