package completion

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CourseModuleCompletion is unique per (user, module, instance) while live.
// CompletionGrantedByTeacherID marks manual completions.
type CourseModuleCompletion struct {
	ID                           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID                     uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	CourseModuleID               uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_module_id"`
	CourseInstanceID             uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_instance_id"`
	UserID                       uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	CompletionDate               time.Time      `gorm:"not null" json:"completion_date"`
	CompletionLanguage           string         `gorm:"not null;default:'en-US'" json:"completion_language"`
	EligibleForEcts              bool           `gorm:"not null;default:false" json:"eligible_for_ects"`
	Email                        string         `gorm:"not null" json:"email"`
	Grade                        *int           `gorm:"column:grade" json:"grade,omitempty"`
	Passed                       bool           `gorm:"not null" json:"passed"`
	PrerequisiteModulesCompleted bool           `gorm:"not null;default:false" json:"prerequisite_modules_completed"`
	CompletionGrantedByTeacherID *uuid.UUID     `gorm:"type:uuid" json:"completion_granted_by_teacher_id,omitempty"`
	CreatedAt                    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CourseModuleCompletion) TableName() string { return "course_module_completions" }

func (c CourseModuleCompletion) IsManual() bool { return c.CompletionGrantedByTeacherID != nil }

type StudyRegistryRegistrar struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	SecretKey string         `gorm:"not null" json:"-"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (StudyRegistryRegistrar) TableName() string { return "study_registry_registrars" }

// Registration records that a completion was transmitted to a registrar.
type Registration struct {
	ID                       uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID                 uuid.UUID      `gorm:"type:uuid;not null" json:"course_id"`
	CourseModuleCompletionID uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_module_completion_id"`
	CourseModuleID           uuid.UUID      `gorm:"type:uuid;not null" json:"course_module_id"`
	StudyRegistryRegistrarID uuid.UUID      `gorm:"type:uuid;not null;index" json:"study_registry_registrar_id"`
	UserID                   uuid.UUID      `gorm:"type:uuid;not null" json:"user_id"`
	RealStudentNumber        string         `gorm:"not null" json:"real_student_number"`
	CreatedAt                time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Registration) TableName() string { return "course_module_completion_registrations" }

type ChapterLockingStatus string

const (
	ChapterUnlocked           ChapterLockingStatus = "unlocked"
	ChapterCompletedAndLocked ChapterLockingStatus = "completed_and_locked"
	ChapterNotUnlockedYet     ChapterLockingStatus = "not_unlocked_yet"
)

type UserChapterLockingStatus struct {
	ID        uuid.UUID            `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    uuid.UUID            `gorm:"type:uuid;not null;index" json:"user_id"`
	ChapterID uuid.UUID            `gorm:"type:uuid;not null;index" json:"chapter_id"`
	CourseID  uuid.UUID            `gorm:"type:uuid;not null" json:"course_id"`
	Status    ChapterLockingStatus `gorm:"type:text;not null" json:"status"`
	CreatedAt time.Time            `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time            `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt       `gorm:"index" json:"deleted_at,omitempty"`
}

func (UserChapterLockingStatus) TableName() string { return "user_chapter_locking_statuses" }
