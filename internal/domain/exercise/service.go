package exercise

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExerciseService is a remote grader registered under the slug used as exercise_type.
type ExerciseService struct {
	ID                               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name                             string         `gorm:"not null;column:name" json:"name"`
	Slug                             string         `gorm:"not null;column:slug" json:"slug"`
	PublicURL                        string         `gorm:"not null;column:public_url" json:"public_url"`
	InternalURL                      *string        `gorm:"column:internal_url" json:"internal_url,omitempty"`
	MaxReprocessingSubmissionsAtOnce int            `gorm:"not null;default:1;column:max_reprocessing_submissions_at_once" json:"max_reprocessing_submissions_at_once"`
	CreatedAt                        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ExerciseService) TableName() string { return "exercise_services" }

// BaseURL prefers the internal address for server-to-server calls.
func (s ExerciseService) BaseURL() string {
	if s.InternalURL != nil && *s.InternalURL != "" {
		return *s.InternalURL
	}
	return s.PublicURL
}

// ExerciseServiceInfo is the descriptor a service advertises at its info URL.
type ExerciseServiceInfo struct {
	ExerciseServiceID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"exercise_service_id"`
	ServiceName                   string    `gorm:"not null" json:"service_name"`
	UserInterfaceIframePath       string    `gorm:"not null" json:"user_interface_iframe_path"`
	GradeEndpointPath             string    `gorm:"not null" json:"grade_endpoint_path"`
	PublicSpecEndpointPath        string    `gorm:"not null" json:"public_spec_endpoint_path"`
	ModelSolutionSpecEndpointPath string    `gorm:"not null" json:"model_solution_spec_endpoint_path"`
	HasCustomView                 bool      `gorm:"not null;default:false" json:"has_custom_view"`
	CreatedAt                     time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ExerciseServiceInfo) TableName() string { return "exercise_service_info" }

// UserCourseExerciseServiceVariable stores values a grader asked to persist
// for a user through set_user_variables.
type UserCourseExerciseServiceVariable struct {
	ID                  uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID              uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	CourseID            *uuid.UUID     `gorm:"type:uuid" json:"course_id,omitempty"`
	ExamID              *uuid.UUID     `gorm:"type:uuid" json:"exam_id,omitempty"`
	ExerciseServiceSlug string         `gorm:"not null" json:"exercise_service_slug"`
	VariableKey         string         `gorm:"not null" json:"variable_key"`
	VariableValue       datatypes.JSON `gorm:"type:jsonb;not null" json:"variable_value"`
	CreatedAt           time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (UserCourseExerciseServiceVariable) TableName() string {
	return "user_course_exercise_service_variables"
}
