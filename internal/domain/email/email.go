package email

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TemplateType string

const (
	TemplateGeneric           TemplateType = "generic"
	TemplateEmailVerification TemplateType = "email_verification"
	TemplatePasswordReset     TemplateType = "reset_password"
)

type TemplateContent struct {
	Text string `json:"text"`
	HTML string `json:"html,omitempty"`
}

type Template struct {
	ID           uuid.UUID                           `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name         string                              `gorm:"not null" json:"name"`
	Subject      string                              `gorm:"not null" json:"subject"`
	Content      datatypes.JSONType[TemplateContent] `gorm:"type:jsonb;not null" json:"content"`
	TemplateType TemplateType                        `gorm:"type:text;not null;default:'generic'" json:"template_type"`
	CourseID     *uuid.UUID                          `gorm:"type:uuid" json:"course_id,omitempty"`
	CreatedAt    time.Time                           `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time                           `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt    gorm.DeletedAt                      `gorm:"index" json:"deleted_at,omitempty"`
}

func (Template) TableName() string { return "email_templates" }

// Delivery is an outbox row. NextRetryAt doubles as the claim lease.
type Delivery struct {
	ID              uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EmailTemplateID uuid.UUID         `gorm:"type:uuid;not null;index" json:"email_template_id"`
	UserID          uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	Sent            bool              `gorm:"not null;default:false" json:"sent"`
	RetryCount      int               `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt     *time.Time        `gorm:"index" json:"next_retry_at,omitempty"`
	Retryable       bool              `gorm:"not null;default:true" json:"retryable"`
	FirstFailedAt   *time.Time        `json:"first_failed_at,omitempty"`
	LastAttemptAt   *time.Time        `json:"last_attempt_at,omitempty"`
	TemplateData    datatypes.JSONMap `gorm:"type:jsonb" json:"template_data,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt    `gorm:"index" json:"deleted_at,omitempty"`
}

func (Delivery) TableName() string { return "email_deliveries" }

type DeliveryError struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EmailDeliveryID uuid.UUID      `gorm:"type:uuid;not null;index" json:"email_delivery_id"`
	Attempt         int            `gorm:"not null" json:"attempt"`
	Error           string         `gorm:"not null" json:"error"`
	Transient       bool           `gorm:"not null" json:"transient"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (DeliveryError) TableName() string { return "email_delivery_errors" }
