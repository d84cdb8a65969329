package completion

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CertificateConfiguration describes how a certificate image is drawn.
// Positions are fractions of the background width/height.
type CertificateConfiguration struct {
	ID                    uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OrganizationID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"organization_id"`
	BackgroundBlobPath    string         `gorm:"not null" json:"background_blob_path"`
	FontBlobPath          *string        `json:"font_blob_path,omitempty"`
	CertificateLocale     string         `gorm:"not null;default:'en'" json:"certificate_locale"`
	NameFontSize          float64        `gorm:"not null;default:48" json:"name_font_size"`
	NamePosX              float64        `gorm:"not null;default:0.5" json:"name_pos_x"`
	NamePosY              float64        `gorm:"not null;default:0.45" json:"name_pos_y"`
	DateFontSize          float64        `gorm:"not null;default:24" json:"date_font_size"`
	DatePosX              float64        `gorm:"not null;default:0.5" json:"date_pos_x"`
	DatePosY              float64        `gorm:"not null;default:0.6" json:"date_pos_y"`
	VerificationFontSize  float64        `gorm:"not null;default:16" json:"verification_font_size"`
	VerificationPosX      float64        `gorm:"not null;default:0.5" json:"verification_pos_x"`
	VerificationPosY      float64        `gorm:"not null;default:0.9" json:"verification_pos_y"`
	TextColor             string         `gorm:"not null;default:'#000000'" json:"text_color"`
	CreatedAt             time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt             gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CertificateConfiguration) TableName() string { return "certificate_configurations" }

type CertificateConfigurationRequirement struct {
	ID                         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CertificateConfigurationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"certificate_configuration_id"`
	CourseModuleID             uuid.UUID      `gorm:"type:uuid;not null" json:"course_module_id"`
	CourseInstanceID           *uuid.UUID     `gorm:"type:uuid" json:"course_instance_id,omitempty"`
	CreatedAt                  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CertificateConfigurationRequirement) TableName() string {
	return "certificate_configuration_requirements"
}

// GeneratedCertificate is unique per (user, configuration) while live.
type GeneratedCertificate struct {
	ID                         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID                     uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	CertificateConfigurationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"certificate_configuration_id"`
	NameOnCertificate          string         `gorm:"not null" json:"name_on_certificate"`
	VerificationID             string         `gorm:"not null;column:verification_id" json:"verification_id"`
	BlobPath                   *string        `json:"blob_path,omitempty"`
	CreatedAt                  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (GeneratedCertificate) TableName() string { return "generated_certificates" }
