package chatbot

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Configuration: at most one live row per course may have DefaultChatbot set.
type Configuration struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	ChatbotName       string         `gorm:"not null" json:"chatbot_name"`
	Prompt            string         `gorm:"not null;default:''" json:"prompt"`
	InitialMessage    string         `gorm:"not null;default:''" json:"initial_message"`
	EnabledToStudents bool           `gorm:"not null;default:false" json:"enabled_to_students"`
	DefaultChatbot    bool           `gorm:"not null;default:false" json:"default_chatbot"`
	Temperature       float64        `gorm:"not null;default:0.7" json:"temperature"`
	MaxTokens         int            `gorm:"not null;default:500" json:"max_tokens"`
	CreatedAt         time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Configuration) TableName() string { return "chatbot_configurations" }
