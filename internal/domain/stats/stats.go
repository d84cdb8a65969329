package stats

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PageVisitDatum is one anonymized page view.
type PageVisitDatum struct {
	ID                     uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID               *uuid.UUID     `gorm:"type:uuid;index" json:"course_id,omitempty"`
	ExamID                 *uuid.UUID     `gorm:"type:uuid" json:"exam_id,omitempty"`
	PageID                 uuid.UUID      `gorm:"type:uuid;not null;index" json:"page_id"`
	Country                *string        `json:"country,omitempty"`
	Browser                *string        `json:"browser,omitempty"`
	BrowserVersion         *string        `json:"browser_version,omitempty"`
	OperatingSystem        *string        `json:"operating_system,omitempty"`
	OperatingSystemVersion *string        `json:"operating_system_version,omitempty"`
	DeviceType             *string        `json:"device_type,omitempty"`
	Referrer               *string        `json:"referrer,omitempty"`
	IsBot                  bool           `gorm:"not null;default:false" json:"is_bot"`
	UtmSource              *string        `json:"utm_source,omitempty"`
	UtmMedium              *string        `json:"utm_medium,omitempty"`
	UtmCampaign            *string        `json:"utm_campaign,omitempty"`
	UtmTerm                *string        `json:"utm_term,omitempty"`
	UtmContent             *string        `json:"utm_content,omitempty"`
	UtmTags                datatypes.JSON `gorm:"type:jsonb;column:utm_tags" json:"utm_tags,omitempty"`
	AnonymousIdentifier    string         `gorm:"not null" json:"anonymous_identifier"`
	CreatedAt              time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt              time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt              gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (PageVisitDatum) TableName() string { return "page_visit_datum" }

// DailyVisitHashingKey is generated once per UTC date and never changes.
type DailyVisitHashingKey struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	HashingKey   []byte    `gorm:"type:bytea;not null" json:"-"`
	ValidForDate time.Time `gorm:"type:date;not null" json:"valid_for_date"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (DailyVisitHashingKey) TableName() string { return "page_visit_datum_daily_visit_hashing_keys" }

type SummaryByCourse struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	Country     *string        `json:"country,omitempty"`
	DeviceType  *string        `json:"device_type,omitempty"`
	Referrer    *string        `json:"referrer,omitempty"`
	UtmSource   *string        `json:"utm_source,omitempty"`
	UtmMedium   *string        `json:"utm_medium,omitempty"`
	UtmCampaign *string        `json:"utm_campaign,omitempty"`
	UtmTerm     *string        `json:"utm_term,omitempty"`
	UtmContent  *string        `json:"utm_content,omitempty"`
	NumVisitors int            `gorm:"not null" json:"num_visitors"`
	VisitDate   time.Time      `gorm:"type:date;not null" json:"visit_date"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SummaryByCourse) TableName() string { return "page_visit_datum_summary_by_courses" }

type SummaryByPage struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	PageID      uuid.UUID      `gorm:"type:uuid;not null" json:"page_id"`
	NumVisitors int            `gorm:"not null" json:"num_visitors"`
	VisitDate   time.Time      `gorm:"type:date;not null" json:"visit_date"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SummaryByPage) TableName() string { return "page_visit_datum_summary_by_pages" }

type SummaryByDevice struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	DeviceType      *string        `json:"device_type,omitempty"`
	OperatingSystem *string        `json:"operating_system,omitempty"`
	Browser         *string        `json:"browser,omitempty"`
	NumVisitors     int            `gorm:"not null" json:"num_visitors"`
	VisitDate       time.Time      `gorm:"type:date;not null" json:"visit_date"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SummaryByDevice) TableName() string { return "page_visit_datum_summary_by_courses_device_types" }

type SummaryByCountry struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	Country     *string        `json:"country,omitempty"`
	NumVisitors int            `gorm:"not null" json:"num_visitors"`
	VisitDate   time.Time      `gorm:"type:date;not null" json:"visit_date"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SummaryByCountry) TableName() string { return "page_visit_datum_summary_by_courses_countries" }

// RollupWatermark stores the last visit date that has been summarized.
type RollupWatermark struct {
	Name          string    `gorm:"primaryKey" json:"name"`
	LastRolledUp  time.Time `gorm:"type:date;not null" json:"last_rolled_up"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (RollupWatermark) TableName() string { return "page_visit_datum_rollup_watermarks" }
