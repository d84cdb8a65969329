package chatbot

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type ConfigurationRepo interface {
	Create(dbc dbctx.Context, pk pkey.Policy, c *types.ChatbotConfiguration) (*types.ChatbotConfiguration, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ChatbotConfiguration, error)
	ListByCourse(dbc dbctx.Context, courseID uuid.UUID) ([]types.ChatbotConfiguration, error)
	// Default returns the course's default chatbot, or nil when none is set.
	Default(dbc dbctx.Context, courseID uuid.UUID) (*types.ChatbotConfiguration, error)
	Update(dbc dbctx.Context, c *types.ChatbotConfiguration) error
	SoftDelete(dbc dbctx.Context, id uuid.UUID) error
}

type configurationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConfigurationRepo(db *gorm.DB, baseLog *logger.Logger) ConfigurationRepo {
	return &configurationRepo{db: db, log: baseLog.With("repo", "ChatbotConfigurationRepo")}
}

func validate(c *types.ChatbotConfiguration) error {
	if c.ChatbotName == "" {
		return aggregates.ValidationError("chatbot_name is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return aggregates.ValidationError("temperature must be within [0, 2]")
	}
	if c.MaxTokens <= 0 {
		return aggregates.ValidationError("max_tokens must be positive")
	}
	return nil
}

func (r *configurationRepo) Create(dbc dbctx.Context, pk pkey.Policy, c *types.ChatbotConfiguration) (*types.ChatbotConfiguration, error) {
	if c.MaxTokens == 0 {
		c.MaxTokens = 500
	}
	if err := validate(c); err != nil {
		return nil, aggregates.MapError("ChatbotConfigurationRepo.Create", err)
	}
	c.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(c).Error; err != nil {
		return nil, aggregates.MapError("ChatbotConfigurationRepo.Create", err)
	}
	return c, nil
}

func (r *configurationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ChatbotConfiguration, error) {
	var c types.ChatbotConfiguration
	if err := dbc.DB(r.db).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, aggregates.MapError("ChatbotConfigurationRepo.GetByID", err)
	}
	return &c, nil
}

func (r *configurationRepo) ListByCourse(dbc dbctx.Context, courseID uuid.UUID) ([]types.ChatbotConfiguration, error) {
	out := []types.ChatbotConfiguration{}
	if err := dbc.DB(r.db).Where("course_id = ?", courseID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("ChatbotConfigurationRepo.ListByCourse", err)
	}
	return out, nil
}

func (r *configurationRepo) Default(dbc dbctx.Context, courseID uuid.UUID) (*types.ChatbotConfiguration, error) {
	out := []types.ChatbotConfiguration{}
	if err := dbc.DB(r.db).Where("course_id = ? AND default_chatbot", courseID).Limit(1).Find(&out).Error; err != nil {
		return nil, aggregates.MapError("ChatbotConfigurationRepo.Default", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (r *configurationRepo) Update(dbc dbctx.Context, c *types.ChatbotConfiguration) error {
	if err := validate(c); err != nil {
		return aggregates.MapError("ChatbotConfigurationRepo.Update", err)
	}
	res := dbc.DB(r.db).Model(&types.ChatbotConfiguration{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"chatbot_name":        c.ChatbotName,
			"prompt":              c.Prompt,
			"initial_message":     c.InitialMessage,
			"enabled_to_students": c.EnabledToStudents,
			"default_chatbot":     c.DefaultChatbot,
			"temperature":         c.Temperature,
			"max_tokens":          c.MaxTokens,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return aggregates.MapError("ChatbotConfigurationRepo.Update", res.Error)
	}
	if res.RowsAffected == 0 {
		return aggregates.MapError("ChatbotConfigurationRepo.Update", gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *configurationRepo) SoftDelete(dbc dbctx.Context, id uuid.UUID) error {
	res := dbc.DB(r.db).Where("id = ?", id).Delete(&types.ChatbotConfiguration{})
	if res.Error != nil {
		return aggregates.MapError("ChatbotConfigurationRepo.SoftDelete", res.Error)
	}
	if res.RowsAffected == 0 {
		return aggregates.MapError("ChatbotConfigurationRepo.SoftDelete", gorm.ErrRecordNotFound)
	}
	return nil
}
