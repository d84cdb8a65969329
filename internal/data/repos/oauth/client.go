package oauth

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type ClientRepo interface {
	Create(dbc dbctx.Context, pk pkey.Policy, c *types.OAuthClient) (*types.OAuthClient, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.OAuthClient, error)
	GetByClientID(dbc dbctx.Context, clientID string) (*types.OAuthClient, error)
	List(dbc dbctx.Context) ([]types.OAuthClient, error)
}

type clientRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClientRepo(db *gorm.DB, baseLog *logger.Logger) ClientRepo {
	return &clientRepo{db: db, log: baseLog.With("repo", "OAuthClientRepo")}
}

func (r *clientRepo) Create(dbc dbctx.Context, pk pkey.Policy, c *types.OAuthClient) (*types.OAuthClient, error) {
	c.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(c).Error; err != nil {
		return nil, aggregates.MapError("OAuthClientRepo.Create", err)
	}
	return c, nil
}

func (r *clientRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.OAuthClient, error) {
	var c types.OAuthClient
	if err := dbc.DB(r.db).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, aggregates.MapError("OAuthClientRepo.GetByID", err)
	}
	return &c, nil
}

func (r *clientRepo) GetByClientID(dbc dbctx.Context, clientID string) (*types.OAuthClient, error) {
	var c types.OAuthClient
	if err := dbc.DB(r.db).Where("client_id = ?", clientID).First(&c).Error; err != nil {
		return nil, aggregates.MapError("OAuthClientRepo.GetByClientID", err)
	}
	return &c, nil
}

func (r *clientRepo) List(dbc dbctx.Context) ([]types.OAuthClient, error) {
	out := []types.OAuthClient{}
	if err := dbc.DB(r.db).Order("client_id ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("OAuthClientRepo.List", err)
	}
	return out, nil
}
