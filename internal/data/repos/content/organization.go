package content

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type OrganizationRepo interface {
	Create(dbc dbctx.Context, pk pkey.Policy, org *types.Organization) (*types.Organization, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Organization, error)
	GetBySlug(dbc dbctx.Context, slug string) (*types.Organization, error)
}

type organizationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOrganizationRepo(db *gorm.DB, baseLog *logger.Logger) OrganizationRepo {
	return &organizationRepo{db: db, log: baseLog.With("repo", "OrganizationRepo")}
}

func (r *organizationRepo) Create(dbc dbctx.Context, pk pkey.Policy, org *types.Organization) (*types.Organization, error) {
	org.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(org).Error; err != nil {
		return nil, aggregates.MapError("OrganizationRepo.Create", err)
	}
	return org, nil
}

func (r *organizationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Organization, error) {
	var org types.Organization
	if err := dbc.DB(r.db).Where("id = ?", id).First(&org).Error; err != nil {
		return nil, aggregates.MapError("OrganizationRepo.GetByID", err)
	}
	return &org, nil
}

func (r *organizationRepo) GetBySlug(dbc dbctx.Context, slug string) (*types.Organization, error) {
	var org types.Organization
	if err := dbc.DB(r.db).Where("slug = ?", slug).First(&org).Error; err != nil {
		return nil, aggregates.MapError("OrganizationRepo.GetBySlug", err)
	}
	return &org, nil
}
