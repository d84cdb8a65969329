package completion

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

type CertificateRepo interface {
	CreateConfiguration(dbc dbctx.Context, pk pkey.Policy, cfg *types.CertificateConfiguration, moduleIDs []uuid.UUID) (*types.CertificateConfiguration, error)
	GetConfiguration(dbc dbctx.Context, id uuid.UUID) (*types.CertificateConfiguration, error)
	ListRequirements(dbc dbctx.Context, configID uuid.UUID) ([]types.CertificateConfigurationRequirement, error)
	// GetLive returns the user's live certificate for the configuration, or nil.
	GetLive(dbc dbctx.Context, userID, configID uuid.UUID) (*types.GeneratedCertificate, error)
	Create(dbc dbctx.Context, c *types.GeneratedCertificate) (*types.GeneratedCertificate, error)
	SetBlobPath(dbc dbctx.Context, id uuid.UUID, path string) error
	GetByVerificationID(dbc dbctx.Context, verificationID string) (*types.GeneratedCertificate, error)
	SoftDelete(dbc dbctx.Context, id uuid.UUID) error
}

type certificateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCertificateRepo(db *gorm.DB, baseLog *logger.Logger) CertificateRepo {
	return &certificateRepo{db: db, log: baseLog.With("repo", "CertificateRepo")}
}

func (r *certificateRepo) CreateConfiguration(dbc dbctx.Context, pk pkey.Policy, cfg *types.CertificateConfiguration, moduleIDs []uuid.UUID) (*types.CertificateConfiguration, error) {
	transaction := dbc.DB(r.db)
	cfg.ID = pk.Resolve()
	if err := transaction.Create(cfg).Error; err != nil {
		return nil, aggregates.MapError("CertificateRepo.CreateConfiguration", err)
	}
	for _, moduleID := range moduleIDs {
		req := &types.CertificateConfigurationRequirement{CertificateConfigurationID: cfg.ID, CourseModuleID: moduleID}
		if err := transaction.Create(req).Error; err != nil {
			return nil, aggregates.MapError("CertificateRepo.CreateConfiguration", err)
		}
	}
	return cfg, nil
}

func (r *certificateRepo) GetConfiguration(dbc dbctx.Context, id uuid.UUID) (*types.CertificateConfiguration, error) {
	var cfg types.CertificateConfiguration
	if err := dbc.DB(r.db).Where("id = ?", id).First(&cfg).Error; err != nil {
		return nil, aggregates.MapError("CertificateRepo.GetConfiguration", err)
	}
	return &cfg, nil
}

func (r *certificateRepo) ListRequirements(dbc dbctx.Context, configID uuid.UUID) ([]types.CertificateConfigurationRequirement, error) {
	out := []types.CertificateConfigurationRequirement{}
	if err := dbc.DB(r.db).Where("certificate_configuration_id = ?", configID).Find(&out).Error; err != nil {
		return nil, aggregates.MapError("CertificateRepo.ListRequirements", err)
	}
	return out, nil
}

func (r *certificateRepo) GetLive(dbc dbctx.Context, userID, configID uuid.UUID) (*types.GeneratedCertificate, error) {
	out := []types.GeneratedCertificate{}
	err := dbc.DB(r.db).
		Where("user_id = ? AND certificate_configuration_id = ?", userID, configID).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, aggregates.MapError("CertificateRepo.GetLive", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (r *certificateRepo) Create(dbc dbctx.Context, c *types.GeneratedCertificate) (*types.GeneratedCertificate, error) {
	if err := dbc.DB(r.db).Create(c).Error; err != nil {
		return nil, aggregates.MapError("CertificateRepo.Create", err)
	}
	return c, nil
}

func (r *certificateRepo) SetBlobPath(dbc dbctx.Context, id uuid.UUID, path string) error {
	err := dbc.DB(r.db).Model(&types.GeneratedCertificate{}).
		Where("id = ?", id).
		Updates(map[string]any{"blob_path": path, "updated_at": time.Now().UTC()}).Error
	return aggregates.MapError("CertificateRepo.SetBlobPath", err)
}

func (r *certificateRepo) GetByVerificationID(dbc dbctx.Context, verificationID string) (*types.GeneratedCertificate, error) {
	var c types.GeneratedCertificate
	if err := dbc.DB(r.db).Where("verification_id = ?", verificationID).First(&c).Error; err != nil {
		return nil, aggregates.MapError("CertificateRepo.GetByVerificationID", err)
	}
	return &c, nil
}

func (r *certificateRepo) SoftDelete(dbc dbctx.Context, id uuid.UUID) error {
	res := dbc.DB(r.db).Where("id = ?", id).Delete(&types.GeneratedCertificate{})
	if res.Error != nil {
		return aggregates.MapError("CertificateRepo.SoftDelete", res.Error)
	}
	if res.RowsAffected == 0 {
		return aggregates.MapError("CertificateRepo.SoftDelete", gorm.ErrRecordNotFound)
	}
	return nil
}
