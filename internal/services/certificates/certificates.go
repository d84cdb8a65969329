package certificates

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/gcp"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/validate"
)

const (
	verificationConstraint  = "generated_certificates_verification_id_key"
	maxVerificationAttempts = 5
)

type GenerateRequest struct {
	UserID                     uuid.UUID `json:"-" validate:"required"`
	CertificateConfigurationID uuid.UUID `json:"certificate_configuration_id" validate:"required"`
	NameOnCertificate          string    `json:"name_on_certificate" validate:"required,max=200"`
}

type Certificate struct {
	types.GeneratedCertificate
	DownloadURL string `json:"download_url"`
}

type CertificateService interface {
	// Generate issues the user's certificate for a configuration once every
	// required module has a passed completion. Generating again returns the
	// live certificate.
	Generate(ctx context.Context, in GenerateRequest) (*Certificate, error)
	Verify(ctx context.Context, verificationID string) (*Certificate, error)
	// Download streams the rendered PNG.
	Download(ctx context.Context, verificationID string) (io.ReadCloser, error)
}

type certificateService struct {
	db     *gorm.DB
	log    *logger.Logger
	repos  repos.Set
	blobs  gcp.BlobStore
	runner aggregates.TxRunner
	newID  func() (string, error)
}

// NewCertificateService issues certificates. With a nil blob store they are
// recorded without a rendered image.
func NewCertificateService(db *gorm.DB, baseLog *logger.Logger, r repos.Set, blobs gcp.BlobStore) CertificateService {
	return &certificateService{
		db:     db,
		log:    baseLog.With("service", "CertificateService"),
		repos:  r,
		blobs:  blobs,
		runner: aggregates.NewGormTxRunner(db),
		newID:  NewVerificationID,
	}
}

func ObjectPath(organizationID uuid.UUID, verificationID string) string {
	return fmt.Sprintf("organizations/%s/certificates/%s.png", organizationID, verificationID)
}

func (s *certificateService) Generate(ctx context.Context, in GenerateRequest) (*Certificate, error) {
	const op = "CertificateService.Generate"
	if err := validate.Struct(op, in); err != nil {
		return nil, err
	}
	ctx, span := observability.StartSpan(ctx, "certificate.generate",
		attribute.String("certificate_configuration_id", in.CertificateConfigurationID.String()))
	defer span.End()

	var (
		cert          *types.GeneratedCertificate
		cfg           *types.CertificateConfiguration
		completedAt   time.Time
		alreadyIssued bool
	)
	err := aggregates.ExecuteWrite(ctx, aggregates.BaseDeps{DB: s.db, Log: s.log, Runner: s.runner}, op, func(dbc dbctx.Context) error {
		var err error
		cfg, err = s.repos.Certificates.GetConfiguration(dbc, in.CertificateConfigurationID)
		if err != nil {
			return err
		}
		completedAt, err = s.requirementsMet(dbc, in.UserID, cfg.ID)
		if err != nil {
			return err
		}
		live, err := s.repos.Certificates.GetLive(dbc, in.UserID, cfg.ID)
		if err != nil {
			return err
		}
		if live != nil {
			cert, alreadyIssued = live, true
			return nil
		}
		cert, err = s.createWithUniqueID(dbc, &types.GeneratedCertificate{
			UserID:                     in.UserID,
			CertificateConfigurationID: cfg.ID,
			NameOnCertificate:          in.NameOnCertificate,
		})
		return err
	})
	if err != nil {
		observability.Current().IncCertificate("rejected")
		return nil, err
	}

	if cert.BlobPath == nil && s.blobs != nil {
		if err := s.renderAndUpload(ctx, cfg, cert, completedAt); err != nil {
			observability.Current().IncCertificate("render_failed")
			return nil, err
		}
	}
	if alreadyIssued {
		observability.Current().IncCertificate("existing")
	} else {
		observability.Current().IncCertificate("generated")
		s.log.Info("certificate generated", "certificate_id", cert.ID, "user_id", in.UserID)
	}
	return s.withURL(cert), nil
}

// requirementsMet returns the latest completion date among the required
// modules, or a precondition error naming the first missing module.
func (s *certificateService) requirementsMet(dbc dbctx.Context, userID, configID uuid.UUID) (time.Time, error) {
	const op = "CertificateService.requirementsMet"
	reqs, err := s.repos.Certificates.ListRequirements(dbc, configID)
	if err != nil {
		return time.Time{}, err
	}
	if len(reqs) == 0 {
		return time.Time{}, domainagg.Precondition(op, "certificate configuration has no required modules")
	}
	moduleIDs := make([]uuid.UUID, 0, len(reqs))
	for _, r := range reqs {
		moduleIDs = append(moduleIDs, r.CourseModuleID)
	}
	passed, err := s.repos.Completions.ListPassedForUser(dbc, userID, moduleIDs)
	if err != nil {
		return time.Time{}, err
	}

	var latest time.Time
	for _, r := range reqs {
		found := false
		for _, c := range passed {
			if c.CourseModuleID != r.CourseModuleID {
				continue
			}
			if r.CourseInstanceID != nil && c.CourseInstanceID != *r.CourseInstanceID {
				continue
			}
			found = true
			if c.CompletionDate.After(latest) {
				latest = c.CompletionDate
			}
		}
		if !found {
			return time.Time{}, domainagg.Precondition(op, "no passed completion for module "+r.CourseModuleID.String())
		}
	}
	return latest, nil
}

// createWithUniqueID retries inside savepoints so a verification id
// collision does not abort the surrounding transaction.
func (s *certificateService) createWithUniqueID(dbc dbctx.Context, cert *types.GeneratedCertificate) (*types.GeneratedCertificate, error) {
	var lastErr error
	for attempt := 0; attempt < maxVerificationAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, err
		}
		candidate := *cert
		candidate.VerificationID = id
		var created *types.GeneratedCertificate
		err = aggregates.Nested(dbc, s.runner, func(dbc dbctx.Context) error {
			var err error
			created, err = s.repos.Certificates.Create(dbc, &candidate)
			return err
		})
		if err == nil {
			return created, nil
		}
		if !aggregates.IsUniqueViolation(err, verificationConstraint) {
			return nil, err
		}
		s.log.Warn("verification id collision, retrying", "attempt", attempt+1)
		lastErr = err
	}
	return nil, domainagg.NewError(domainagg.CodeConflict, "CertificateService.createWithUniqueID",
		"could not allocate a unique verification id", lastErr)
}

func (s *certificateService) renderAndUpload(ctx context.Context, cfg *types.CertificateConfiguration, cert *types.GeneratedCertificate, completedAt time.Time) error {
	background, err := s.readBlob(ctx, cfg.BackgroundBlobPath)
	if err != nil {
		return fmt.Errorf("load certificate background: %w", err)
	}
	var fontBytes []byte
	if cfg.FontBlobPath != nil && *cfg.FontBlobPath != "" {
		if fontBytes, err = s.readBlob(ctx, *cfg.FontBlobPath); err != nil {
			return fmt.Errorf("load certificate font: %w", err)
		}
	}
	if completedAt.IsZero() {
		completedAt = cert.CreatedAt
	}
	png, err := Render(cfg, background, fontBytes, Layout{
		Name:         cert.NameOnCertificate,
		Date:         completedAt,
		Verification: cert.VerificationID,
		Locale:       cfg.CertificateLocale,
	})
	if err != nil {
		return err
	}
	path := ObjectPath(cfg.OrganizationID, cert.VerificationID)
	if err := s.blobs.Upload(ctx, path, bytes.NewReader(png), "image/png"); err != nil {
		return fmt.Errorf("upload certificate: %w", err)
	}
	if err := s.repos.Certificates.SetBlobPath(dbctx.Context{Ctx: ctx}, cert.ID, path); err != nil {
		return err
	}
	cert.BlobPath = &path
	return nil
}

func (s *certificateService) readBlob(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.blobs.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *certificateService) withURL(cert *types.GeneratedCertificate) *Certificate {
	out := &Certificate{GeneratedCertificate: *cert}
	if cert.BlobPath != nil && s.blobs != nil {
		out.DownloadURL = s.blobs.DirectURL(*cert.BlobPath)
	}
	return out
}

func (s *certificateService) lookup(ctx context.Context, verificationID string) (*types.GeneratedCertificate, error) {
	const op = "CertificateService.Verify"
	id := NormalizeVerificationID(verificationID)
	if !ValidVerificationID(id) {
		return nil, domainagg.Invalid(op, "malformed verification id")
	}
	return s.repos.Certificates.GetByVerificationID(dbctx.Context{Ctx: ctx}, id)
}

func (s *certificateService) Verify(ctx context.Context, verificationID string) (*Certificate, error) {
	cert, err := s.lookup(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	return s.withURL(cert), nil
}

func (s *certificateService) Download(ctx context.Context, verificationID string) (io.ReadCloser, error) {
	cert, err := s.lookup(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if cert.BlobPath == nil || s.blobs == nil {
		return nil, domainagg.NotFound("CertificateService.Download", "certificate image has not been rendered")
	}
	return s.blobs.Download(ctx, *cert.BlobPath)
}
