package email

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/domain/email"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type TemplateRepo interface {
	Create(dbc dbctx.Context, pk pkey.Policy, t *types.EmailTemplate) (*types.EmailTemplate, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.EmailTemplate, error)
	// GetByType prefers a course-specific template over the global one.
	GetByType(dbc dbctx.Context, tt email.TemplateType, courseID *uuid.UUID) (*types.EmailTemplate, error)
}

type templateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTemplateRepo(db *gorm.DB, baseLog *logger.Logger) TemplateRepo {
	return &templateRepo{db: db, log: baseLog.With("repo", "EmailTemplateRepo")}
}

func (r *templateRepo) Create(dbc dbctx.Context, pk pkey.Policy, t *types.EmailTemplate) (*types.EmailTemplate, error) {
	t.ID = pk.Resolve()
	if t.TemplateType == "" {
		t.TemplateType = email.TemplateGeneric
	}
	if err := dbc.DB(r.db).Create(t).Error; err != nil {
		return nil, aggregates.MapError("EmailTemplateRepo.Create", err)
	}
	return t, nil
}

func (r *templateRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.EmailTemplate, error) {
	var t types.EmailTemplate
	if err := dbc.DB(r.db).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, aggregates.MapError("EmailTemplateRepo.GetByID", err)
	}
	return &t, nil
}

func (r *templateRepo) GetByType(dbc dbctx.Context, tt email.TemplateType, courseID *uuid.UUID) (*types.EmailTemplate, error) {
	q := dbc.DB(r.db).Where("template_type = ?", tt)
	if courseID != nil {
		q = q.Where("course_id = ? OR course_id IS NULL", *courseID).Order("course_id NULLS LAST")
	} else {
		q = q.Where("course_id IS NULL")
	}
	var t types.EmailTemplate
	if err := q.Order("created_at DESC").First(&t).Error; err != nil {
		return nil, aggregates.MapError("EmailTemplateRepo.GetByType", err)
	}
	return &t, nil
}

// ClaimedDelivery is a due delivery joined with what the sender needs.
type ClaimedDelivery struct {
	types.EmailDelivery
	Email    string `gorm:"column:email"`
	Subject  string `gorm:"column:subject"`
	Content  []byte `gorm:"column:content"`
	Template string `gorm:"column:template_name"`
}

type DeliveryRepo interface {
	Enqueue(dbc dbctx.Context, d *types.EmailDelivery) (*types.EmailDelivery, error)
	// ClaimDue leases up to limit unsent, retryable deliveries whose retry
	// time has passed. Deliveries of deleted users or templates are skipped.
	ClaimDue(dbc dbctx.Context, limit int, lease time.Duration) ([]ClaimedDelivery, error)
	MarkSent(dbc dbctx.Context, id uuid.UUID) error
	// RecordFailure stores the error and either schedules the next attempt
	// at nextRetryAt or, when nextRetryAt is nil, stops retrying.
	RecordFailure(dbc dbctx.Context, id uuid.UUID, attempt int, cause string, transient bool, nextRetryAt *time.Time) error
	ListErrors(dbc dbctx.Context, id uuid.UUID) ([]types.EmailDeliveryError, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.EmailDelivery, error)
}

type deliveryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeliveryRepo(db *gorm.DB, baseLog *logger.Logger) DeliveryRepo {
	return &deliveryRepo{db: db, log: baseLog.With("repo", "EmailDeliveryRepo")}
}

func (r *deliveryRepo) Enqueue(dbc dbctx.Context, d *types.EmailDelivery) (*types.EmailDelivery, error) {
	d.Retryable = true
	if err := dbc.DB(r.db).Create(d).Error; err != nil {
		return nil, aggregates.MapError("EmailDeliveryRepo.Enqueue", err)
	}
	return d, nil
}

func (r *deliveryRepo) ClaimDue(dbc dbctx.Context, limit int, lease time.Duration) ([]ClaimedDelivery, error) {
	if limit <= 0 {
		return nil, aggregates.MapError("EmailDeliveryRepo.ClaimDue", aggregates.ValidationError("limit must be positive"))
	}
	out := []ClaimedDelivery{}
	err := dbc.DB(r.db).Raw(`
		WITH due AS (
			SELECT d.id
			FROM email_deliveries d
			JOIN users u ON u.id = d.user_id AND u.deleted_at IS NULL
			JOIN email_templates t ON t.id = d.email_template_id AND t.deleted_at IS NULL
			WHERE d.deleted_at IS NULL
			  AND d.sent = false
			  AND d.retryable = true
			  AND (d.next_retry_at IS NULL OR d.next_retry_at <= now())
			ORDER BY d.next_retry_at NULLS FIRST, d.created_at
			LIMIT ?
			FOR UPDATE OF d SKIP LOCKED
		), claimed AS (
			UPDATE email_deliveries d
			SET next_retry_at = now() + make_interval(secs => ?),
			    last_attempt_at = now(),
			    updated_at = now()
			FROM due
			WHERE d.id = due.id
			RETURNING d.*
		)
		SELECT c.*, u.email, t.subject, t.content, t.name AS template_name
		FROM claimed c
		JOIN users u ON u.id = c.user_id
		JOIN email_templates t ON t.id = c.email_template_id
		ORDER BY c.created_at
	`, limit, lease.Seconds()).Scan(&out).Error
	if err != nil {
		return nil, aggregates.MapError("EmailDeliveryRepo.ClaimDue", err)
	}
	return out, nil
}

func (r *deliveryRepo) MarkSent(dbc dbctx.Context, id uuid.UUID) error {
	res := dbc.DB(r.db).Model(&types.EmailDelivery{}).
		Where("id = ?", id).
		Updates(map[string]any{"sent": true, "next_retry_at": nil, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return aggregates.MapError("EmailDeliveryRepo.MarkSent", res.Error)
	}
	if res.RowsAffected == 0 {
		return aggregates.MapError("EmailDeliveryRepo.MarkSent", gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *deliveryRepo) RecordFailure(dbc dbctx.Context, id uuid.UUID, attempt int, cause string, transient bool, nextRetryAt *time.Time) error {
	return aggregates.Nested(dbc, aggregates.NewGormTxRunner(r.db), func(inner dbctx.Context) error {
		transaction := inner.DB(r.db)
		if err := transaction.Create(&types.EmailDeliveryError{
			EmailDeliveryID: id,
			Attempt:         attempt,
			Error:           cause,
			Transient:       transient,
		}).Error; err != nil {
			return aggregates.MapError("EmailDeliveryRepo.RecordFailure", err)
		}
		now := time.Now().UTC()
		updates := map[string]any{
			"retry_count":     attempt,
			"first_failed_at": gorm.Expr("COALESCE(first_failed_at, ?)", now),
			"updated_at":      now,
		}
		if nextRetryAt == nil {
			updates["retryable"] = false
			updates["next_retry_at"] = nil
		} else {
			updates["next_retry_at"] = nextRetryAt.UTC()
		}
		res := transaction.Model(&types.EmailDelivery{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return aggregates.MapError("EmailDeliveryRepo.RecordFailure", res.Error)
		}
		if res.RowsAffected == 0 {
			return aggregates.MapError("EmailDeliveryRepo.RecordFailure", gorm.ErrRecordNotFound)
		}
		return nil
	})
}

func (r *deliveryRepo) ListErrors(dbc dbctx.Context, id uuid.UUID) ([]types.EmailDeliveryError, error) {
	out := []types.EmailDeliveryError{}
	if err := dbc.DB(r.db).Where("email_delivery_id = ?", id).Order("attempt ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("EmailDeliveryRepo.ListErrors", err)
	}
	return out, nil
}

func (r *deliveryRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.EmailDelivery, error) {
	var d types.EmailDelivery
	if err := dbc.DB(r.db).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, aggregates.MapError("EmailDeliveryRepo.GetByID", err)
	}
	return &d, nil
}
