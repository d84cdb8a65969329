package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// AccountTokenRepo stores email verification tokens and password reset codes.
type AccountTokenRepo interface {
	CreateVerification(dbc dbctx.Context, t *types.EmailVerificationToken) (*types.EmailVerificationToken, error)
	// UseVerification marks the unexpired, unused token as used and returns it.
	UseVerification(dbc dbctx.Context, digest []byte) (*types.EmailVerificationToken, error)

	CreateResetCode(dbc dbctx.Context, c *types.PasswordResetCode) (*types.PasswordResetCode, error)
	// ActiveResetCode returns the newest unexpired, unused code for the user.
	ActiveResetCode(dbc dbctx.Context, userID uuid.UUID) (*types.PasswordResetCode, error)
	IncrementResetAttempts(dbc dbctx.Context, id uuid.UUID) error
	MarkResetUsed(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type accountTokenRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAccountTokenRepo(db *gorm.DB, baseLog *logger.Logger) AccountTokenRepo {
	return &accountTokenRepo{db: db, log: baseLog.With("repo", "AccountTokenRepo")}
}

func (r *accountTokenRepo) CreateVerification(dbc dbctx.Context, t *types.EmailVerificationToken) (*types.EmailVerificationToken, error) {
	if err := dbc.DB(r.db).Create(t).Error; err != nil {
		return nil, aggregates.MapError("AccountTokenRepo.CreateVerification", err)
	}
	return t, nil
}

func (r *accountTokenRepo) UseVerification(dbc dbctx.Context, digest []byte) (*types.EmailVerificationToken, error) {
	out := []types.EmailVerificationToken{}
	err := dbc.DB(r.db).Raw(`
		UPDATE email_verification_tokens
		SET used_at = now(), updated_at = now()
		WHERE token_digest = ? AND used_at IS NULL AND expires_at > now() AND deleted_at IS NULL
		RETURNING *
	`, digest).Scan(&out).Error
	if err != nil {
		return nil, aggregates.MapError("AccountTokenRepo.UseVerification", err)
	}
	if len(out) == 0 {
		return nil, aggregates.MapError("AccountTokenRepo.UseVerification", gorm.ErrRecordNotFound)
	}
	return &out[0], nil
}

func (r *accountTokenRepo) CreateResetCode(dbc dbctx.Context, c *types.PasswordResetCode) (*types.PasswordResetCode, error) {
	transaction := dbc.DB(r.db)
	// Issuing a new code retires the previous ones.
	if err := transaction.Where("user_id = ? AND used_at IS NULL", c.UserID).Delete(&types.PasswordResetCode{}).Error; err != nil {
		return nil, aggregates.MapError("AccountTokenRepo.CreateResetCode", err)
	}
	if err := transaction.Create(c).Error; err != nil {
		return nil, aggregates.MapError("AccountTokenRepo.CreateResetCode", err)
	}
	return c, nil
}

func (r *accountTokenRepo) ActiveResetCode(dbc dbctx.Context, userID uuid.UUID) (*types.PasswordResetCode, error) {
	var c types.PasswordResetCode
	err := dbc.DB(r.db).
		Where("user_id = ? AND used_at IS NULL AND expires_at > ?", userID, time.Now().UTC()).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		return nil, aggregates.MapError("AccountTokenRepo.ActiveResetCode", err)
	}
	return &c, nil
}

func (r *accountTokenRepo) IncrementResetAttempts(dbc dbctx.Context, id uuid.UUID) error {
	err := dbc.DB(r.db).Model(&types.PasswordResetCode{}).
		Where("id = ?", id).
		Updates(map[string]any{"attempts": gorm.Expr("attempts + 1"), "updated_at": time.Now().UTC()}).Error
	return aggregates.MapError("AccountTokenRepo.IncrementResetAttempts", err)
}

func (r *accountTokenRepo) MarkResetUsed(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	res := dbc.DB(r.db).Model(&types.PasswordResetCode{}).
		Where("id = ? AND used_at IS NULL", id).
		Updates(map[string]any{"used_at": time.Now().UTC(), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, aggregates.MapError("AccountTokenRepo.MarkResetUsed", res.Error)
	}
	return res.RowsAffected == 1, nil
}
