package oauth

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// ConsentRepo stores the scopes a user has granted each client.
type ConsentRepo interface {
	Grant(dbc dbctx.Context, userID, clientID uuid.UUID, scopes []string) error
	Scopes(dbc dbctx.Context, userID, clientID uuid.UUID) ([]string, error)
	Revoke(dbc dbctx.Context, userID, clientID uuid.UUID) error
}

type consentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConsentRepo(db *gorm.DB, baseLog *logger.Logger) ConsentRepo {
	return &consentRepo{db: db, log: baseLog.With("repo", "OAuthConsentRepo")}
}

func (r *consentRepo) Grant(dbc dbctx.Context, userID, clientID uuid.UUID, scopes []string) error {
	transaction := dbc.DB(r.db)
	for _, scope := range scopes {
		err := transaction.Exec(`
			INSERT INTO oauth_user_client_scopes (user_id, client_id, scope)
			VALUES (?, ?, ?)
			ON CONFLICT ON CONSTRAINT oauth_user_client_scopes_key DO NOTHING
		`, userID, clientID, scope).Error
		if err != nil {
			return aggregates.MapError("OAuthConsentRepo.Grant", err)
		}
	}
	return nil
}

func (r *consentRepo) Scopes(dbc dbctx.Context, userID, clientID uuid.UUID) ([]string, error) {
	out := []string{}
	err := dbc.DB(r.db).Model(&types.OAuthUserClientScope{}).
		Where("user_id = ? AND client_id = ?", userID, clientID).
		Order("scope ASC").
		Pluck("scope", &out).Error
	if err != nil {
		return nil, aggregates.MapError("OAuthConsentRepo.Scopes", err)
	}
	return out, nil
}

func (r *consentRepo) Revoke(dbc dbctx.Context, userID, clientID uuid.UUID) error {
	err := dbc.DB(r.db).
		Where("user_id = ? AND client_id = ?", userID, clientID).
		Delete(&types.OAuthUserClientScope{}).Error
	return aggregates.MapError("OAuthConsentRepo.Revoke", err)
}
