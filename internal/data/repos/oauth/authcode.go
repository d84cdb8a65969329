package oauth

import (
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type AuthCodeRepo interface {
	Insert(dbc dbctx.Context, code *types.OAuthAuthCode) (*types.OAuthAuthCode, error)
	// Consume marks the live, unexpired code matching any of digests as used
	// and returns it. Under concurrent callers exactly one succeeds; the
	// rest get not_found.
	Consume(dbc dbctx.Context, digests [][]byte) (*types.OAuthAuthCode, error)
	PruneExpired(dbc dbctx.Context) (int64, error)
}

type authCodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuthCodeRepo(db *gorm.DB, baseLog *logger.Logger) AuthCodeRepo {
	return &authCodeRepo{db: db, log: baseLog.With("repo", "OAuthAuthCodeRepo")}
}

func (r *authCodeRepo) Insert(dbc dbctx.Context, code *types.OAuthAuthCode) (*types.OAuthAuthCode, error) {
	if err := dbc.DB(r.db).Create(code).Error; err != nil {
		return nil, aggregates.MapError("OAuthAuthCodeRepo.Insert", err)
	}
	return code, nil
}

func (r *authCodeRepo) Consume(dbc dbctx.Context, digests [][]byte) (*types.OAuthAuthCode, error) {
	if len(digests) == 0 {
		return nil, aggregates.MapError("OAuthAuthCodeRepo.Consume", gorm.ErrRecordNotFound)
	}
	out := []types.OAuthAuthCode{}
	err := dbc.DB(r.db).Raw(`
		UPDATE oauth_auth_codes
		SET used = true, updated_at = now()
		WHERE digest IN ?
		  AND used = false
		  AND expires_at > now()
		RETURNING *
	`, digests).Scan(&out).Error
	if err != nil {
		return nil, aggregates.MapError("OAuthAuthCodeRepo.Consume", err)
	}
	if len(out) == 0 {
		return nil, aggregates.MapError("OAuthAuthCodeRepo.Consume", gorm.ErrRecordNotFound)
	}
	return &out[0], nil
}

func (r *authCodeRepo) PruneExpired(dbc dbctx.Context) (int64, error) {
	res := dbc.DB(r.db).Exec(`DELETE FROM oauth_auth_codes WHERE expires_at < now() - interval '1 day'`)
	if res.Error != nil {
		return 0, aggregates.MapError("OAuthAuthCodeRepo.PruneExpired", res.Error)
	}
	return res.RowsAffected, nil
}
