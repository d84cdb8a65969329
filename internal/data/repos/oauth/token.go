package oauth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type TokenRepo interface {
	InsertAccess(dbc dbctx.Context, t *types.OAuthAccessToken) (*types.OAuthAccessToken, error)
	// FindActiveAccess returns an unrevoked, unexpired access token.
	FindActiveAccess(dbc dbctx.Context, digests [][]byte) (*types.OAuthAccessToken, error)
	RevokeAccess(dbc dbctx.Context, digests [][]byte) (int64, error)

	InsertRefresh(dbc dbctx.Context, t *types.OAuthRefreshToken) (*types.OAuthRefreshToken, error)
	// FindRefresh returns the refresh token whatever its state so callers can
	// detect reuse of a rotated token.
	FindRefresh(dbc dbctx.Context, digests [][]byte) (*types.OAuthRefreshToken, error)
	// RotateRefresh revokes the token and links its successor, only if it
	// was still live. It reports whether this caller performed the rotation.
	RotateRefresh(dbc dbctx.Context, id, successorID uuid.UUID) (bool, error)
	RevokeRefresh(dbc dbctx.Context, digests [][]byte) (int64, error)
	RevokeAllRefresh(dbc dbctx.Context, userID, clientID uuid.UUID) (int64, error)
}

type tokenRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTokenRepo(db *gorm.DB, baseLog *logger.Logger) TokenRepo {
	return &tokenRepo{db: db, log: baseLog.With("repo", "OAuthTokenRepo")}
}

func (r *tokenRepo) InsertAccess(dbc dbctx.Context, t *types.OAuthAccessToken) (*types.OAuthAccessToken, error) {
	if err := dbc.DB(r.db).Create(t).Error; err != nil {
		return nil, aggregates.MapError("OAuthTokenRepo.InsertAccess", err)
	}
	return t, nil
}

func (r *tokenRepo) FindActiveAccess(dbc dbctx.Context, digests [][]byte) (*types.OAuthAccessToken, error) {
	out := []types.OAuthAccessToken{}
	if len(digests) > 0 {
		err := dbc.DB(r.db).
			Where("digest IN ? AND revoked = false AND expires_at > ?", digests, time.Now().UTC()).
			Limit(1).
			Find(&out).Error
		if err != nil {
			return nil, aggregates.MapError("OAuthTokenRepo.FindActiveAccess", err)
		}
	}
	if len(out) == 0 {
		return nil, aggregates.MapError("OAuthTokenRepo.FindActiveAccess", gorm.ErrRecordNotFound)
	}
	return &out[0], nil
}

func (r *tokenRepo) RevokeAccess(dbc dbctx.Context, digests [][]byte) (int64, error) {
	if len(digests) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).Model(&types.OAuthAccessToken{}).
		Where("digest IN ? AND revoked = false", digests).
		Updates(map[string]any{"revoked": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, aggregates.MapError("OAuthTokenRepo.RevokeAccess", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *tokenRepo) InsertRefresh(dbc dbctx.Context, t *types.OAuthRefreshToken) (*types.OAuthRefreshToken, error) {
	if err := dbc.DB(r.db).Create(t).Error; err != nil {
		return nil, aggregates.MapError("OAuthTokenRepo.InsertRefresh", err)
	}
	return t, nil
}

func (r *tokenRepo) FindRefresh(dbc dbctx.Context, digests [][]byte) (*types.OAuthRefreshToken, error) {
	out := []types.OAuthRefreshToken{}
	if len(digests) > 0 {
		if err := dbc.DB(r.db).Where("digest IN ?", digests).Limit(1).Find(&out).Error; err != nil {
			return nil, aggregates.MapError("OAuthTokenRepo.FindRefresh", err)
		}
	}
	if len(out) == 0 {
		return nil, aggregates.MapError("OAuthTokenRepo.FindRefresh", gorm.ErrRecordNotFound)
	}
	return &out[0], nil
}

func (r *tokenRepo) RotateRefresh(dbc dbctx.Context, id, successorID uuid.UUID) (bool, error) {
	res := dbc.DB(r.db).Model(&types.OAuthRefreshToken{}).
		Where("id = ? AND revoked = false", id).
		Updates(map[string]any{
			"revoked":       true,
			"rotated_to_id": successorID,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, aggregates.MapError("OAuthTokenRepo.RotateRefresh", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *tokenRepo) RevokeRefresh(dbc dbctx.Context, digests [][]byte) (int64, error) {
	if len(digests) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).Model(&types.OAuthRefreshToken{}).
		Where("digest IN ? AND revoked = false", digests).
		Updates(map[string]any{"revoked": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, aggregates.MapError("OAuthTokenRepo.RevokeRefresh", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *tokenRepo) RevokeAllRefresh(dbc dbctx.Context, userID, clientID uuid.UUID) (int64, error) {
	res := dbc.DB(r.db).Model(&types.OAuthRefreshToken{}).
		Where("user_id = ? AND client_id = ? AND revoked = false", userID, clientID).
		Updates(map[string]any{"revoked": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, aggregates.MapError("OAuthTokenRepo.RevokeAllRefresh", res.Error)
	}
	return res.RowsAffected, nil
}
