package oauth

import (
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// DPoPProofRepo is the replay store for DPoP proof jti hashes.
type DPoPProofRepo interface {
	// InsertIfAbsent records the proof and reports whether it was new.
	InsertIfAbsent(dbc dbctx.Context, proof *types.OAuthDPoPProof) (bool, error)
	PruneOlderThan(dbc dbctx.Context, age time.Duration) (int64, error)
}

type dpopProofRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDPoPProofRepo(db *gorm.DB, baseLog *logger.Logger) DPoPProofRepo {
	return &dpopProofRepo{db: db, log: baseLog.With("repo", "OAuthDPoPProofRepo")}
}

func (r *dpopProofRepo) InsertIfAbsent(dbc dbctx.Context, proof *types.OAuthDPoPProof) (bool, error) {
	res := dbc.DB(r.db).Exec(`
		INSERT INTO oauth_dpop_proofs (jti_hash, htm, htu, jkt, seen_at)
		VALUES (?, ?, ?, ?, now())
		ON CONFLICT (jti_hash) DO NOTHING
	`, proof.JtiHash, proof.Htm, proof.Htu, proof.Jkt)
	if res.Error != nil {
		return false, aggregates.MapError("OAuthDPoPProofRepo.InsertIfAbsent", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *dpopProofRepo) PruneOlderThan(dbc dbctx.Context, age time.Duration) (int64, error) {
	res := dbc.DB(r.db).Exec(`DELETE FROM oauth_dpop_proofs WHERE seen_at < now() - make_interval(secs => ?)`, age.Seconds())
	if res.Error != nil {
		return 0, aggregates.MapError("OAuthDPoPProofRepo.PruneOlderThan", res.Error)
	}
	return res.RowsAffected, nil
}
