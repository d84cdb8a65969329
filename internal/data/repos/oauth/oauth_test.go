package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
)

func randomDigest(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

func newCode(digest []byte, ttl time.Duration) *types.OAuthAuthCode {
	return &types.OAuthAuthCode{
		Digest:        digest,
		PepperID:      1,
		UserID:        uuid.New(),
		ClientID:      uuid.New(),
		RedirectURI:   "https://client.example.com/cb",
		Scopes:        []string{"openid"},
		CodeChallenge: "challenge",
		ExpiresAt:     time.Now().UTC().Add(ttl),
	}
}

func TestAuthCodeSingleUse(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewAuthCodeRepo(db, testutil.Logger(t))

	digest := randomDigest(t)
	if _, err := repo.Insert(dbc, newCode(digest, 10*time.Minute)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := repo.Consume(dbc, [][]byte{randomDigest(t), digest})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !got.Used {
		t.Fatalf("consumed code must be returned with used=true")
	}
	if _, err := repo.Consume(dbc, [][]byte{digest}); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("second consume must be not_found, got %v", err)
	}

	expired := randomDigest(t)
	if _, err := repo.Insert(dbc, newCode(expired, -time.Minute)); err != nil {
		t.Fatalf("Insert expired: %v", err)
	}
	if _, err := repo.Consume(dbc, [][]byte{expired}); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("expired code must be not_found, got %v", err)
	}
}

func TestAuthCodeConcurrentConsume(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewAuthCodeRepo(db, testutil.Logger(t))

	digest := randomDigest(t)
	code, err := repo.Insert(dbctx.Context{Ctx: ctx}, newCode(digest, 10*time.Minute))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Exec(`DELETE FROM oauth_auth_codes WHERE id = ?`, code.ID).Error
	})

	const callers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Consume(dbctx.Context{Ctx: ctx}, [][]byte{digest}); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", wins.Load())
	}
}

func TestDPoPReplayStore(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewDPoPProofRepo(db, testutil.Logger(t))

	h := sha256.Sum256([]byte("abc-" + uuid.NewString()))
	proof := &types.OAuthDPoPProof{JtiHash: h[:], Htm: "POST", Htu: "https://lms.example.com/token", Jkt: "J"}
	first, err := repo.InsertIfAbsent(dbc, proof)
	if err != nil || !first {
		t.Fatalf("first insert should be accepted: %v %v", first, err)
	}
	second, err := repo.InsertIfAbsent(dbc, proof)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if second {
		t.Fatalf("replayed jti must be rejected")
	}
}

func TestRefreshRotationAndReuse(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewTokenRepo(db, testutil.Logger(t))

	userID, clientID := uuid.New(), uuid.New()
	mk := func() *types.OAuthRefreshToken {
		return &types.OAuthRefreshToken{
			Digest: randomDigest(t), PepperID: 1, UserID: userID, ClientID: clientID,
			Scopes: []string{"openid"}, AuthTime: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
	}
	old, err := repo.InsertRefresh(dbc, mk())
	if err != nil {
		t.Fatalf("InsertRefresh: %v", err)
	}
	next, err := repo.InsertRefresh(dbc, mk())
	if err != nil {
		t.Fatalf("InsertRefresh next: %v", err)
	}
	ok, err := repo.RotateRefresh(dbc, old.ID, next.ID)
	if err != nil || !ok {
		t.Fatalf("RotateRefresh: %v %v", ok, err)
	}
	ok, err = repo.RotateRefresh(dbc, old.ID, next.ID)
	if err != nil || ok {
		t.Fatalf("rotating twice must not succeed: %v %v", ok, err)
	}
	found, err := repo.FindRefresh(dbc, [][]byte{old.Digest})
	if err != nil || !found.Revoked || found.RotatedToID == nil {
		t.Fatalf("rotated token should be revoked and linked: %+v %v", found, err)
	}
	n, err := repo.RevokeAllRefresh(dbc, userID, clientID)
	if err != nil || n != 1 {
		t.Fatalf("RevokeAllRefresh should revoke the live successor: n=%d err=%v", n, err)
	}
}
