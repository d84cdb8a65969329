package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
)

const dpopType = "dpop+jwt"

type dpopClaims struct {
	Htm string `json:"htm"`
	Htu string `json:"htu"`
	Ath string `json:"ath,omitempty"`
	jwt.RegisteredClaims
}

// DPoPRequest describes the HTTP request a proof is presented with.
type DPoPRequest struct {
	Proof  string
	Method string
	URL    string
	// AccessToken is set at resource endpoints, where the proof must carry ath.
	AccessToken string
}

// DPoPVerifier checks RFC 9449 proofs and records their jti for replay detection.
type DPoPVerifier struct {
	db         *gorm.DB
	replay     repos.OAuthDPoPProofRepo
	futureSkew time.Duration
	pastSkew   time.Duration
	now        func() time.Time
}

func NewDPoPVerifier(db *gorm.DB, replay repos.OAuthDPoPProofRepo, futureSkew, pastSkew time.Duration) *DPoPVerifier {
	if futureSkew <= 0 {
		futureSkew = 5 * time.Second
	}
	if pastSkew <= 0 {
		pastSkew = 300 * time.Second
	}
	return &DPoPVerifier{db: db, replay: replay, futureSkew: futureSkew, pastSkew: pastSkew, now: time.Now}
}

// Verify returns the proof key's thumbprint (jkt).
func (v *DPoPVerifier) Verify(ctx context.Context, req DPoPRequest) (string, error) {
	if strings.TrimSpace(req.Proof) == "" {
		return "", newError(ErrInvalidDPoPProof, "missing DPoP proof")
	}
	var key *jwk
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"ES256", "RS256", "PS256"}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &dpopClaims{}
	_, err := parser.ParseWithClaims(req.Proof, claims, func(t *jwt.Token) (any, error) {
		if typ, _ := t.Header["typ"].(string); typ != dpopType {
			return nil, fmt.Errorf("typ must be %s", dpopType)
		}
		k, err := jwkFromHeader(t.Header["jwk"])
		if err != nil {
			return nil, err
		}
		key = k
		return k.publicKey()
	})
	if err != nil {
		return "", newError(ErrInvalidDPoPProof, err.Error())
	}

	if !strings.EqualFold(claims.Htm, req.Method) {
		return "", newError(ErrInvalidDPoPProof, "htm mismatch")
	}
	want, err := CanonicalHTU(req.URL)
	if err != nil {
		return "", newError(ErrInvalidDPoPProof, "bad request url")
	}
	got, err := CanonicalHTU(claims.Htu)
	if err != nil || got != want {
		return "", newError(ErrInvalidDPoPProof, "htu mismatch")
	}
	if claims.IssuedAt == nil {
		return "", newError(ErrInvalidDPoPProof, "missing iat")
	}
	now := v.now()
	iat := claims.IssuedAt.Time
	if iat.After(now.Add(v.futureSkew)) || iat.Before(now.Add(-v.pastSkew)) {
		return "", newError(ErrInvalidDPoPProof, "iat outside accepted window")
	}
	if req.AccessToken != "" {
		sum := sha256.Sum256([]byte(req.AccessToken))
		ath := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(ath), []byte(claims.Ath)) != 1 {
			return "", newError(ErrInvalidDPoPProof, "ath mismatch")
		}
	}
	if strings.TrimSpace(claims.ID) == "" {
		return "", newError(ErrInvalidDPoPProof, "missing jti")
	}
	jkt, err := key.thumbprint()
	if err != nil {
		return "", newError(ErrInvalidDPoPProof, err.Error())
	}

	dbc := dbctx.Context{Ctx: ctx}
	if v.db != nil {
		dbc.Tx = v.db.WithContext(ctx)
	}
	jtiHash := sha256.Sum256([]byte(claims.ID))
	fresh, err := v.replay.InsertIfAbsent(dbc, &types.OAuthDPoPProof{
		JtiHash: jtiHash[:],
		Htm:     strings.ToUpper(claims.Htm),
		Htu:     got,
		Jkt:     jkt,
	})
	if err != nil {
		return "", err
	}
	if !fresh {
		observability.Current().IncDPoPReplay()
		return "", newError(ErrInvalidDPoPProof, "proof replayed")
	}
	return jkt, nil
}

// CanonicalHTU reduces a URL to scheme://host[:port]/path with default
// ports removed and no query or fragment.
func CanonicalHTU(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("missing host")
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path, nil
}
