package oauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningKey signs ID tokens with RS256.
type SigningKey struct {
	private *rsa.PrivateKey
	kid     string
}

// LoadSigningKey reads a PEM private key (PKCS#1 or PKCS#8) from pemData,
// or from path when pemData is empty.
func LoadSigningKey(pemData, path string) (*SigningKey, error) {
	data := []byte(strings.TrimSpace(pemData))
	if len(data) == 0 {
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("no rsa private key configured")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rsa private key: %w", err)
		}
		data = b
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("rsa private key: no PEM block")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return newSigningKey(k)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("rsa private key: %w", err)
	}
	k, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", parsed)
	}
	return newSigningKey(k)
}

// GenerateSigningKey creates an ephemeral key for development and tests.
func GenerateSigningKey() (*SigningKey, error) {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return newSigningKey(k)
}

func newSigningKey(k *rsa.PrivateKey) (*SigningKey, error) {
	spki, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(spki)
	return &SigningKey{private: k, kid: base64.RawURLEncoding.EncodeToString(sum[:])}, nil
}

// KeyID is base64url(SHA-256(SPKI)) of the public key.
func (k *SigningKey) KeyID() string { return k.kid }

func (k *SigningKey) Public() *rsa.PublicKey { return &k.private.PublicKey }

func (k *SigningKey) Sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = k.kid
	return tok.SignedString(k.private)
}

// JWKS is the document served at /.well-known/jwks.json.
func (k *SigningKey) JWKS() map[string]any {
	pub := k.private.PublicKey
	return map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": k.kid,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
}

type IDTokenClaims struct {
	Nonce    string `json:"nonce,omitempty"`
	AuthTime int64  `json:"auth_time,omitempty"`
	jwt.RegisteredClaims
}

func newIDTokenClaims(issuer, subject, audience, nonce string, authTime, now time.Time, ttl time.Duration) IDTokenClaims {
	return IDTokenClaims{
		Nonce:    nonce,
		AuthTime: authTime.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// jwk is the public key embedded in a DPoP proof header.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	D   string `json:"d,omitempty"`
}

func jwkFromHeader(v any) (*jwk, error) {
	if v == nil {
		return nil, fmt.Errorf("missing jwk header")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var k jwk
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, err
	}
	if k.D != "" {
		return nil, fmt.Errorf("jwk contains private key material")
	}
	return &k, nil
}

func (k *jwk) publicKey() (any, error) {
	switch k.Kty {
	case "RSA":
		return rsaFromModExp(k.N, k.E)
	case "EC":
		return ecdsaFromXY(k.Crv, k.X, k.Y)
	default:
		return nil, fmt.Errorf("unsupported kty: %s", k.Kty)
	}
}

// thumbprint is the RFC 7638 SHA-256 thumbprint, base64url encoded.
func (k *jwk) thumbprint() (string, error) {
	var canonical string
	switch k.Kty {
	case "RSA":
		canonical = fmt.Sprintf(`{"e":%q,"kty":"RSA","n":%q}`, k.E, k.N)
	case "EC":
		canonical = fmt.Sprintf(`{"crv":%q,"kty":"EC","x":%q,"y":%q}`, k.Crv, k.X, k.Y)
	default:
		return "", fmt.Errorf("unsupported kty: %s", k.Kty)
	}
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

func rsaFromModExp(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nb)
	if n.BitLen() < 2048 {
		return nil, fmt.Errorf("rsa modulus too small")
	}
	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

func ecdsaFromXY(crv, xB64, yB64 string) (*ecdsa.PublicKey, error) {
	if crv != "P-256" {
		return nil, fmt.Errorf("unsupported curve: %s", crv)
	}
	curve := elliptic.P256()
	xb, err := base64.RawURLEncoding.DecodeString(xB64)
	if err != nil {
		return nil, err
	}
	yb, err := base64.RawURLEncoding.DecodeString(yB64)
	if err != nil {
		return nil, err
	}
	x := new(big.Int).SetBytes(xb)
	y := new(big.Int).SetBytes(yb)
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("invalid EC point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
