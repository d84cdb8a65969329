package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

const MethodS256 = "S256"

// ValidVerifier checks RFC 7636 section 4.1: 43 to 128 unreserved characters.
func ValidVerifier(v string) bool {
	if len(v) < 43 || len(v) > 128 {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}

// ValidChallenge accepts an unpadded base64url SHA-256 digest.
func ValidChallenge(c string) bool {
	if len(c) != 43 {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(c)
	return err == nil && len(raw) == sha256.Size
}

func ChallengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE only supports S256; plain is rejected.
func VerifyPKCE(verifier, challenge, method string) bool {
	if method != MethodS256 || !ValidVerifier(verifier) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(ChallengeFor(verifier)), []byte(challenge)) == 1
}
