package oauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Peppers holds the server-side HMAC keys used to digest client secrets,
// authorization codes and tokens. Rotation adds a new id and makes it
// active; old ids stay for lookup until every digest made with them expires.
type Peppers struct {
	active int
	ids    []int
	keys   map[int][]byte
}

// ParsePeppers reads "id:base64,id:base64".
func ParsePeppers(raw string, active int) (*Peppers, error) {
	p := &Peppers{active: active, keys: map[int][]byte{}}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idStr, b64, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("pepper %q: expected id:base64", part)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("pepper %q: invalid id", part)
		}
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
		if err != nil {
			return nil, fmt.Errorf("pepper %d: %w", id, err)
		}
		if len(key) < 32 {
			return nil, fmt.Errorf("pepper %d: need at least 32 bytes", id)
		}
		if _, dup := p.keys[id]; dup {
			return nil, fmt.Errorf("pepper %d: duplicate id", id)
		}
		p.keys[id] = key
		p.ids = append(p.ids, id)
	}
	if len(p.keys) == 0 {
		return nil, fmt.Errorf("no peppers configured")
	}
	if _, ok := p.keys[active]; !ok {
		return nil, fmt.Errorf("active pepper %d is not configured", active)
	}
	sort.Ints(p.ids)
	return p, nil
}

func (p *Peppers) Active() int { return p.active }

// Digest computes HMAC-SHA256 of secret under the active pepper.
func (p *Peppers) Digest(secret string) (int, []byte) {
	return p.active, mac(p.keys[p.active], secret)
}

// Digests returns the digest under every known pepper, for lookups of
// values created before a rotation.
func (p *Peppers) Digests(secret string) [][]byte {
	out := make([][]byte, 0, len(p.ids))
	for _, id := range p.ids {
		out = append(out, mac(p.keys[id], secret))
	}
	return out
}

// Verify compares in constant time. An unknown pepper id never verifies.
func (p *Peppers) Verify(pepperID int, secret string, want []byte) bool {
	key, ok := p.keys[pepperID]
	if !ok {
		return false
	}
	got := mac(key, secret)
	defer zero(got)
	return hmac.Equal(got, want)
}

func mac(key []byte, secret string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(secret))
	return h.Sum(nil)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

const opaqueTokenBytes = 48

// NewOpaqueToken returns a 64 character url-safe random string.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
