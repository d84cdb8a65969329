package certificates

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// VerificationAlphabet leaves out characters that are easy to misread
// (0, o, 1, l, i).
const VerificationAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

const VerificationIDLength = 15

// NewVerificationID draws an id uniformly from VerificationAlphabet.
func NewVerificationID() (string, error) {
	return newVerificationID(rand.Reader)
}

func newVerificationID(r io.Reader) (string, error) {
	n := len(VerificationAlphabet)
	// Bytes at or above limit are rejected so every symbol is equally likely.
	limit := 256 - 256%n
	out := make([]byte, 0, VerificationIDLength)
	buf := make([]byte, VerificationIDLength*2)
	for len(out) < VerificationIDLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, VerificationAlphabet[int(b)%n])
			if len(out) == VerificationIDLength {
				break
			}
		}
	}
	return string(out), nil
}

// NormalizeVerificationID accepts ids typed by hand.
func NormalizeVerificationID(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// ValidVerificationID reports whether s could have been issued.
func ValidVerificationID(s string) bool {
	if len(s) != VerificationIDLength {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(VerificationAlphabet, c) {
			return false
		}
	}
	return true
}
