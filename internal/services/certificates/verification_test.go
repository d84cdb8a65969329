package certificates

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewVerificationIDUsesAlphabet(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id, err := NewVerificationID()
		if err != nil {
			t.Fatalf("NewVerificationID: %v", err)
		}
		if !ValidVerificationID(id) {
			t.Fatalf("invalid id %q", id)
		}
		if strings.ContainsAny(id, "0o1li") {
			t.Fatalf("ambiguous character in %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewVerificationIDRejectsBiasedBytes(t *testing.T) {
	// 248 = 256 - 256%31 is the first rejected byte.
	src := bytes.Repeat([]byte{255, 248, 0, 1}, 64)
	id, err := newVerificationID(bytes.NewReader(src))
	if err != nil {
		t.Fatalf("newVerificationID: %v", err)
	}
	if id != strings.Repeat("ab", 7)+"a" {
		t.Fatalf("id = %q", id)
	}
}

func TestNewVerificationIDShortRead(t *testing.T) {
	if _, err := newVerificationID(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Fatalf("expected error on short read")
	}
}

func TestNormalizeVerificationID(t *testing.T) {
	if got := NormalizeVerificationID(" ABCDE fghjk MNPQR "); got != "abcdefghjkmnpqr" {
		t.Fatalf("NormalizeVerificationID = %q", got)
	}
	if ValidVerificationID("abcdefghjkmnpq0") {
		t.Fatalf("zero accepted")
	}
	if ValidVerificationID("abc") {
		t.Fatalf("short id accepted")
	}
}
