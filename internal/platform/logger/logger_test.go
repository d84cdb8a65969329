package logger

import "testing"

func TestSanitizeValue_RedactsSecrets(t *testing.T) {
	redactionOn()
	redactionEnabled = true
	cases := []string{"access_token", "client_secret", "password", "email", "code_verifier", "code", "ip"}
	for _, k := range cases {
		if got := sanitizeValue(k, "value"); got != "[REDACTED]" {
			t.Fatalf("key %q: expected redaction, got %v", k, got)
		}
	}
}

func TestSanitizeValue_HashesUserIDs(t *testing.T) {
	got, ok := sanitizeValue("user_id", "6f1c").(string)
	if !ok || len(got) != len("hash:")+12 {
		t.Fatalf("expected hashed value, got %v", got)
	}
	if again := sanitizeValue("user_id", "6f1c"); again != got {
		t.Fatalf("hash not stable: %v vs %v", again, got)
	}
}

func TestSanitizeKVs_OddLength(t *testing.T) {
	redactionOn()
	redactionEnabled = true
	out := sanitizeKVs([]interface{}{"course_id", "c1", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("unexpected output %v", out)
	}
}
