package exercise

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestTaskVariant_DiscriminatorOnWire(t *testing.T) {
	v := TaskVariant{Browser: &BrowserTask{TaskID: uuid.New(), ExerciseType: "quizzes", IframeURL: "https://q/iframe"}}
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"type":"browser"`) {
		t.Fatalf("missing discriminator: %s", raw)
	}
	var back TaskVariant
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Type() != TaskVariantBrowser || back.Browser.IframeURL != "https://q/iframe" {
		t.Fatalf("unexpected variant %+v", back)
	}
}

func TestTaskVariant_RejectsUnknownType(t *testing.T) {
	var v TaskVariant
	if err := json.Unmarshal([]byte(`{"type":"terminal"}`), &v); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestTaskVariant_RejectsEmpty(t *testing.T) {
	if _, err := json.Marshal(TaskVariant{}); err == nil {
		t.Fatalf("expected error for empty variant")
	}
}
