package validate

import (
	"testing"

	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
)

type sample struct {
	Name  string   `validate:"required"`
	Items []string `validate:"min=1,dive,required"`
}

func TestStruct(t *testing.T) {
	if err := Struct("op", sample{Name: "a", Items: []string{"x"}}); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}
	err := Struct("op", sample{})
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
