// Package validate checks request and config structs against their
// `validate` tags and reports failures as validation errors.
package validate

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
	})
	return instance
}

// Struct validates v and returns a CodeValidation error naming the failing
// fields, or nil.
func Struct(op string, v any) error {
	err := get().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domainagg.Wrap(domainagg.CodeValidation, op, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
	}
	return domainagg.NewError(domainagg.CodeValidation, op, strings.Join(parts, "; "), err)
}
