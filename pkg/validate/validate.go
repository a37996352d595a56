package validate

import (
	"strings"
	"sync"

	"ibbridge/pkg/exception"

	"github.com/go-playground/validator/v10"
	"github.com/yanun0323/errors"
)

var (
	validate     *validator.Validate
	onceValidate sync.Once
)

type available interface {
	IsAvailable() bool
}

// Get returns the shared validator with the project tags registered.
func Get() *validator.Validate {
	onceValidate.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
			if !fl.Field().CanInterface() {
				return false
			}
			e, ok := fl.Field().Interface().(available)
			return ok && e.IsAvailable()
		})
	})
	return validate
}

// Struct validates v and folds field failures into one invalid argument error.
func Struct(v any) error {
	err := Get().Struct(v)
	if err == nil {
		return nil
	}
	fields, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(exception.ErrInvalidArgument, err.Error())
	}
	return errors.Wrap(exception.ErrInvalidArgument, Fields(fields))
}

// Fields renders each failed field as "field: tag".
func Fields(fields validator.ValidationErrors) string {
	parts := make([]string, 0, len(fields))
	for _, e := range fields {
		parts = append(parts, e.Namespace()+": failed on tag '"+e.Tag()+"'")
	}
	return strings.Join(parts, "; ")
}

// FieldMap maps each failed field to its tag, for JSON error bodies.
func FieldMap(err error) map[string]string {
	out := make(map[string]string)
	fields, ok := err.(validator.ValidationErrors)
	if !ok {
		return out
	}
	for _, e := range fields {
		out[e.Field()] = "failed on tag '" + e.Tag() + "'"
	}
	return out
}
