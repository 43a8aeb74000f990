package main

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/koomind/koomind-backend/internal/apperror"
)

// requestValidator plugs go-playground/validator into echo's c.Validate.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names rather than Go ones
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

// Validate returns an apperror validation error describing the first failed
// field.
func (rv *requestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.Validation("invalid request")
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return apperror.Validation(field + " is required")
	case "email":
		return apperror.Validation(field + " must be a valid email address")
	case "min":
		return apperror.Validation(field + " must be at least " + fe.Param() + " characters")
	case "max":
		return apperror.Validation(field + " must be at most " + fe.Param() + " characters")
	case "oneof":
		return apperror.Validation(field + " must be one of: " + fe.Param())
	default:
		return apperror.Validation(field + " is invalid")
	}
}
