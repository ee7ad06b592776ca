package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"braveforms/internal/types"
)

// Validator validates request DTOs with go-playground/validator struct tags.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator that reports JSON field names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// ValidateStruct returns nil or an AppError describing the first failing
// field. Missing required fields map to validation_missing_required_field;
// coordinate range failures map to the latitude and longitude codes.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidRequest, "invalid request", err)
	}

	fe := verrs[0]
	details := map[string]any{"field": fe.Field()}
	switch {
	case fe.Tag() == "required":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, fe.Field()+" is required", err, details)
	case fe.Field() == "latitude":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidLat, "latitude must be between -90 and 90", err, details)
	case fe.Field() == "longitude":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidLon, "longitude must be between -180 and 180", err, details)
	default:
		details["rule"] = fe.Tag()
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidRequest, fe.Field()+" is invalid", err, details)
	}
}
