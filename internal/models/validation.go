package models

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationService provides model validation functionality
type ValidationService struct {
	validator *validator.Validate
}

// NewValidationService creates a new validation service
func NewValidationService() *ValidationService {
	v := validator.New()

	// Report json names instead of Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("entitytype", func(fl validator.FieldLevel) bool {
		return EntityType(fl.Field().String()).IsValid()
	})

	return &ValidationService{validator: v}
}

// ValidateStruct validates a struct and returns detailed error information
func (vs *ValidationService) ValidateStruct(s interface{}) error {
	err := vs.validator.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	var messages []string
	for _, fe := range fieldErrors {
		messages = append(messages, fmt.Sprintf(
			"field '%s' failed validation: %s",
			fe.Field(),
			vs.getErrorMessage(fe),
		))
	}

	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

// getErrorMessage returns a human-readable error message for validation errors
func (vs *ValidationService) getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "this field is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", err.Param())
	case "entitytype":
		return fmt.Sprintf("%q is not a supported entity type", err.Value())
	default:
		return fmt.Sprintf("failed %s validation", err.Tag())
	}
}
