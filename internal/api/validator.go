package api

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ValidationError is one failed field of a request body.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// FormatValidationErrors flattens validator.ValidationErrors for responses.
func FormatValidationErrors(err error) []ValidationError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make([]ValidationError, len(ve))
	for i, fe := range ve {
		out[i] = ValidationError{
			Field: fe.Field(),
			Tag:   fe.Tag(),
			Value: fmt.Sprintf("%v", fe.Value()),
		}
		switch fe.Tag() {
		case "required":
			out[i].Message = fmt.Sprintf("%s is required", fe.Field())
		case "min":
			out[i].Message = fmt.Sprintf("%s must have at least %s items", fe.Field(), fe.Param())
		case "max":
			out[i].Message = fmt.Sprintf("%s must be at most %s long", fe.Field(), fe.Param())
		default:
			out[i].Message = fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag())
		}
	}
	return out
}
