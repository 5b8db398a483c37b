package models

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationError reports a malformed record rejected before it reaches dispatch.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks the struct tags of v.
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}
