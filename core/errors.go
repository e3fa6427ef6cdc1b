package core

import "github.com/pkg/errors"

// ErrCameraDenied is returned when the camera device cannot be acquired.
var ErrCameraDenied = errors.New("camera access denied")

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

func IsCameraDenied(err error) bool {
	return errors.Cause(err) == ErrCameraDenied
}
