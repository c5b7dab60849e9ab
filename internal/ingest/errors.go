package ingest

import (
	"errors"
	"fmt"
)

// ValidationError reports a submission that cannot be stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid reading: " + e.Reason
	}
	return fmt.Sprintf("invalid reading: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
