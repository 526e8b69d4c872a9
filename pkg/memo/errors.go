package memo

import (
	"errors"
	"fmt"
)

// ErrValidation marks input rejected before any store was touched
var ErrValidation = errors.New("validation failed")

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// WriteError reports which stage of a memo write failed. Stage is one of
// "embedding", "relational" or "vector"; callers use it to tell a clean
// rejection apart from a partially applied write.
type WriteError struct {
	Stage string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("memo write failed at %s stage: %v", e.Stage, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
