package mutation

import "fmt"

type Code string

const (
	CodeInvalidInput     Code = "invalid_input"
	CodeDuplicateFieldID Code = "duplicate_field_id"
	CodeInvalidField     Code = "invalid_field"
	CodeFieldNotFound    Code = "field_not_found"
	CodeInvalidPosition  Code = "invalid_position"
)

// Error is the only error type primitives return. Sentinels below match any
// Error with the same code under errors.Is.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrInvalidInput     = &Error{Code: CodeInvalidInput}
	ErrDuplicateFieldID = &Error{Code: CodeDuplicateFieldID}
	ErrInvalidField     = &Error{Code: CodeInvalidField}
	ErrFieldNotFound    = &Error{Code: CodeFieldNotFound}
	ErrInvalidPosition  = &Error{Code: CodeInvalidPosition}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
