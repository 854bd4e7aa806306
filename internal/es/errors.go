package es

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("aggregate not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrUnknownEvent    = errors.New("unknown event type")
)

// ErrorCode classifies failures so adapters can map them without knowing
// every domain sentinel.
type ErrorCode string

const (
	CodeValidation ErrorCode = "validation"
	CodeNotFound   ErrorCode = "not_found"
	CodeConflict   ErrorCode = "conflict"
	CodeTransport  ErrorCode = "transport"
	CodeInternal   ErrorCode = "internal"
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: strings.TrimSpace(op), Message: err.Error(), Cause: err}
}

func Validation(op string, err error) error { return Wrap(CodeValidation, op, err) }
func NotFound(op string, err error) error   { return Wrap(CodeNotFound, op, err) }
func Conflict(op string, err error) error   { return Wrap(CodeConflict, op, err) }
func Transport(op string, err error) error  { return Wrap(CodeTransport, op, err) }

// IsCode reports whether err or anything it wraps carries code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the outermost code in err's chain, or "" when none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}
