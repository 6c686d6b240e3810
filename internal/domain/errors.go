package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrProviderFailure   = errors.New("provider failure")
	ErrContractViolation = errors.New("contract violation")
	ErrNotReady          = errors.New("not ready")
)

// ErrorCode is the taxonomy code recorded on failed jobs.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "validation_error"
	CodeProvider          ErrorCode = "provider_error"
	CodeContractViolation ErrorCode = "contract_violation"
)

func (c ErrorCode) sentinel() error {
	switch c {
	case CodeValidation:
		return ErrValidation
	case CodeProvider:
		return ErrProviderFailure
	case CodeContractViolation:
		return ErrContractViolation
	default:
		return nil
	}
}

// Error carries a taxonomy code, the failing operation and a human readable
// message alongside the underlying cause.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
}

// Wrap builds an *Error. message is what pollers see; err is kept for logs.
func Wrap(code ErrorCode, op, message string, err error) error {
	return &Error{Code: code, Op: op, Message: strings.TrimSpace(message), Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	b.WriteString(msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel of the error's code.
func (e *Error) Is(target error) bool {
	s := e.Code.sentinel()
	return s != nil && target == s
}

// CodeOf returns the taxonomy code of err, defaulting to provider_error for
// errors raised outside the taxonomy.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrContractViolation):
		return CodeContractViolation
	default:
		return CodeProvider
	}
}

// JobErrorFrom converts err into the record exposed to pollers.
func JobErrorFrom(err error) *JobError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		msg = de.Message
	}
	return &JobError{Code: CodeOf(err), Message: msg}
}
