package tnvme

import (
	"syscall"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
)

// Error is the structured error returned by every harness operation
type Error = errs.Error

// ErrorCode is the category of an Error
type ErrorCode = errs.ErrorCode

const (
	ErrCodeConfiguration      = errs.ErrCodeConfiguration
	ErrCodeCapacity           = errs.ErrCodeCapacity
	ErrCodeTimeout            = errs.ErrCodeTimeout
	ErrCodeValidation         = errs.ErrCodeValidation
	ErrCodeBounds             = errs.ErrCodeBounds
	ErrCodeInvalidState       = errs.ErrCodeInvalidState
	ErrCodeDriver             = errs.ErrCodeDriver
	ErrCodeNotFound           = errs.ErrCodeNotFound
	ErrCodeExists             = errs.ErrCodeExists
	ErrCodePermissionDenied   = errs.ErrCodePermissionDenied
	ErrCodeInsufficientMemory = errs.ErrCodeInsufficientMemory
)

// Sentinels for errors.Is
const (
	ErrConfiguration    = errs.ErrConfiguration
	ErrCapacity         = errs.ErrCapacity
	ErrTimeout          = errs.ErrTimeout
	ErrValidation       = errs.ErrValidation
	ErrBounds           = errs.ErrBounds
	ErrInvalidState     = errs.ErrInvalidState
	ErrDriver           = errs.ErrDriver
	ErrNotFound         = errs.ErrNotFound
	ErrExists           = errs.ErrExists
	ErrPermissionDenied = errs.ErrPermissionDenied
)

// NewError creates a structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return errs.New(op, code, msg)
}

// WrapError adds harness context to err, mapping errnos to codes
func WrapError(op string, err error) *Error {
	return errs.Wrap(op, err)
}

// IsCode reports whether err carries code
func IsCode(err error, code ErrorCode) bool {
	return errs.IsCode(err, code)
}

// IsErrno reports whether err carries errno
func IsErrno(err error, errno syscall.Errno) bool {
	return errs.IsErrno(err, errno)
}

// IsHardFailure reports whether err should abort the current test and
// reset the controller
func IsHardFailure(err error) bool {
	return errs.IsHardFailure(err)
}
