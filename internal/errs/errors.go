// Package errs provides the uniform structured error used by every layer of
// the harness core
package errs

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// Error represents a structured harness error with context and errno mapping
type Error struct {
	Op      string        // Operation that failed (e.g., "SEND", "REAP", "BIND_RW")
	QueueID int           // Queue id (-1 if not applicable)
	CID     int           // Command identifier (-1 if not applicable)
	Code    ErrorCode     // High-level error category
	Errno   syscall.Errno // Kernel errno (0 if not applicable)
	Msg     string        // Human-readable message
	Loc     string        // file:line of the code that raised it
	Inner   error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.QueueID >= 0 {
		parts = append(parts, fmt.Sprintf("qid=%d", e.QueueID))
	}

	if e.CID >= 0 {
		parts = append(parts, fmt.Sprintf("cid=%d", e.CID))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	if e.Loc != "" {
		parts = append(parts, "at="+e.Loc)
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("tnvme: %s (%s)", msg, strings.Join(parts, ", "))
	}

	return fmt.Sprintf("tnvme: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches on error code, against either a sentinel or another *Error
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if se, ok := target.(Sentinel); ok {
		return e.Code == ErrorCode(se)
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	// ErrCodeConfiguration is a contract violation caught before any
	// hardware interaction (dual binding, zero-length buffer, no direction)
	ErrCodeConfiguration ErrorCode = "configuration error"

	// ErrCodeCapacity is a denied resource request
	ErrCodeCapacity ErrorCode = "capacity exceeded"

	// ErrCodeTimeout means expected completions did not appear in time
	ErrCodeTimeout ErrorCode = "timeout"

	// ErrCodeValidation means a completion arrived but failed its checks
	ErrCodeValidation ErrorCode = "validation failed"

	ErrCodeBounds             ErrorCode = "out of bounds"
	ErrCodeInvalidState       ErrorCode = "invalid state"
	ErrCodeDriver             ErrorCode = "driver error"
	ErrCodeNotFound           ErrorCode = "not found"
	ErrCodeExists             ErrorCode = "already exists"
	ErrCodePermissionDenied   ErrorCode = "permission denied"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
)

// Sentinel allows errors.Is(err, ErrTimeout) style checks
type Sentinel string

func (e Sentinel) Error() string {
	return "tnvme: " + string(e)
}

const (
	ErrConfiguration    Sentinel = Sentinel(ErrCodeConfiguration)
	ErrCapacity         Sentinel = Sentinel(ErrCodeCapacity)
	ErrTimeout          Sentinel = Sentinel(ErrCodeTimeout)
	ErrValidation       Sentinel = Sentinel(ErrCodeValidation)
	ErrBounds           Sentinel = Sentinel(ErrCodeBounds)
	ErrInvalidState     Sentinel = Sentinel(ErrCodeInvalidState)
	ErrDriver           Sentinel = Sentinel(ErrCodeDriver)
	ErrNotFound         Sentinel = Sentinel(ErrCodeNotFound)
	ErrExists           Sentinel = Sentinel(ErrCodeExists)
	ErrPermissionDenied Sentinel = Sentinel(ErrCodePermissionDenied)
)

// caller returns file:line two frames above the constructor
func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// New creates a new structured error
func New(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:      op,
		QueueID: -1,
		CID:     -1,
		Code:    code,
		Msg:     msg,
		Loc:     caller(1),
	}
}

// Newf is New with a format string
func Newf(op string, code ErrorCode, format string, args ...any) *Error {
	e := New(op, code, fmt.Sprintf(format, args...))
	e.Loc = caller(1)
	return e
}

// NewQueueError creates a new queue-specific error
func NewQueueError(op string, qid uint16, code ErrorCode, msg string) *Error {
	return &Error{
		Op:      op,
		QueueID: int(qid),
		CID:     -1,
		Code:    code,
		Msg:     msg,
		Loc:     caller(1),
	}
}

// NewCommandError creates an error tied to a specific queue and command id
func NewCommandError(op string, qid, cid uint16, code ErrorCode, msg string) *Error {
	return &Error{
		Op:      op,
		QueueID: int(qid),
		CID:     int(cid),
		Code:    code,
		Msg:     msg,
		Loc:     caller(1),
	}
}

// Wrap wraps an existing error with harness context. Errnos are mapped to
// codes; other causes keep their stack via pkg/errors.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// Already structured: keep everything, add the new operation
	var he *Error
	if errors.As(inner, &he) {
		return &Error{
			Op:      op,
			QueueID: he.QueueID,
			CID:     he.CID,
			Code:    he.Code,
			Errno:   he.Errno,
			Msg:     he.Op + ": " + he.Msg,
			Loc:     he.Loc,
			Inner:   inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:      op,
			QueueID: -1,
			CID:     -1,
			Code:    mapErrnoToCode(errno),
			Errno:   errno,
			Msg:     errno.Error(),
			Loc:     caller(1),
			Inner:   inner,
		}
	}

	return &Error{
		Op:      op,
		QueueID: -1,
		CID:     -1,
		Code:    ErrCodeDriver,
		Msg:     inner.Error(),
		Loc:     caller(1),
		Inner:   pkgerrors.WithStack(inner),
	}
}

// WithQueue returns a copy of e tagged with a queue id
func (e *Error) WithQueue(qid uint16) *Error {
	c := *e
	c.QueueID = int(qid)
	return &c
}

// mapErrnoToCode maps syscall errno to harness error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ENODEV:
		return ErrCodeNotFound
	case syscall.EEXIST:
		return ErrCodeExists
	case syscall.EINVAL, syscall.E2BIG, syscall.EFAULT:
		return ErrCodeConfiguration
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM:
		return ErrCodeInsufficientMemory
	case syscall.ENOSPC, syscall.EBUSY:
		return ErrCodeCapacity
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	default:
		return ErrCodeDriver
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Errno == errno
	}
	return false
}

// IsHardFailure reports whether err should abort the current test and
// trigger a full disable plus diagnostic capture
func IsHardFailure(err error) bool {
	return IsCode(err, ErrCodeTimeout) || IsCode(err, ErrCodeValidation)
}
