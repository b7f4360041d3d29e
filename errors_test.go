package tnvme

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestFacadeErrors(t *testing.T) {
	err := NewError("REAP_WAIT_SPECIFY", ErrCodeTimeout, "operation timed out")

	if !errors.Is(err, ErrTimeout) {
		t.Error("expected errors.Is to match ErrTimeout")
	}
	if !IsHardFailure(fmt.Errorf("scenario: %w", err)) {
		t.Error("wrapped timeouts are hard failures")
	}
	if IsHardFailure(NewError("BIND_RW", ErrCodeConfiguration, "zero length")) {
		t.Error("configuration errors are not hard failures")
	}
}

func TestFacadeWrap(t *testing.T) {
	err := WrapError("SEND_64B_CMD", syscall.EBUSY)

	if !IsCode(err, ErrCodeCapacity) {
		t.Errorf("code = %s, want capacity", err.Code)
	}
	if !IsErrno(err, syscall.EBUSY) {
		t.Error("expected errno to survive wrapping")
	}

	var he *Error
	if !errors.As(fmt.Errorf("outer: %w", err), &he) || he.Op != "SEND_64B_CMD" {
		t.Errorf("errors.As did not recover the structured error: %+v", he)
	}
}
