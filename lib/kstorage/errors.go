package kstorage

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrCode classifies every failure the store can report
type ErrCode uint8

const (
	CodeOK              ErrCode = iota // 0: no error
	CodeInvalidGroup                   // 1: group id out of range or not allocated
	CodeNotFound                       // 2: record id absent from the group
	CodeInvalidArgument                // 3: negative length, offset outside [0, entry length]
	CodeOutOfMemory                    // 4: memory budget exhausted while building an entry or snapshot
	CodeTransferFault                  // 5: the cross-domain copy failed
	CodeCapacity                       // 6: all groups are allocated
)

func (c ErrCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeInvalidGroup:
		return "InvalidGroup"
	case CodeNotFound:
		return "NotFound"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeOutOfMemory:
		return "OutOfMemory"
	case CodeTransferFault:
		return "TransferFault"
	case CodeCapacity:
		return "Capacity"
	default:
		return "Unknown"
	}
}

// Errno maps the code to the errno the kernel-style interface of this store reports.
// Callers bridging to such interfaces return the negated value.
func (c ErrCode) Errno() unix.Errno {
	switch c {
	case CodeOK:
		return 0
	case CodeInvalidGroup, CodeNotFound:
		return unix.ENOENT
	case CodeInvalidArgument:
		return unix.EINVAL
	case CodeOutOfMemory:
		return unix.ENOMEM
	case CodeTransferFault:
		return unix.EFAULT
	case CodeCapacity:
		return unix.ENOSPC
	default:
		return unix.EIO
	}
}

// allCodes lists every error code (used to pre-register metrics)
var allCodes = []ErrCode{
	CodeInvalidGroup, CodeNotFound, CodeInvalidArgument,
	CodeOutOfMemory, CodeTransferFault, CodeCapacity,
}

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// Error is returned by every store operation that fails.
// Use errors.Is with the sentinels below to check the kind of failure.
type Error struct {
	Code ErrCode // The error code
	Msg  string  // Details, may be empty
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("kstorage: %s", e.Code)
	}
	return fmt.Sprintf("kstorage: %s: %s", e.Code, e.Msg)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates an error with the given code and formatted message
func NewError(code ErrCode, format string, args ...any) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// Sentinels for errors.Is
var (
	ErrInvalidGroup    = &Error{Code: CodeInvalidGroup}
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument}
	ErrOutOfMemory     = &Error{Code: CodeOutOfMemory}
	ErrTransferFault   = &Error{Code: CodeTransferFault}
	ErrCapacity        = &Error{Code: CodeCapacity}
)

// CodeOf extracts the code of a store error. Nil maps to CodeOK, foreign errors
// to CodeTransferFault since they can only originate from a Copier.
func CodeOf(err error) ErrCode {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeTransferFault
}
