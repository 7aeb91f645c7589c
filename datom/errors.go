package datom

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeAllocatorCorruption: persisted high-water marks disagree with the
	// datoms on disk. Fatal; surfaced to the operator.
	ErrCodeAllocatorCorruption ErrorCode = "ALLOCATOR_CORRUPTION"

	// ErrCodeIndexWrite: an index family insert failed and the batch was rolled back.
	ErrCodeIndexWrite ErrorCode = "INDEX_WRITE"

	// ErrCodeTransactionAborted: a transaction was rejected after the write lock
	// was taken. Nothing it proposed is visible.
	ErrCodeTransactionAborted ErrorCode = "TRANSACTION_ABORTED"

	// ErrCodeTempidConflict: a tempid was used inconsistently within one request.
	ErrCodeTempidConflict ErrorCode = "TEMPID_CONFLICT"

	// ErrCodeQueryPattern: a malformed query pattern or scan bound.
	ErrCodeQueryPattern ErrorCode = "QUERY_PATTERN"

	// ErrCodeInvalidRequest: a transaction request that cannot be stored as given.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrCodeDatomConflict: datoms in one transaction contradict each other.
	ErrCodeDatomConflict ErrorCode = "DATOM_CONFLICT"

	// ErrCodeClosed: the store has been closed.
	ErrCodeClosed ErrorCode = "CLOSED"
)

// Error is the error type surfaced by every store layer.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Family is the index family involved, for INDEX_WRITE errors.
	Family *Family

	// Tempid is the offending tempid label, for TEMPID_CONFLICT errors.
	Tempid string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Family != nil {
		msg += fmt.Sprintf(" (family=%s)", e.Family)
	}
	if e.Tempid != "" {
		msg += fmt.Sprintf(" (tempid=%s)", e.Tempid)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewAllocatorCorruption reports a high-water mark below the ids on disk.
func NewAllocatorCorruption(format string, args ...any) *Error {
	return Errorf(ErrCodeAllocatorCorruption, format, args...)
}

// NewIndexWrite wraps a failed insert into family f.
func NewIndexWrite(f Family, err error) *Error {
	return &Error{
		Code:    ErrCodeIndexWrite,
		Message: "index write failed, batch rolled back",
		Family:  &f,
		Err:     err,
	}
}

// NewTransactionAborted wraps the reason a transaction was rejected.
func NewTransactionAborted(err error) *Error {
	return &Error{
		Code:    ErrCodeTransactionAborted,
		Message: "transaction aborted",
		Err:     err,
	}
}

// NewTempidConflict reports an inconsistent tempid.
func NewTempidConflict(tempid, format string, args ...any) *Error {
	e := Errorf(ErrCodeTempidConflict, format, args...)
	e.Tempid = tempid
	return e
}

// NewQueryPattern reports a malformed pattern.
func NewQueryPattern(format string, args ...any) *Error {
	return Errorf(ErrCodeQueryPattern, format, args...)
}

// Code returns the code of the outermost *Error in err's chain, or "".
func Code(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// IsAllocatorCorruption reports whether err is an allocator corruption error.
func IsAllocatorCorruption(err error) bool { return HasCode(err, ErrCodeAllocatorCorruption) }

// IsIndexWrite reports whether err is, or wraps, an index write error.
func IsIndexWrite(err error) bool { return HasCode(err, ErrCodeIndexWrite) }

// IsTransactionAborted reports whether err is a transaction abort.
func IsTransactionAborted(err error) bool { return HasCode(err, ErrCodeTransactionAborted) }

// IsTempidConflict reports whether err is a tempid conflict.
func IsTempidConflict(err error) bool { return HasCode(err, ErrCodeTempidConflict) }

// IsQueryPattern reports whether err is a malformed query pattern.
func IsQueryPattern(err error) bool { return HasCode(err, ErrCodeQueryPattern) }
