package errors

import (
	stderrors "errors"
	"fmt"
)

// Metadata keys attached by the constructors below.
const (
	MetaField     = "field"
	MetaFrom      = "from"
	MetaTo        = "to"
	MetaType      = "type"
	MetaKey       = "key"
	MetaReason    = "reason"
	MetaCommandID = "command_id"
	MetaAggregate = "aggregate"
	MetaCurrency  = "currency"
)

// Reasons carried by UNHANDLED_COMMAND errors.
const (
	ReasonAlreadyApplied = "already_applied"
	ReasonUnknownCommand = "unknown_command"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Failing field, statuses, keys
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates a domain error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WrapWithMetadata creates a domain error with both metadata and a cause.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata, Cause: cause}
}

// Sentinels for errors.Is checks by code.
var (
	ErrValidation        = New(CodeValidation, "validation failed")
	ErrInsufficientFunds = New(CodeInsufficientFunds, "insufficient funds")
	ErrIllegalTransition = New(CodeIllegalTransition, "illegal status transition")
	ErrUnhandledCommand  = New(CodeUnhandledCommand, "unhandled command")
	ErrSerialization     = New(CodeSerialization, "serialization failed")
	ErrLocked            = New(CodeLocked, "resource is locked")
	ErrNotFound          = New(CodeNotFound, "not found")
	ErrVersionConflict   = New(CodeVersionConflict, "version conflict")
	ErrUnavailable       = New(CodeUnavailable, "unavailable")
)

// Validation reports a malformed or missing field.
func Validation(field, message string) *Error {
	return WithMetadata(CodeValidation, fmt.Sprintf("%s: %s", field, message), map[string]string{MetaField: field})
}

// IllegalTransition reports a refused status change.
func IllegalTransition(aggregate, from, to string) *Error {
	return WithMetadata(CodeIllegalTransition,
		fmt.Sprintf("%s status cannot move from %s to %s", aggregate, from, to),
		map[string]string{MetaAggregate: aggregate, MetaFrom: from, MetaTo: to},
	)
}

// UnknownCommand reports a command variant the aggregate does not handle.
func UnknownCommand(aggregate, commandType string) *Error {
	return WithMetadata(CodeUnhandledCommand,
		fmt.Sprintf("%s does not handle command %s", aggregate, commandType),
		map[string]string{MetaAggregate: aggregate, MetaType: commandType, MetaReason: ReasonUnknownCommand},
	)
}

// AlreadyApplied reports a command that the aggregate has already applied.
func AlreadyApplied(aggregate, commandID string) *Error {
	return WithMetadata(CodeUnhandledCommand,
		fmt.Sprintf("command %s already applied to %s", commandID, aggregate),
		map[string]string{MetaAggregate: aggregate, MetaCommandID: commandID, MetaReason: ReasonAlreadyApplied},
	)
}

// Serialization reports a codec failure for the named target type.
func Serialization(typeName string, cause error) *Error {
	return WrapWithMetadata(CodeSerialization, "serialize "+typeName, map[string]string{MetaType: typeName}, cause)
}

// NotFound reports a command addressed to an aggregate that does not exist.
func NotFound(aggregate, id string) *Error {
	return WithMetadata(CodeNotFound, fmt.Sprintf("%s %s not found", aggregate, id),
		map[string]string{MetaAggregate: aggregate, MetaKey: id},
	)
}

// InsufficientFunds reports a debit larger than the available balance.
func InsufficientFunds(currency, balance, amount string) *Error {
	return WithMetadata(CodeInsufficientFunds,
		fmt.Sprintf("balance %s %s does not cover %s", balance, currency, amount),
		map[string]string{MetaField: "amount", MetaCurrency: currency},
	)
}

// Locked reports lock contention on key.
func Locked(key string) *Error {
	return WithMetadata(CodeLocked, "resource is locked: "+key, map[string]string{MetaKey: key})
}

// Unavailable wraps a collaborator failure with the failing operation and key.
func Unavailable(operation, key string, cause error) *Error {
	return WrapWithMetadata(CodeUnavailable, operation+" "+key, map[string]string{MetaKey: key}, cause)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeUnknown
}

// MetaOf returns metadata value key of the first *Error in err's chain.
func MetaOf(err error, key string) string {
	if e, ok := As(err); ok && e.Metadata != nil {
		return e.Metadata[key]
	}
	return ""
}

// IsAlreadyApplied reports whether err is an already-applied rejection.
func IsAlreadyApplied(err error) bool {
	return CodeOf(err) == CodeUnhandledCommand && MetaOf(err, MetaReason) == ReasonAlreadyApplied
}
