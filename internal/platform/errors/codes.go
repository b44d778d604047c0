// Package errors provides the structured error type shared by the ledger
// domain, its engine and its infrastructure adapters.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors: malformed command payloads, rejected before any
	// state mutation.
	CodeValidation        Code = "VALIDATION"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"

	// Invariant violations.
	CodeIllegalTransition Code = "ILLEGAL_TRANSITION"
	CodeUnhandledCommand  Code = "UNHANDLED_COMMAND"

	// Infrastructure errors.
	CodeSerialization   Code = "SERIALIZATION"
	CodeLocked          Code = "LOCKED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeVersionConflict Code = "VERSION_CONFLICT"
	CodeUnavailable     Code = "UNAVAILABLE"
)

// Kind groups codes by how callers are expected to react to them.
type Kind string

const (
	// KindValidation means the input was wrong; retrying the same input fails again.
	KindValidation Kind = "validation"
	// KindInvariant means the aggregate refused the change; retrying fails again.
	KindInvariant Kind = "invariant"
	// KindInfrastructure means a collaborator failed; a retry may succeed.
	KindInfrastructure Kind = "infrastructure"
)

// Kind returns the reaction group for c.
func (c Code) Kind() Kind {
	switch c {
	case CodeValidation, CodeInsufficientFunds:
		return KindValidation
	case CodeIllegalTransition, CodeUnhandledCommand:
		return KindInvariant
	default:
		return KindInfrastructure
	}
}

// Retryable reports whether an error with this code may succeed when the same
// operation is attempted again.
func (c Code) Retryable() bool {
	switch c {
	case CodeLocked, CodeVersionConflict, CodeUnavailable, CodeUnknown:
		return true
	default:
		return false
	}
}
