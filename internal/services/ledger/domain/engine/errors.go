package engine

import (
	"errors"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
)

var (
	// ErrStoreRequired indicates a missing store.
	ErrStoreRequired = errors.New("store is required")
	// ErrMutexRequired indicates a missing resource mutex.
	ErrMutexRequired = errors.New("resource mutex is required")
	// ErrCodecRequired indicates a missing command codec.
	ErrCodecRequired = errors.New("command codec is required")
	// ErrModulesRequired indicates that no aggregate module was registered.
	ErrModulesRequired = errors.New("at least one aggregate module is required")
)

// nonRetryableError wraps an error to signal that running the same command
// again cannot change the outcome.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable returns true from IsNonRetryable checks.
func (e *nonRetryableError) NonRetryable() bool { return true }

// MarkNonRetryable marks an error as non-retryable.
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable returns true when the error (or any error in its chain)
// signals that the operation must not be retried.
func IsNonRetryable(err error) bool {
	var target interface{ NonRetryable() bool }
	if errors.As(err, &target) {
		return target.NonRetryable()
	}
	return false
}

// Retryable reports whether a failed Execute may succeed if attempted again.
func Retryable(err error) bool {
	if err == nil || IsNonRetryable(err) {
		return false
	}
	return apperrors.CodeOf(err).Retryable()
}

// domainError keeps classified errors as they are and marks unclassified
// ones from aggregate code as deterministic.
func domainError(err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return MarkNonRetryable(err)
}
