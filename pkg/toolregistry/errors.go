package toolregistry

import "errors"

var (
	// ErrDuplicateTool is returned by Register for a name already present.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrInvalidDefinition wraps every definition validation failure.
	ErrInvalidDefinition = errors.New("invalid tool definition")
	// ErrToolNotFound is returned by Unregister and Get for unknown names.
	ErrToolNotFound = errors.New("tool not found")

	// ErrNotFound and ErrConflict are domain errors for handlers to wrap
	// with %w. Both map to EXECUTION_ERROR; the cause is kept for logging.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type retryableError struct {
	err error
}

func (e *retryableError) Error() string   { return e.err.Error() }
func (e *retryableError) Unwrap() error   { return e.err }
func (e *retryableError) Retryable() bool { return true }

// Retryable marks err as transient. A handler returning it produces an
// EXECUTION_ERROR with retryable set.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether any error in err's chain says it is
// retryable through a Retryable() bool method.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
