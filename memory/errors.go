package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors for the store's failure taxonomy. All are recoverable
// at the caller: no error condition corrupts index or trust state.
var (
	// ErrNotFound indicates an unknown memory id on feedback or lookup.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidAction indicates an unrecognized feedback action.
	ErrInvalidAction = errors.New("invalid feedback action")

	// ErrConflict indicates a resolve call on an already-resolved queue
	// entry with a different decision.
	ErrConflict = errors.New("request already resolved")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
