package swap

import (
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/cardswap/internal/proximity"
)

var (
	// ErrNotSubscribed: the command references a device with no directory entry.
	ErrNotSubscribed = proximity.ErrNotSubscribed

	// ErrStaleHandshake: the command references an exchange request that is
	// absent or no longer in the state the command needs.
	ErrStaleHandshake = errors.New("stale or missing card exchange request")
)

// ValidationError reports a malformed command argument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
