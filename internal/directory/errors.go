package directory

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every lookup failure. Callers cannot tell an
// unreachable directory from a missing user.
var ErrNotFound = errors.New("directory entry not found")

// Reason records why a lookup failed.
type Reason int

const (
	ReasonConnectionFailed Reason = iota
	ReasonNoMatch
	ReasonAmbiguous
)

func (r Reason) String() string {
	switch r {
	case ReasonConnectionFailed:
		return "connection_failed"
	case ReasonNoMatch:
		return "no_match"
	case ReasonAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// LookupError is returned by Resolve.
type LookupError struct {
	Reason   Reason
	Username string
	Cause    error
}

func (e *LookupError) Error() string {
	msg := fmt.Sprintf("lookup %q: %s", e.Username, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LookupError) Unwrap() error {
	return e.Cause
}

func (e *LookupError) Is(target error) bool {
	return target == ErrNotFound
}

// IsAmbiguous reports whether err is a lookup that matched more than one
// entry.
func IsAmbiguous(err error) bool {
	var lookupErr *LookupError
	return errors.As(err, &lookupErr) && lookupErr.Reason == ReasonAmbiguous
}
