package coordinator

import (
	"fmt"

	"github.com/pkg/errors"
)

// UserError is spec.md §7's first taxonomy member: recoverable and
// actionable (a missing argument, an unclean path, invalid shorthand). It
// is reported to the user and maps to exit code 1 at the command
// boundary this module does not implement.
type UserError struct {
	msg string
}

func (e *UserError) Error() string { return e.msg }

// NewUserError builds a UserError with a formatted message.
func NewUserError(format string, args ...interface{}) error {
	return &UserError{msg: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err (or anything it wraps) is a UserError.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// StateConflict is spec.md §7's third taxonomy member: a mid-operation
// conflict (a stash apply that cannot be rebased cleanly). rm's refusals
// over unclean paths are reported as UserError, not StateConflict.
// Partial progress is left in place; Hint names what the caller should do
// next.
type StateConflict struct {
	msg  string
	Hint string
}

func (e *StateConflict) Error() string {
	if e.Hint == "" {
		return e.msg
	}
	return e.msg + " (" + e.Hint + ")"
}

// NewStateConflict builds a StateConflict with an optional follow-up hint.
func NewStateConflict(hint, format string, args ...interface{}) error {
	return &StateConflict{msg: fmt.Sprintf(format, args...), Hint: hint}
}

// IsStateConflict reports whether err (or anything it wraps) is a
// StateConflict.
func IsStateConflict(err error) bool {
	var sc *StateConflict
	return errors.As(err, &sc)
}

// Internal is spec.md §7's fourth taxonomy member: an invariant violation
// that should be impossible in principle. It always carries a stack
// trace via github.com/pkg/errors so it can be surfaced with one, as the
// spec requires.
type Internal struct {
	err error
}

func (e *Internal) Error() string  { return "coordinator: internal: " + e.err.Error() }
func (e *Internal) Unwrap() error  { return e.err }
func (e *Internal) Cause() error   { return e.err }
func (e *Internal) StackTrace() errors.StackTrace {
	type stackTracer interface{ StackTrace() errors.StackTrace }
	if st, ok := e.err.(stackTracer); ok {
		return st.StackTrace()
	}
	return nil
}

// NewInternal wraps err (attaching a stack trace if it does not already
// carry one) as an Internal error.
func NewInternal(err error) error {
	if err == nil {
		return nil
	}
	return &Internal{err: errors.WithStack(err)}
}

// wrapBackend converts a plumbing-layer error at the coordinator
// boundary: per spec.md §7's propagation policy, "unique 'not found'
// surfaces become null results; everything else becomes a typed error."
// Every plumbing call the coordinator cannot treat as diagnostic-only
// (i.e. where BackendMissing would have downgraded to UNKNOWN) is routed
// through here instead of being swallowed.
func wrapBackend(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return NewInternal(errors.Wrapf(err, format, args...))
}
