package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrApplicationNotFound = errors.New("vendor application not found")

	// ErrInvalidToken covers unknown, expired and consumed tokens alike.
	ErrInvalidToken = errors.New("invalid token")

	// ErrAccessDenied is returned by the vendor session gate.
	ErrAccessDenied = errors.New("access denied")
)

// TransitionError is returned when a state transition is not allowed.
// Err is set when the transition lost a race to a concurrent writer.
type TransitionError struct {
	Event   Event
	Current Status
	Err     error
}

func (e *TransitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %q is not valid from state %q: %v", e.Event, e.Current, e.Err)
	}
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// ConflictError is returned when a compare-and-swap update finds the record
// no longer in the expected state.
type ConflictError struct {
	ID       string
	Expected Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("application %q is no longer in state %q", e.ID, e.Expected)
}

// DuplicateApplicationError is returned when an open application already
// exists for the email.
type DuplicateApplicationError struct {
	Email string
}

func (e *DuplicateApplicationError) Error() string {
	return fmt.Sprintf("an open application already exists for %q", e.Email)
}

// UsernameConflictError is returned when a username is already in use.
type UsernameConflictError struct {
	Username string
}

func (e *UsernameConflictError) Error() string {
	return fmt.Sprintf("username %q is already in use", e.Username)
}

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotificationError reports that a message could not be handed to the
// gateway. On transitions it is a warning: the status change stands.
type NotificationError struct {
	Kind          NotificationKind
	ApplicationID string
	Err           error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("sending %s notification for %q: %v", e.Kind, e.ApplicationID, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}
