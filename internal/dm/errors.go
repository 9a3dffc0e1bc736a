package dm

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalState is returned when an operation is not allowed in the
	// component's current lifecycle phase.
	ErrIllegalState = errors.New("illegal state")

	// ErrResourceExhausted is returned when a configured limit on
	// dependencies, events or interfaces would be exceeded.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrEventNotFound is a logic fault: the registry reported a change for
	// a service the component never saw as added.
	ErrEventNotFound = errors.New("event not found")

	// ErrDuplicateEvent is a logic fault: the registry reported the same
	// service as added twice.
	ErrDuplicateEvent = errors.New("duplicate event")
)

// EventError describes a disagreement between the registry and a
// component's event store.
type EventError struct {
	Component  string
	Dependency string
	Kind       EventKind
	ServiceID  int64
	Err        error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("component %s: %s event for service %d on dependency %s: %v",
		e.Component, e.Kind, e.ServiceID, e.Dependency, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// CallbackError wraps a failure returned by a user lifecycle callback.
type CallbackError struct {
	Component string
	Callback  string
	Err       error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("component %s: %s callback failed: %v", e.Component, e.Callback, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

func illegalState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIllegalState, fmt.Sprintf(format, args...))
}

func exhausted(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrResourceExhausted, fmt.Sprintf(format, args...))
}
