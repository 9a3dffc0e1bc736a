package dm

import "fmt"

// State is the lifecycle state of a component.
type State int

const (
	// StateInactive: not started, no callbacks active, nothing registered.
	StateInactive State = iota
	// StateWaitingForRequired: started, but a required dependency that was
	// present at start has no match.
	StateWaitingForRequired
	// StateInstantiatedAndWaitingForRequired: initialized, but not started
	// or still missing an instance-bound required dependency.
	StateInstantiatedAndWaitingForRequired
	// StateTrackingOptional: started with all required dependencies
	// available and provided interfaces registered.
	StateTrackingOptional
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateWaitingForRequired:
		return "WAITING_FOR_REQUIRED"
	case StateInstantiatedAndWaitingForRequired:
		return "INSTANTIATED_AND_WAITING_FOR_REQUIRED"
	case StateTrackingOptional:
		return "TRACKING_OPTIONAL"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AllStates lists the states in lifecycle order.
func AllStates() []State {
	return []State{
		StateInactive,
		StateWaitingForRequired,
		StateInstantiatedAndWaitingForRequired,
		StateTrackingOptional,
	}
}
