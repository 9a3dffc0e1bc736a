package dm

import "fmt"

// EventKind classifies a service availability change reported by a tracker.
type EventKind int

const (
	EventAdded EventKind = iota + 1
	EventChanged
	EventRemoved
	EventSwapped
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "ADDED"
	case EventChanged:
		return "CHANGED"
	case EventRemoved:
		return "REMOVED"
	case EventSwapped:
		return "SWAPPED"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// ServiceReference is what a tracker hands to a dependency: the service as
// registered plus a snapshot of its properties.
type ServiceReference struct {
	ID         int64
	Service    interface{}
	Properties Properties
}

// Event is one concrete service currently matching a dependency.
//
// Service is borrowed from the registry. It stays valid until the next
// REMOVED or SWAPPED for the same service is processed by the owning
// component, so holding it longer (for example in an auto-configured field)
// is only safe while that ordering is observed.
type Event struct {
	ServiceID  int64
	Ranking    int64
	Service    interface{}
	Properties Properties
}

// NewEvent builds an event from a tracker reference. The ranking is read
// from service.ranking and defaults to 0.
func NewEvent(ref ServiceReference) *Event {
	id := ref.ID
	if id == 0 {
		id = ref.Properties.Int64(PropServiceID, 0)
	}
	return &Event{
		ServiceID:  id,
		Ranking:    ref.Properties.Int64(PropServiceRanking, 0),
		Service:    ref.Service,
		Properties: ref.Properties,
	}
}

// CompareEvents orders events by ranking, then by service id with lower ids
// winning ties. It returns a positive number when a is preferred over b.
func CompareEvents(a, b *Event) int {
	switch {
	case a.Ranking > b.Ranking:
		return 1
	case a.Ranking < b.Ranking:
		return -1
	case a.ServiceID < b.ServiceID:
		return 1
	case a.ServiceID > b.ServiceID:
		return -1
	default:
		return 0
	}
}

func (e *Event) String() string {
	return fmt.Sprintf("service %d (ranking %d)", e.ServiceID, e.Ranking)
}
