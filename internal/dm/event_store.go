package dm

import "sort"

// eventStore holds the events of one dependency, best first.
type eventStore struct {
	events []*Event
}

func (s *eventStore) len() int {
	return len(s.events)
}

func (s *eventStore) best() *Event {
	if len(s.events) == 0 {
		return nil
	}
	return s.events[0]
}

func (s *eventStore) indexOf(serviceID int64) int {
	for i, ev := range s.events {
		if ev.ServiceID == serviceID {
			return i
		}
	}
	return -1
}

func (s *eventStore) get(serviceID int64) *Event {
	if i := s.indexOf(serviceID); i >= 0 {
		return s.events[i]
	}
	return nil
}

// add inserts ev in order. It fails when the service is already present.
func (s *eventStore) add(ev *Event) error {
	if s.indexOf(ev.ServiceID) >= 0 {
		return ErrDuplicateEvent
	}
	s.insert(ev)
	return nil
}

// replace swaps the event of serviceID for ev and returns the old one.
func (s *eventStore) replace(serviceID int64, ev *Event) (*Event, error) {
	i := s.indexOf(serviceID)
	if i < 0 {
		return nil, ErrEventNotFound
	}
	old := s.events[i]
	s.removeAt(i)
	s.insert(ev)
	return old, nil
}

func (s *eventStore) remove(serviceID int64) (*Event, error) {
	i := s.indexOf(serviceID)
	if i < 0 {
		return nil, ErrEventNotFound
	}
	old := s.events[i]
	s.removeAt(i)
	return old, nil
}

func (s *eventStore) snapshot() []*Event {
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *eventStore) insert(ev *Event) {
	i := sort.Search(len(s.events), func(i int) bool {
		return CompareEvents(ev, s.events[i]) > 0
	})
	s.events = append(s.events, nil)
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = ev
}

func (s *eventStore) removeAt(i int) {
	copy(s.events[i:], s.events[i+1:])
	s.events[len(s.events)-1] = nil
	s.events = s.events[:len(s.events)-1]
}
