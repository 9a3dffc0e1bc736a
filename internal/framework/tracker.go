package framework

import (
	"sort"
	"sync/atomic"

	"github.com/moolen/depman/internal/dm"
)

// ServiceTracker follows the services matching a filter and reports changes
// to a dm.TrackerListener. All listener calls happen on the framework's
// event loop goroutine.
type ServiceTracker struct {
	fw       *Framework
	owner    *BundleContext
	filter   dm.ServiceFilter
	listener dm.TrackerListener
	closed   atomic.Bool

	// tracked is only touched on the event loop goroutine.
	tracked map[int64]dm.ServiceReference
}

func newServiceTracker(fw *Framework, owner *BundleContext, filter dm.ServiceFilter, listener dm.TrackerListener) *ServiceTracker {
	return &ServiceTracker{
		fw:       fw,
		owner:    owner,
		filter:   filter,
		listener: listener,
		tracked:  make(map[int64]dm.ServiceReference),
	}
}

// Filter returns the filter the tracker was opened with.
func (t *ServiceTracker) Filter() dm.ServiceFilter {
	return t.filter
}

// Close stops tracking. Every service still tracked is reported as removed
// on the event loop. Closing twice is a no-op.
func (t *ServiceTracker) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.fw.removeTracker(t)
	if t.owner != nil {
		t.owner.forgetTracker(t)
	}
	if !t.fw.loop.post(t.releaseAll) {
		t.fw.logger.Debug("Event loop stopped, dropping removals for tracker %s", t.filter)
	}
	return nil
}

// open reports the services registered before the tracker existed.
func (t *ServiceTracker) open() {
	if t.closed.Load() {
		return
	}
	for _, ref := range t.fw.registry.List() {
		if _, exists := t.tracked[ref.ID]; exists {
			continue
		}
		if t.fw.matcher.Matches(t.filter, ref.Properties) {
			t.tracked[ref.ID] = ref
			t.listener.ServiceAdded(ref)
		}
	}
}

func (t *ServiceTracker) handle(ev serviceEvent) {
	if t.closed.Load() {
		return
	}
	id := ev.ref.ID
	_, tracked := t.tracked[id]

	switch ev.kind {
	case serviceRegistered:
		if !tracked && t.fw.matcher.Matches(t.filter, ev.ref.Properties) {
			t.tracked[id] = ev.ref
			t.listener.ServiceAdded(ev.ref)
		}
	case serviceModified:
		matches := t.fw.matcher.Matches(t.filter, ev.ref.Properties)
		switch {
		case tracked && matches:
			t.tracked[id] = ev.ref
			t.listener.ServiceModified(ev.ref)
		case tracked:
			delete(t.tracked, id)
			t.listener.ServiceRemoved(ev.ref)
		case matches:
			t.tracked[id] = ev.ref
			t.listener.ServiceAdded(ev.ref)
		}
	case serviceUnregistering:
		if tracked {
			delete(t.tracked, id)
			t.listener.ServiceRemoved(ev.ref)
		}
	case serviceReplaced:
		if tracked {
			old := t.tracked[id]
			t.tracked[id] = ev.ref
			t.listener.ServiceSwapped(old, ev.ref)
		}
	}
}

func (t *ServiceTracker) releaseAll() {
	ids := make([]int64, 0, len(t.tracked))
	for id := range t.tracked {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		ref := t.tracked[id]
		delete(t.tracked, id)
		t.listener.ServiceRemoved(ref)
	}
}
