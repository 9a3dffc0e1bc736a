package dm

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// storeForLocked returns the event store of dep, or nil when dep is no longer
// owned by the component. Events for detached dependencies are late
// deliveries from a closed tracker and are dropped. Callers hold c.mu.
func (c *Component) storeForLocked(dep *ServiceDependency, kind EventKind, serviceID int64) *eventStore {
	store, ok := c.events[dep]
	if !ok {
		c.logger.Debug("Ignoring %s for service %d of detached dependency on %s", kind, serviceID, dep.Filter().Name)
		return nil
	}
	return store
}

func (c *Component) eventError(dep *ServiceDependency, kind EventKind, serviceID int64, err error) error {
	return &EventError{
		Component:  c.name,
		Dependency: dep.Filter().String(),
		Kind:       kind,
		ServiceID:  serviceID,
		Err:        err,
	}
}

func (c *Component) handleAdded(dep *ServiceDependency, ev *Event) {
	c.mu.Lock()
	store := c.storeForLocked(dep, EventAdded, ev.ServiceID)
	if store == nil {
		c.mu.Unlock()
		return
	}
	if max := c.limits.MaxEventsPerDependency; max > 0 && store.len() >= max {
		c.mu.Unlock()
		c.fault(c.eventError(dep, EventAdded, ev.ServiceID, exhausted("dependency already holds %d services", max)))
		return
	}
	if err := store.add(ev); err != nil {
		c.mu.Unlock()
		c.fault(c.eventError(dep, EventAdded, ev.ServiceID, err))
		return
	}
	dep.setAvailable(true)
	best := store.best()
	state := c.state
	c.mu.Unlock()

	dep.configure(best)
	c.invokeSet(dep, best)

	switch state {
	case StateWaitingForRequired:
		if dep.IsRequired() {
			c.handleChange()
		}
	case StateInstantiatedAndWaitingForRequired:
		if !dep.IsInstanceBound() && dep.IsRequired() {
			c.invokeAddOne(dep, ev)
		}
		c.handleChange()
	case StateTrackingOptional:
		c.suspended(dep, state, func() { c.invokeAddOne(dep, ev) })
	}
	c.notifyEvent(EventAdded)
}

func (c *Component) handleChanged(dep *ServiceDependency, ev *Event) {
	c.mu.Lock()
	store := c.storeForLocked(dep, EventChanged, ev.ServiceID)
	if store == nil {
		c.mu.Unlock()
		return
	}
	if _, err := store.replace(ev.ServiceID, ev); err != nil {
		c.mu.Unlock()
		c.fault(c.eventError(dep, EventChanged, ev.ServiceID, err))
		return
	}
	best := store.best()
	state := c.state
	c.mu.Unlock()

	dep.configure(best)
	c.invokeSet(dep, best)

	if c.deliversTo(dep, state) {
		c.suspended(dep, state, func() {
			if cb := dep.getCallbacks().Change; cb != nil {
				cb.ChangeService(c.Implementation(), ev)
			}
		})
	}
	c.notifyEvent(EventChanged)
}

// handleRemoved recomputes the state while the departing event is still
// stored, so callbacks run by a downward cascade see it once, and only then
// drops it.
func (c *Component) handleRemoved(dep *ServiceDependency, ev *Event) {
	c.mu.Lock()
	store := c.storeForLocked(dep, EventRemoved, ev.ServiceID)
	if store == nil {
		c.mu.Unlock()
		return
	}
	if store.indexOf(ev.ServiceID) < 0 {
		c.mu.Unlock()
		c.fault(c.eventError(dep, EventRemoved, ev.ServiceID, ErrEventNotFound))
		return
	}
	dep.setAvailable(store.len() > 1)
	c.mu.Unlock()

	c.handleChange()

	c.mu.Lock()
	removed, err := store.remove(ev.ServiceID)
	best := store.best()
	state := c.state
	c.mu.Unlock()
	if err != nil {
		c.fault(c.eventError(dep, EventRemoved, ev.ServiceID, err))
		return
	}

	c.invokeSet(dep, best)
	if c.deliversTo(dep, state) {
		c.suspended(dep, state, func() {
			if cb := dep.getCallbacks().Remove; cb != nil {
				cb.RemoveService(c.Implementation(), removed)
			}
		})
	}
	dep.configure(best)
	c.notifyEvent(EventRemoved)
}

func (c *Component) handleSwapped(dep *ServiceDependency, old, replacement *Event) {
	c.mu.Lock()
	store := c.storeForLocked(dep, EventSwapped, old.ServiceID)
	if store == nil {
		c.mu.Unlock()
		return
	}
	previous, err := store.replace(old.ServiceID, replacement)
	if err != nil {
		c.mu.Unlock()
		c.fault(c.eventError(dep, EventSwapped, old.ServiceID, err))
		return
	}
	best := store.best()
	state := c.state
	c.mu.Unlock()

	dep.configure(best)
	c.invokeSet(dep, best)

	if c.deliversTo(dep, state) {
		c.suspended(dep, state, func() {
			if cb := dep.getCallbacks().Swap; cb != nil {
				cb.SwapService(c.Implementation(), previous, replacement)
			}
		})
	}
	c.notifyEvent(EventSwapped)
}

// deliversTo reports whether per-service callbacks of dep are live in
// state: every dependency once tracking optional, and required startup
// dependencies once instantiated.
func (c *Component) deliversTo(dep *ServiceDependency, state State) bool {
	switch state {
	case StateTrackingOptional:
		return true
	case StateInstantiatedAndWaitingForRequired:
		return dep.IsRequired() && !dep.IsInstanceBound()
	default:
		return false
	}
}

// suspended runs fn between the stop and start callbacks of a tracking
// component when dep uses StrategySuspend, and runs it directly otherwise.
func (c *Component) suspended(dep *ServiceDependency, state State, fn func()) {
	if state != StateTrackingOptional || dep.Strategy() != StrategySuspend {
		fn()
		return
	}
	c.mu.Lock()
	callbacks := c.callbacks
	c.mu.Unlock()

	_, span := c.tracer.Start(context.Background(), "dm.component.suspend",
		trace.WithAttributes(
			attribute.String("component.name", c.name),
			attribute.String("component.id", c.ID()),
			attribute.String("dependency.service", dep.Filter().Name),
		),
	)
	defer span.End()

	c.invokeLifecycle(span, "stop", callbacks.Stop)
	fn()
	c.invokeLifecycle(span, "start", callbacks.Start)
}

func (c *Component) invokeSet(dep *ServiceDependency, best *Event) {
	if cb := dep.getCallbacks().Set; cb != nil {
		cb.SetService(c.Implementation(), best)
	}
}

func (c *Component) invokeAddOne(dep *ServiceDependency, ev *Event) {
	if cb := dep.getCallbacks().Add; cb != nil {
		cb.AddService(c.Implementation(), ev)
	}
}

func (c *Component) notifyEvent(kind EventKind) {
	for _, o := range c.observers {
		o.ComponentEventHandled(c, kind)
	}
}
