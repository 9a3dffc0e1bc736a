package dm

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxTransitionsPerChange bounds the recalculation loop to the number of
// states; a longer cascade means the transition rules are inconsistent.
const maxTransitionsPerChange = 4

// handleChange moves the component along the transition table until the
// state is stable.
func (c *Component) handleChange() {
	for i := 0; i < maxTransitionsPerChange; i++ {
		c.mu.Lock()
		current := c.state
		next := c.calculateNewStateLocked()
		if next == current {
			c.mu.Unlock()
			return
		}
		c.state = next
		c.mu.Unlock()

		c.performTransition(current, next)
		for _, o := range c.observers {
			o.ComponentStateChanged(c, current, next)
		}
	}

	c.mu.Lock()
	state := c.state
	settled := c.calculateNewStateLocked() == state
	c.mu.Unlock()
	if !settled {
		c.logger.Error("State did not settle after %d transitions, staying in %s", maxTransitionsPerChange, state)
	}
}

func (c *Component) calculateNewStateLocked() State {
	switch c.state {
	case StateInactive:
		if c.isStarted {
			return StateWaitingForRequired
		}
	case StateWaitingForRequired:
		if !c.isStarted {
			return StateInactive
		}
		if c.allRequiredAvailableLocked() {
			return StateInstantiatedAndWaitingForRequired
		}
	case StateInstantiatedAndWaitingForRequired:
		if !c.isStarted || !c.allRequiredAvailableLocked() {
			return StateWaitingForRequired
		}
		if c.allInstanceBoundAvailableLocked() {
			return StateTrackingOptional
		}
	case StateTrackingOptional:
		if !c.isStarted || !c.allRequiredAvailableLocked() || !c.allInstanceBoundAvailableLocked() {
			return StateInstantiatedAndWaitingForRequired
		}
	}
	return c.state
}

// allRequiredAvailableLocked checks the required dependencies that were
// present when the component was started.
func (c *Component) allRequiredAvailableLocked() bool {
	for _, d := range c.dependencies {
		if d.IsRequired() && !d.IsInstanceBound() && !d.IsAvailable() {
			return false
		}
	}
	return true
}

func (c *Component) allInstanceBoundAvailableLocked() bool {
	for _, d := range c.dependencies {
		if d.IsRequired() && d.IsInstanceBound() && !d.IsAvailable() {
			return false
		}
	}
	return true
}

func (c *Component) performTransition(from, to State) {
	ctx, span := c.tracer.Start(context.Background(), "dm.component.transition",
		trace.WithAttributes(
			attribute.String("component.name", c.name),
			attribute.String("component.id", c.ID()),
			attribute.String("transition.from", from.String()),
			attribute.String("transition.to", to.String()),
		),
	)
	defer span.End()
	c.logger.WithContext(ctx).Debug("Transition %s -> %s", from, to)

	c.mu.Lock()
	callbacks := c.callbacks
	c.mu.Unlock()

	switch {
	case from == StateInactive && to == StateWaitingForRequired:
		c.startDependencies(c.Dependencies())

	case from == StateWaitingForRequired && to == StateInactive:
		deps := c.Dependencies()
		c.stopDependencies(deps)
		c.forgetEvents(deps)

	case from == StateWaitingForRequired && to == StateInstantiatedAndWaitingForRequired:
		c.invokeAdd(c.selectDependencies(requiredStartup))
		c.autoConfigure(c.selectDependencies(startup))
		c.invokeLifecycle(span, "init", callbacks.Init)

	case from == StateInstantiatedAndWaitingForRequired && to == StateWaitingForRequired:
		c.invokeLifecycle(span, "deinit", callbacks.Deinit)
		c.invokeRemove(c.selectDependencies(requiredStartup))

	case from == StateInstantiatedAndWaitingForRequired && to == StateTrackingOptional:
		c.invokeAdd(c.selectDependencies(requiredInstanceBound))
		c.autoConfigure(c.selectDependencies(instanceBound))
		c.invokeLifecycle(span, "start", callbacks.Start)
		c.invokeAdd(c.selectDependencies(optional))
		c.registerInterfaces()
		c.mu.Lock()
		c.nrOfTimesStarted++
		c.mu.Unlock()

	case from == StateTrackingOptional && to == StateInstantiatedAndWaitingForRequired:
		c.unregisterInterfaces()
		c.invokeRemove(c.selectDependencies(optional))
		c.invokeLifecycle(span, "stop", callbacks.Stop)
		c.invokeRemove(c.selectDependencies(requiredInstanceBound))
	}
}

type dependencySelector func(req, bound bool) bool

func requiredStartup(req, bound bool) bool { return req && !bound }

func requiredInstanceBound(req, bound bool) bool { return req && bound }

func optional(req, _ bool) bool { return !req }

func startup(_, bound bool) bool { return !bound }

func instanceBound(_, bound bool) bool { return bound }

func (c *Component) selectDependencies(match dependencySelector) []*ServiceDependency {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*ServiceDependency
	for _, d := range c.dependencies {
		if match(d.IsRequired(), d.IsInstanceBound()) {
			out = append(out, d)
		}
	}
	return out
}

// startDependencies opens trackers for optional dependencies before
// required ones, so optional events are already stored when the required
// ones let the component proceed.
func (c *Component) startDependencies(deps []*ServiceDependency) {
	ordered := make([]*ServiceDependency, 0, len(deps))
	for _, d := range deps {
		if !d.IsRequired() {
			ordered = append(ordered, d)
		}
	}
	for _, d := range deps {
		if d.IsRequired() {
			ordered = append(ordered, d)
		}
	}

	for _, d := range ordered {
		if c.ctx == nil {
			c.fault(illegalState("component %s has no bundle context to track %s", c.name, d.Filter().Name))
			return
		}
		listener := &dependencyListener{component: c, dependency: d, generation: d.nextGeneration()}
		tracker, err := c.ctx.TrackServices(d.Filter(), listener)
		if err != nil {
			c.fault(&CallbackError{Component: c.name, Callback: "track " + d.Filter().Name, Err: err})
			continue
		}
		d.setTracker(tracker)
	}
}

func (c *Component) stopDependencies(deps []*ServiceDependency) {
	for _, d := range deps {
		c.stopTracker(d)
	}
}

// forgetEvents drops what the closed trackers reported. A restart sees only
// what the new trackers report.
func (c *Component) forgetEvents(deps []*ServiceDependency) {
	c.mu.Lock()
	for _, d := range deps {
		if _, ok := c.events[d]; ok {
			c.events[d] = &eventStore{}
		}
	}
	c.mu.Unlock()
	for _, d := range deps {
		d.reset()
	}
}

func (c *Component) stopTracker(d *ServiceDependency) {
	tracker := d.takeTracker()
	if tracker == nil {
		return
	}
	if err := tracker.Close(); err != nil {
		c.logger.Warn("Failed to close tracker for %s: %v", d.Filter().Name, err)
	}
}

func (c *Component) eventsOf(d *ServiceDependency) []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if store, ok := c.events[d]; ok {
		return store.snapshot()
	}
	return nil
}

func (c *Component) bestOf(d *ServiceDependency) *Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if store, ok := c.events[d]; ok {
		return store.best()
	}
	return nil
}

func (c *Component) invokeAdd(deps []*ServiceDependency) {
	impl := c.Implementation()
	for _, d := range deps {
		cb := d.getCallbacks().Add
		if cb == nil {
			continue
		}
		for _, ev := range c.eventsOf(d) {
			cb.AddService(impl, ev)
		}
	}
}

func (c *Component) invokeRemove(deps []*ServiceDependency) {
	impl := c.Implementation()
	for _, d := range deps {
		cb := d.getCallbacks().Remove
		if cb == nil {
			continue
		}
		for _, ev := range c.eventsOf(d) {
			cb.RemoveService(impl, ev)
		}
	}
}

func (c *Component) autoConfigure(deps []*ServiceDependency) {
	for _, d := range deps {
		d.configure(c.bestOf(d))
	}
}

func (c *Component) invokeLifecycle(span trace.Span, name string, fn LifecycleFunc) {
	if fn == nil {
		return
	}
	if err := fn(c.Implementation()); err != nil {
		cbErr := &CallbackError{Component: c.name, Callback: name, Err: err}
		span.RecordError(cbErr)
		span.SetStatus(codes.Error, name+" callback failed")
		c.fault(cbErr)
	}
}

func (c *Component) registerInterfaces() {
	c.mu.Lock()
	ifaces := make([]*providedInterface, len(c.interfaces))
	copy(ifaces, c.interfaces)
	c.mu.Unlock()

	for _, iface := range ifaces {
		if c.ctx == nil {
			c.fault(illegalState("component %s has no bundle context to register %s", c.name, iface.name))
			return
		}
		reg, err := c.ctx.RegisterService(iface.name, iface.service, iface.properties.Clone())
		if err != nil {
			c.fault(&CallbackError{Component: c.name, Callback: "register " + iface.name, Err: err})
			continue
		}
		c.mu.Lock()
		iface.registration = reg
		c.mu.Unlock()
		c.logger.Debug("Registered %s as service %d", iface.name, reg.ServiceID())
	}
}

func (c *Component) unregisterInterfaces() {
	c.mu.Lock()
	var regs []ServiceRegistration
	var names []string
	for _, iface := range c.interfaces {
		if iface.registration != nil {
			regs = append(regs, iface.registration)
			names = append(names, iface.name)
			iface.registration = nil
		}
	}
	c.mu.Unlock()

	for i, reg := range regs {
		if err := reg.Unregister(); err != nil {
			c.logger.Warn("Failed to unregister %s: %v", names[i], err)
		}
	}
}

func (c *Component) fault(err error) {
	c.mu.Lock()
	c.faults++
	c.mu.Unlock()
	c.logger.Error("%v", err)
	for _, o := range c.observers {
		o.ComponentFault(c, err)
	}
}
