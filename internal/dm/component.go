// Package dm is the dependency manager: components declare the services
// they provide and depend on, and a per-component state machine decides
// when they are initialized, started and published as services appear and
// disappear.
//
// All mutations of a component run as tasks on its Executor. Public
// methods validate their arguments, enqueue a task and return; the task
// runs on the calling goroutine when the component is idle, or later on
// whichever goroutine is currently draining it.
package dm

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/depman/internal/logging"
)

const tracerName = "github.com/moolen/depman/internal/dm"

// Limits bound the bookkeeping of a component. Zero means unlimited.
type Limits struct {
	MaxDependencies        int
	MaxEventsPerDependency int
	MaxInterfaces          int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDependencies:        64,
		MaxEventsPerDependency: 1024,
		MaxInterfaces:          32,
	}
}

// Option configures components created by NewComponent or a
// DependencyManager.
type Option func(*options)

type options struct {
	limits    Limits
	observers []Observer
	tracer    trace.Tracer
}

// WithLimits overrides DefaultLimits.
func WithLimits(l Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithObserver adds an observer notified of state changes, events and
// faults.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithTracer sets the tracer used for transition spans. The global
// OpenTelemetry provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func buildOptions(opts []Option) options {
	o := options{limits: DefaultLimits()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

type providedInterface struct {
	name         string
	service      interface{}
	properties   Properties
	registration ServiceRegistration
}

// Component is a unit with an implementation, provided interfaces and
// service dependencies.
type Component struct {
	id        uuid.UUID
	name      string
	ctx       BundleContext
	limits    Limits
	observers []Observer
	tracer    trace.Tracer
	executor  *Executor
	logger    *logging.Logger

	mu               sync.Mutex
	state            State
	active           bool
	isStarted        bool
	implementation   interface{}
	callbacks        LifecycleCallbacks
	attached         map[*ServiceDependency]struct{}
	dependencies     []*ServiceDependency
	events           map[*ServiceDependency]*eventStore
	interfaces       []*providedInterface
	nrOfTimesStarted int
	faults           int
}

// NewComponent creates an inactive component bound to ctx.
func NewComponent(ctx BundleContext, name string, opts ...Option) *Component {
	o := buildOptions(opts)
	id := uuid.New()
	if name == "" {
		name = id.String()
	}
	return &Component{
		id:        id,
		name:      name,
		ctx:       ctx,
		limits:    o.limits,
		observers: o.observers,
		tracer:    o.tracer,
		executor:  NewExecutor(),
		logger:    logging.GetLogger("dm.component").WithField("component", name),
		attached:  make(map[*ServiceDependency]struct{}),
		events:    make(map[*ServiceDependency]*eventStore),
	}
}

// ID returns the component UUID.
func (c *Component) ID() string {
	return c.id.String()
}

// Name returns the component name.
func (c *Component) Name() string {
	return c.name
}

// BundleContext returns the context the component was created with.
func (c *Component) BundleContext() BundleContext {
	return c.ctx
}

// State returns the current state.
func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsActive reports whether Start was called without a later Stop.
func (c *Component) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// IsAvailable reports whether the component is tracking optional
// dependencies, that is fully started and published.
func (c *Component) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateTrackingOptional
}

// PendingTasks returns the number of queued executor tasks.
func (c *Component) PendingTasks() int {
	return c.executor.Pending()
}

// SetImplementation sets the instance passed to every callback.
func (c *Component) SetImplementation(impl interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.implementation = impl
}

// Implementation returns the instance passed to every callback.
func (c *Component) Implementation() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.implementation
}

// SetCallbacks sets the lifecycle callbacks. It fails while the component is
// active.
func (c *Component) SetCallbacks(cb LifecycleCallbacks) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return illegalState("cannot set callbacks of active component %s", c.name)
	}
	c.callbacks = cb
	return nil
}

// AddInterface declares a service published while the component is
// tracking optional dependencies. It fails while the component is active.
func (c *Component) AddInterface(name string, service interface{}, props Properties) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return illegalState("cannot add interface %s to active component %s", name, c.name)
	}
	if max := c.limits.MaxInterfaces; max > 0 && len(c.interfaces) >= max {
		return exhausted("component %s already provides %d interfaces", c.name, max)
	}
	p := props.Clone()
	p[PropObjectClass] = name
	c.interfaces = append(c.interfaces, &providedInterface{
		name:       name,
		service:    service,
		properties: p,
	})
	return nil
}

// RemoveInterface removes every declared interface with the given name. It
// fails while the component is active.
func (c *Component) RemoveInterface(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return illegalState("cannot remove interface %s from active component %s", name, c.name)
	}
	kept := c.interfaces[:0]
	removed := false
	for _, iface := range c.interfaces {
		if iface.name == name {
			removed = true
			continue
		}
		kept = append(kept, iface)
	}
	c.interfaces = kept
	if !removed {
		return fmt.Errorf("component %s does not provide %s", c.name, name)
	}
	return nil
}

// AddServiceDependency attaches dependencies. Dependencies added after the
// component left the inactive state become instance-bound and their
// trackers are started at once, optional ones first.
func (c *Component) AddServiceDependency(deps ...*ServiceDependency) error {
	if len(deps) == 0 {
		return nil
	}
	batch := make([]*ServiceDependency, len(deps))
	copy(batch, deps)

	c.mu.Lock()
	if !c.active && c.hasRegistrationsLocked() {
		c.mu.Unlock()
		return illegalState("component %s is stopping with registered interfaces", c.name)
	}
	if max := c.limits.MaxDependencies; max > 0 && len(c.attached)+len(batch) > max {
		c.mu.Unlock()
		return exhausted("component %s would exceed %d dependencies", c.name, max)
	}
	for i, d := range batch {
		if d == nil {
			c.rollbackAttachLocked(batch[:i])
			c.mu.Unlock()
			return fmt.Errorf("dependency %d is nil", i)
		}
		if err := d.attach(c); err != nil {
			c.rollbackAttachLocked(batch[:i])
			c.mu.Unlock()
			return err
		}
		c.attached[d] = struct{}{}
	}
	c.mu.Unlock()

	c.executor.Execute(func() { c.addTask(batch) })
	return nil
}

func (c *Component) rollbackAttachLocked(deps []*ServiceDependency) {
	for _, d := range deps {
		delete(c.attached, d)
		d.detach()
	}
}

// RemoveServiceDependency detaches a dependency, stops its tracker and
// drops its events.
func (c *Component) RemoveServiceDependency(dep *ServiceDependency) error {
	c.mu.Lock()
	if _, ok := c.attached[dep]; !ok {
		c.mu.Unlock()
		return illegalState("dependency is not attached to component %s", c.name)
	}
	delete(c.attached, dep)
	c.mu.Unlock()

	c.executor.Execute(func() { c.removeTask(dep) })
	return nil
}

// Dependencies returns the dependencies currently owned by the component.
func (c *Component) Dependencies() []*ServiceDependency {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ServiceDependency, len(c.dependencies))
	copy(out, c.dependencies)
	return out
}

// Start activates the component. Calling it twice has no further effect.
func (c *Component) Start() error {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()

	c.executor.Execute(c.startTask)
	return nil
}

// StartAsync activates the component like Start, but the start task runs on
// a separate goroutine when no other goroutine is already draining.
func (c *Component) StartAsync() {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()

	c.executor.Submit(c.startTask)
}

// Stop deactivates the component; once the queued stop task runs the
// component goes back to inactive.
func (c *Component) Stop() error {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()

	c.executor.Execute(c.stopTask)
	return nil
}

// HandleEvent queues an ADDED, CHANGED or REMOVED event of dep.
func (c *Component) HandleEvent(dep *ServiceDependency, kind EventKind, ev *Event) error {
	if dep == nil || ev == nil {
		return fmt.Errorf("dependency and event are required")
	}
	switch kind {
	case EventAdded, EventChanged, EventRemoved:
		c.executor.Execute(func() { c.handleEvent(dep, kind, ev) })
	case EventSwapped:
		return fmt.Errorf("%s events carry two services, use HandleSwap", kind)
	default:
		return fmt.Errorf("unknown event kind %d", int(kind))
	}
	return nil
}

func (c *Component) handleEvent(dep *ServiceDependency, kind EventKind, ev *Event) {
	switch kind {
	case EventAdded:
		c.handleAdded(dep, ev)
	case EventChanged:
		c.handleChanged(dep, ev)
	case EventRemoved:
		c.handleRemoved(dep, ev)
	}
}

// HandleSwap queues the replacement of old by replacement in dep.
func (c *Component) HandleSwap(dep *ServiceDependency, old, replacement *Event) error {
	if dep == nil || old == nil || replacement == nil {
		return fmt.Errorf("dependency and both events are required")
	}
	c.executor.Execute(func() { c.handleSwapped(dep, old, replacement) })
	return nil
}

// sync runs fn after every task queued before it.
func (c *Component) sync(fn func()) {
	c.executor.Execute(fn)
}

func (c *Component) hasRegistrationsLocked() bool {
	for _, iface := range c.interfaces {
		if iface.registration != nil {
			return true
		}
	}
	return false
}

func (c *Component) startTask() {
	c.mu.Lock()
	c.isStarted = true
	c.mu.Unlock()
	c.handleChange()
}

func (c *Component) stopTask() {
	c.mu.Lock()
	c.isStarted = false
	c.mu.Unlock()
	c.handleChange()
}

func (c *Component) addTask(deps []*ServiceDependency) {
	c.mu.Lock()
	bound := c.state != StateInactive
	for _, d := range deps {
		c.dependencies = append(c.dependencies, d)
		c.events[d] = &eventStore{}
		if bound {
			d.setInstanceBound(true)
		}
	}
	c.mu.Unlock()

	if bound {
		c.startDependencies(deps)
	}
	c.handleChange()
}

func (c *Component) removeTask(dep *ServiceDependency) {
	c.mu.Lock()
	idx := -1
	for i, d := range c.dependencies {
		if d == dep {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.dependencies = append(c.dependencies[:idx:idx], c.dependencies[idx+1:]...)
	delete(c.events, dep)
	c.mu.Unlock()

	c.stopTracker(dep)
	dep.detach()
	c.handleChange()
}

// attachedDependencies includes dependencies whose add task has not run yet.
func (c *Component) attachedDependencies() []*ServiceDependency {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ServiceDependency, 0, len(c.attached))
	for d := range c.attached {
		out = append(out, d)
	}
	return out
}
