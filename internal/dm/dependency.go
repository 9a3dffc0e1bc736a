package dm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-version"
)

// ServiceFilter selects the services a dependency is interested in.
type ServiceFilter struct {
	// Name is the service (interface) name, matched against objectClass.
	Name string
	// Properties must all be present with equal values.
	Properties map[string]string
	// VersionRange is a go-version constraint matched against
	// service.version, e.g. ">= 1.0, < 2.0".
	VersionRange string
}

// String renders the filter in LDAP notation for diagnostics.
func (f ServiceFilter) String() string {
	var parts []string
	if f.Name != "" {
		parts = append(parts, fmt.Sprintf("(%s=%s)", PropObjectClass, f.Name))
	}
	keys := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("(%s=%s)", k, f.Properties[k]))
	}
	switch len(parts) {
	case 0:
		return "(objectClass=*)"
	case 1:
		return parts[0]
	default:
		return "(&" + strings.Join(parts, "") + ")"
	}
}

// AutoConfig is a field of an implementation that a dependency keeps
// pointed at its best matching service. Writes happen under the slot's own
// lock, never under the component lock, so readers on other goroutines see
// either the old or the new service.
type AutoConfig struct {
	mu        sync.RWMutex
	service   interface{}
	serviceID int64
}

// Get returns the configured service, or nil.
func (a *AutoConfig) Get() interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.service
}

// ServiceID returns the id of the configured service, or 0.
func (a *AutoConfig) ServiceID() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.serviceID
}

func (a *AutoConfig) set(ev *Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ev == nil {
		a.service = nil
		a.serviceID = 0
		return
	}
	a.service = ev.Service
	a.serviceID = ev.ServiceID
}

// AutoConfigured returns the configured service as T.
func AutoConfigured[T any](a *AutoConfig) (T, bool) {
	v, ok := a.Get().(T)
	return v, ok
}

// Strategy decides how a started component sees service changes of a
// dependency.
type Strategy int

const (
	// StrategyLocking delivers callbacks while the component keeps running.
	StrategyLocking Strategy = iota
	// StrategySuspend stops the component around every callback and starts
	// it again afterwards.
	StrategySuspend
)

func (s Strategy) String() string {
	switch s {
	case StrategyLocking:
		return "locking"
	case StrategySuspend:
		return "suspend"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy maps "locking" or "suspend" to a Strategy. An empty string
// is locking.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "locking":
		return StrategyLocking, nil
	case "suspend":
		return StrategySuspend, nil
	default:
		return StrategyLocking, fmt.Errorf("unknown dependency strategy %q", s)
	}
}

// ServiceDependency declares that a component uses services matching a
// filter.
type ServiceDependency struct {
	mu            sync.RWMutex
	filter        ServiceFilter
	required      bool
	instanceBound bool
	available     bool
	strategy      Strategy
	callbacks     DependencyCallbacks
	autoConfig    *AutoConfig
	component     *Component
	tracker       Tracker
	// generation identifies the tracker whose notifications are current.
	generation uint64
}

// NewServiceDependency returns an optional dependency without a filter.
func NewServiceDependency() *ServiceDependency {
	return &ServiceDependency{}
}

// SetService sets the service name and property filter.
func (d *ServiceDependency) SetService(name string, props map[string]string) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	filterProps := make(map[string]string, len(props))
	for k, v := range props {
		filterProps[k] = v
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter.Name = name
	d.filter.Properties = filterProps
	return nil
}

// SetVersionRange restricts matches to services whose service.version
// satisfies the constraint. An empty range matches every version.
func (d *ServiceDependency) SetVersionRange(r string) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	if r != "" {
		if _, err := version.NewConstraint(r); err != nil {
			return fmt.Errorf("invalid version range %q: %w", r, err)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter.VersionRange = r
	return nil
}

// SetRequired marks the dependency as required.
func (d *ServiceDependency) SetRequired(required bool) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.required = required
	return nil
}

// SetStrategy sets how callbacks reach a started component.
func (d *ServiceDependency) SetStrategy(s Strategy) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	if s != StrategyLocking && s != StrategySuspend {
		return fmt.Errorf("unknown dependency strategy %d", int(s))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strategy = s
	return nil
}

// Strategy returns the update strategy, StrategyLocking by default.
func (d *ServiceDependency) Strategy() Strategy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.strategy
}

// SetCallbacks replaces the dependency callbacks.
func (d *ServiceDependency) SetCallbacks(cb DependencyCallbacks) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = cb
	return nil
}

// SetAutoConfig sets the slot kept pointed at the best matching service.
func (d *ServiceDependency) SetAutoConfig(slot *AutoConfig) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoConfig = slot
	return nil
}

// Filter returns the service filter.
func (d *ServiceDependency) Filter() ServiceFilter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.filter
}

// IsRequired reports whether the component needs at least one match.
func (d *ServiceDependency) IsRequired() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.required
}

// IsInstanceBound reports whether the dependency was added to an already
// started component.
func (d *ServiceDependency) IsInstanceBound() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.instanceBound
}

// IsAvailable reports whether at least one matching service is tracked.
func (d *ServiceDependency) IsAvailable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.available
}

// Component returns the owning component, or nil when detached.
func (d *ServiceDependency) Component() *Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.component
}

func (d *ServiceDependency) checkMutable() error {
	c := d.Component()
	if c != nil && c.IsActive() {
		return illegalState("dependency on %s belongs to active component %s", d.Filter().Name, c.Name())
	}
	return nil
}

func (d *ServiceDependency) attach(c *Component) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.component != nil {
		return illegalState("dependency on %s already belongs to component %s", d.filter.Name, d.component.Name())
	}
	d.component = c
	return nil
}

func (d *ServiceDependency) detach() {
	d.mu.Lock()
	slot := d.autoConfig
	d.component = nil
	d.available = false
	d.instanceBound = false
	d.generation++
	d.mu.Unlock()
	if slot != nil {
		slot.set(nil)
	}
}

func (d *ServiceDependency) setInstanceBound(bound bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instanceBound = bound
}

func (d *ServiceDependency) setAvailable(available bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = available
}

func (d *ServiceDependency) getCallbacks() DependencyCallbacks {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.callbacks
}

// configure points the auto-config slot at ev, or clears it.
func (d *ServiceDependency) configure(ev *Event) {
	d.mu.RLock()
	slot := d.autoConfig
	d.mu.RUnlock()
	if slot != nil {
		slot.set(ev)
	}
}

// reset forgets every tracked service: the dependency is unavailable and
// its auto-config slot is cleared.
func (d *ServiceDependency) reset() {
	d.setAvailable(false)
	d.configure(nil)
}

// nextGeneration retires the current tracker's notifications and returns
// the generation of the tracker about to be opened.
func (d *ServiceDependency) nextGeneration() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generation++
	return d.generation
}

func (d *ServiceDependency) isCurrent(generation uint64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.generation == generation
}

func (d *ServiceDependency) setTracker(t Tracker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracker = t
}

// takeTracker also retires the notifications of the returned tracker, so
// removals it reports while closing are dropped.
func (d *ServiceDependency) takeTracker() Tracker {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.tracker
	d.tracker = nil
	d.generation++
	return t
}

// dependencyListener forwards tracker notifications to the owning
// component. Notifications of a tracker that was closed in the meantime
// are dropped when their task runs.
type dependencyListener struct {
	component  *Component
	dependency *ServiceDependency
	generation uint64
}

func (l *dependencyListener) ServiceAdded(ref ServiceReference) {
	l.forward(EventAdded, ref)
}

func (l *dependencyListener) ServiceModified(ref ServiceReference) {
	l.forward(EventChanged, ref)
}

func (l *dependencyListener) ServiceRemoved(ref ServiceReference) {
	l.forward(EventRemoved, ref)
}

func (l *dependencyListener) ServiceSwapped(old, replacement ServiceReference) {
	oldEv, newEv := NewEvent(old), NewEvent(replacement)
	l.component.sync(func() {
		if l.stale(EventSwapped, oldEv.ServiceID) {
			return
		}
		l.component.handleSwapped(l.dependency, oldEv, newEv)
	})
}

func (l *dependencyListener) forward(kind EventKind, ref ServiceReference) {
	ev := NewEvent(ref)
	l.component.sync(func() {
		if l.stale(kind, ev.ServiceID) {
			return
		}
		l.component.handleEvent(l.dependency, kind, ev)
	})
}

func (l *dependencyListener) stale(kind EventKind, serviceID int64) bool {
	if l.dependency.isCurrent(l.generation) {
		return false
	}
	l.component.logger.Debug("Ignoring %s for service %d from closed tracker of %s", kind, serviceID, l.dependency.Filter().Name)
	return true
}
