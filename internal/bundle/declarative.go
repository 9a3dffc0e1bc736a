package bundle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/moolen/depman/internal/config"
	"github.com/moolen/depman/internal/dm"
	"github.com/moolen/depman/internal/framework"
	"github.com/moolen/depman/internal/logging"
)

// DeclarativeType is the bundle type of runtime file bundles whose
// components are fully described by the file.
const DeclarativeType = "declarative"

func init() {
	if err := RegisterFactory(DeclarativeType, NewDeclarativeActivator); err != nil {
		logging.GetLogger("bundle.declarative").Warn("Failed to register declarative factory: %v", err)
	}
}

// DeclaredService is the object published for each interface a
// declarative component provides.
type DeclaredService struct {
	Bundle     string
	Component  string
	Interface  string
	Properties map[string]string
}

func (s *DeclaredService) String() string {
	return fmt.Sprintf("%s/%s:%s", s.Bundle, s.Component, s.Interface)
}

// DeclaredComponent is the implementation behind a declarative component.
// Each dependency is auto-configured into a slot named after its service.
type DeclaredComponent struct {
	Name string

	slots map[string]*dm.AutoConfig

	mu      sync.Mutex
	started bool
	starts  int
}

func newDeclaredComponent(name string) *DeclaredComponent {
	return &DeclaredComponent{
		Name:  name,
		slots: make(map[string]*dm.AutoConfig),
	}
}

// Dependency returns the service currently injected for the named
// dependency.
func (d *DeclaredComponent) Dependency(service string) (interface{}, bool) {
	slot, ok := d.slots[service]
	if !ok {
		return nil, false
	}
	v := slot.Get()
	return v, v != nil
}

// Dependencies lists the service names the component depends on.
func (d *DeclaredComponent) Dependencies() []string {
	names := make([]string, 0, len(d.slots))
	for name := range d.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Started reports whether the component is between its start and stop
// callbacks.
func (d *DeclaredComponent) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Starts returns how many times the component was started.
func (d *DeclaredComponent) Starts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

func (d *DeclaredComponent) start(interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	d.starts++
	return nil
}

func (d *DeclaredComponent) stop(interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

type declarativeActivator struct {
	spec       Spec
	components []*DeclaredComponent
	logger     *logging.Logger
}

// NewDeclarativeActivator builds an activator that creates the components
// listed in spec.
func NewDeclarativeActivator(_ context.Context, spec Spec) (framework.Activator, error) {
	seen := make(map[string]bool)
	for _, c := range spec.Components {
		if seen[c.Name] {
			return nil, fmt.Errorf("bundle %s declares component %q twice", spec.Name, c.Name)
		}
		seen[c.Name] = true

		services := make(map[string]bool)
		for _, d := range c.Dependencies {
			if services[d.Service] {
				return nil, fmt.Errorf("component %s of bundle %s depends on %q twice", c.Name, spec.Name, d.Service)
			}
			services[d.Service] = true
			if _, err := dm.ParseStrategy(d.Strategy); err != nil {
				return nil, fmt.Errorf("component %s of bundle %s: %w", c.Name, spec.Name, err)
			}
		}
	}
	return &declarativeActivator{
		spec:   spec,
		logger: logging.GetLogger("bundle.declarative").WithField("bundle", spec.Name),
	}, nil
}

// Start creates every declared component and adds them once all are built.
func (a *declarativeActivator) Start(_ context.Context, bc *framework.BundleContext) error {
	manager := bc.DependencyManager()

	components := make([]*dm.Component, 0, len(a.spec.Components))
	a.components = a.components[:0]
	for _, cc := range a.spec.Components {
		c, impl, err := a.build(manager, cc)
		if err != nil {
			return err
		}
		components = append(components, c)
		a.components = append(a.components, impl)
	}

	for _, c := range components {
		if err := manager.Add(c); err != nil {
			return fmt.Errorf("failed to add component %s: %w", c.Name(), err)
		}
	}
	a.logger.Debug("Created %d components", len(components))
	return nil
}

// Stop leaves component removal to the framework.
func (a *declarativeActivator) Stop(context.Context, *framework.BundleContext) error {
	a.logger.Debug("Stopping %d components", len(a.components))
	return nil
}

func (a *declarativeActivator) build(manager *dm.DependencyManager, cc config.ComponentConfig) (*dm.Component, *DeclaredComponent, error) {
	c := manager.CreateComponent(cc.Name, dm.WithLimits(a.spec.Limits))
	impl := newDeclaredComponent(cc.Name)
	c.SetImplementation(impl)
	if err := c.SetCallbacks(dm.LifecycleCallbacks{Start: impl.start, Stop: impl.stop}); err != nil {
		return nil, nil, err
	}

	for _, p := range cc.Provides {
		svc := &DeclaredService{
			Bundle:     a.spec.Name,
			Component:  cc.Name,
			Interface:  p.Name,
			Properties: p.Properties,
		}
		if err := c.AddInterface(p.Name, svc, dm.Properties(p.Properties)); err != nil {
			return nil, nil, fmt.Errorf("component %s: %w", cc.Name, err)
		}
	}

	for _, d := range cc.Dependencies {
		dep, err := a.dependency(d)
		if err != nil {
			return nil, nil, fmt.Errorf("component %s: %w", cc.Name, err)
		}
		slot := &dm.AutoConfig{}
		if err := dep.SetAutoConfig(slot); err != nil {
			return nil, nil, err
		}
		impl.slots[d.Service] = slot
		if err := c.AddServiceDependency(dep); err != nil {
			return nil, nil, fmt.Errorf("component %s: %w", cc.Name, err)
		}
	}
	return c, impl, nil
}

func (a *declarativeActivator) dependency(d config.DependencyConfig) (*dm.ServiceDependency, error) {
	dep := dm.NewServiceDependency()
	if err := dep.SetService(d.Service, d.Filter); err != nil {
		return nil, err
	}
	if d.VersionRange != "" {
		if err := dep.SetVersionRange(d.VersionRange); err != nil {
			return nil, err
		}
	}
	if err := dep.SetRequired(d.Required); err != nil {
		return nil, err
	}
	strategy, err := dm.ParseStrategy(d.Strategy)
	if err != nil {
		return nil, err
	}
	if err := dep.SetStrategy(strategy); err != nil {
		return nil, err
	}
	logger := a.logger
	err = dep.SetCallbacks(dm.DependencyCallbacks{
		Set: dm.SetFunc(func(_ interface{}, ev *dm.Event) {
			if ev == nil {
				logger.Debug("Dependency %s unset", d.Service)
				return
			}
			logger.Debug("Dependency %s set to service %d", d.Service, ev.ServiceID)
		}),
	})
	return dep, err
}

// Components returns the implementations created by the last start.
func (a *declarativeActivator) Components() []*DeclaredComponent {
	return a.components
}
