package dm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/moolen/depman/internal/logging"
)

// DependencyManager owns the components of one bundle.
type DependencyManager struct {
	ctx    BundleContext
	opts   []Option
	logger *logging.Logger

	mu         sync.RWMutex
	components []*Component
}

// NewDependencyManager returns an empty manager. opts are applied to every
// component it creates.
func NewDependencyManager(ctx BundleContext, opts ...Option) *DependencyManager {
	return &DependencyManager{
		ctx:    ctx,
		opts:   opts,
		logger: logging.GetLogger("dm.manager"),
	}
}

// BundleContext returns the context components are bound to.
func (m *DependencyManager) BundleContext() BundleContext {
	return m.ctx
}

// CreateComponent creates an inactive component and registers it with the
// manager. opts are applied after the manager's own options.
func (m *DependencyManager) CreateComponent(name string, opts ...Option) *Component {
	all := make([]Option, 0, len(m.opts)+len(opts))
	all = append(append(all, m.opts...), opts...)
	c := NewComponent(m.ctx, name, all...)
	m.mu.Lock()
	m.components = append(m.components, c)
	m.mu.Unlock()
	return c
}

// Add starts a component, registering it first if it was created with
// NewComponent.
func (m *DependencyManager) Add(c *Component) error {
	if c == nil {
		return fmt.Errorf("component cannot be nil")
	}
	m.mu.Lock()
	if m.indexLocked(c) < 0 {
		m.components = append(m.components, c)
	}
	m.mu.Unlock()

	m.logger.Debug("Adding component %s (%s)", c.Name(), c.ID())
	return c.Start()
}

// AddAsync registers a component like Add and starts it without running
// any of its tasks on the caller's goroutine. Use Wait to observe the result.
func (m *DependencyManager) AddAsync(c *Component) error {
	if c == nil {
		return fmt.Errorf("component cannot be nil")
	}
	m.mu.Lock()
	if m.indexLocked(c) < 0 {
		m.components = append(m.components, c)
	}
	m.mu.Unlock()

	m.logger.Debug("Adding component %s (%s) asynchronously", c.Name(), c.ID())
	c.StartAsync()
	return nil
}

// Remove stops a component, removes its dependencies and destroys it once
// those tasks ran.
func (m *DependencyManager) Remove(c *Component) error {
	m.mu.RLock()
	known := m.indexLocked(c) >= 0
	m.mu.RUnlock()
	if !known {
		return fmt.Errorf("component %s is not managed by this dependency manager", c.Name())
	}

	if err := c.Stop(); err != nil {
		return fmt.Errorf("failed to stop component %s: %w", c.Name(), err)
	}
	for _, d := range c.attachedDependencies() {
		if err := c.RemoveServiceDependency(d); err != nil {
			return fmt.Errorf("failed to remove dependency of %s: %w", c.Name(), err)
		}
	}
	c.sync(func() {
		if err := m.destroy(c); err != nil {
			c.fault(err)
		}
	})
	return nil
}

// RemoveAll removes every component, last created first.
func (m *DependencyManager) RemoveAll() error {
	components := m.Components()
	var firstErr error
	for i := len(components) - 1; i >= 0; i-- {
		if err := m.Remove(components[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DestroyComponent drops a fully stopped component. It panics when the
// component is still active or holds dependencies or registered
// interfaces: the owner skipped the stop protocol.
func (m *DependencyManager) DestroyComponent(c *Component) {
	if err := m.destroy(c); err != nil {
		panic("dm: " + err.Error())
	}
}

// destroy runs on the component's executor when called from Remove, where a
// panic would only reach the executor's recover. The component stays
// managed when it is not fully stopped.
func (m *DependencyManager) destroy(c *Component) error {
	c.mu.Lock()
	state, active := c.state, c.active
	deps := len(c.dependencies) + len(c.attached)
	registered := c.hasRegistrationsLocked()
	c.mu.Unlock()

	if state != StateInactive || active || deps > 0 || registered {
		return illegalState("destroying component %s in state %s (active=%t, dependencies=%d, registered=%t)",
			c.Name(), state, active, deps, registered)
	}

	m.mu.Lock()
	if i := m.indexLocked(c); i >= 0 {
		m.components = append(m.components[:i:i], m.components[i+1:]...)
	}
	m.mu.Unlock()
	m.logger.Debug("Destroyed component %s (%s)", c.Name(), c.ID())
	return nil
}

// Components returns the managed components in creation order.
func (m *DependencyManager) Components() []*Component {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Component, len(m.components))
	copy(out, m.components)
	return out
}

// Count returns the number of managed components.
func (m *DependencyManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.components)
}

// Infos returns a snapshot of every component, sorted by name.
func (m *DependencyManager) Infos() []ComponentInfo {
	components := m.Components()
	infos := make([]ComponentInfo, 0, len(components))
	for _, c := range components {
		infos = append(infos, c.Info())
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// AllComponentsActive reports whether every managed component is tracking
// optional dependencies.
func (m *DependencyManager) AllComponentsActive() bool {
	for _, c := range m.Components() {
		if !c.IsAvailable() {
			return false
		}
	}
	return true
}

// Wait blocks until every task queued on every component before the call
// has run. It must not be called from a component callback.
func (m *DependencyManager) Wait(ctx context.Context) error {
	for _, c := range m.Components() {
		done := make(chan struct{})
		go c.sync(func() { close(done) })
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for component %s: %w", c.Name(), ctx.Err())
		}
	}
	return nil
}

func (m *DependencyManager) indexLocked(c *Component) int {
	for i, existing := range m.components {
		if existing == c {
			return i
		}
	}
	return -1
}
