package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/depman/internal/logging"
)

// DefaultShutdownTimeout bounds the Stop of a single component.
const DefaultShutdownTimeout = 30 * time.Second

// Manager starts components after the components they depend on and
// stops them in the reverse order.
type Manager struct {
	mu              sync.Mutex
	components      []Component
	byName          map[string]Component
	dependencies    map[Component][]Component
	started         []Component
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		byName:          make(map[string]Component),
		dependencies:    make(map[Component][]Component),
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logging.GetLogger("lifecycle.manager"),
	}
}

// SetShutdownTimeout sets the per-component stop deadline.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timeout > 0 {
		m.shutdownTimeout = timeout
	}
}

// Register adds a component. Its dependencies must already be registered,
// which also rules out cycles.
func (m *Manager) Register(component Component, dependsOn ...Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if component == nil {
		return fmt.Errorf("cannot register nil component")
	}
	name := component.Name()
	if name == "" {
		return fmt.Errorf("component must have a non-empty name")
	}
	if _, exists := m.byName[name]; exists {
		return fmt.Errorf("component %s is already registered", name)
	}
	for _, dep := range dependsOn {
		if dep == nil || m.byName[dep.Name()] != dep {
			return fmt.Errorf("dependency of %s is not registered", name)
		}
	}

	m.components = append(m.components, component)
	m.byName[name] = component
	m.dependencies[component] = append([]Component(nil), dependsOn...)
	m.logger.Debug("Registered component %s with %d dependencies", name, len(dependsOn))
	return nil
}

// Start starts every component in dependency order. When one fails, the
// components already started are stopped again in reverse order.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = nil
	for _, c := range m.order() {
		begin := time.Now()
		m.logger.Info("Starting %s", c.Name())
		if err := c.Start(ctx); err != nil {
			m.logger.Error("Failed to start %s: %v", c.Name(), err)
			m.rollback()
			return fmt.Errorf("initialization failed for %s: %w", c.Name(), err)
		}
		m.started = append(m.started, c)
		m.logger.Info("%s started (took %dms)", c.Name(), time.Since(begin).Milliseconds())
	}
	m.logger.Info("All components started")
	return nil
}

// Stop stops the started components in reverse start order. Every
// component is stopped even when an earlier one fails; the failures are
// returned joined.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		begin := time.Now()
		m.logger.Info("Stopping %s", c.Name())

		stopCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		err := c.Stop(stopCtx)
		cancel()

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			m.logger.Warn("%s exceeded its %dms shutdown timeout", c.Name(), m.shutdownTimeout.Milliseconds())
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		case err != nil:
			m.logger.Error("Error stopping %s: %v", c.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		default:
			m.logger.Info("%s stopped (took %dms)", c.Name(), time.Since(begin).Milliseconds())
		}
	}
	m.started = nil
	m.logger.Info("All components stopped")
	return errors.Join(errs...)
}

// IsRunning reports whether the component was started and not yet stopped.
func (m *Manager) IsRunning(component Component) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.started {
		if c == component {
			return true
		}
	}
	return false
}

// order returns the components with dependencies before dependents,
// otherwise keeping registration order.
func (m *Manager) order() []Component {
	visited := make(map[Component]bool, len(m.components))
	sorted := make([]Component, 0, len(m.components))
	var visit func(Component)
	visit = func(c Component) {
		if visited[c] {
			return
		}
		visited[c] = true
		for _, dep := range m.dependencies[c] {
			visit(dep)
		}
		sorted = append(sorted, c)
	}
	for _, c := range m.components {
		visit(c)
	}
	return sorted
}

func (m *Manager) rollback() {
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Stop(ctx); err != nil {
			m.logger.Warn("Error stopping %s during rollback: %v", c.Name(), err)
		}
		cancel()
	}
	m.started = nil
}
