package bundle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/moolen/depman/internal/config"
	"github.com/moolen/depman/internal/dm"
	"github.com/moolen/depman/internal/framework"
)

// Spec is everything a factory needs to build a bundle's activator: the
// bundle entry of the runtime file and the component limits in effect.
type Spec struct {
	config.BundleConfig

	// Limits applies to every component the bundle creates
	Limits dm.Limits
}

// Metadata returns the framework metadata for the bundle.
func (s Spec) Metadata() framework.BundleMetadata {
	return framework.BundleMetadata{
		Name:        s.Name,
		Version:     s.Version,
		Type:        s.Type,
		Description: s.Description,
	}
}

// ActivatorFactory creates the activator of a bundle.
// Factories may run concurrently for different bundles.
type ActivatorFactory func(ctx context.Context, spec Spec) (framework.Activator, error)

// FactoryRegistry stores activator factories by bundle type.
//
// Usage pattern:
//
//	func init() {
//	  bundle.RegisterFactory("declarative", NewDeclarativeActivator)
//	}
type FactoryRegistry struct {
	factories map[string]ActivatorFactory
	mu        sync.RWMutex
}

// defaultRegistry is the global factory registry used by package-level functions
var defaultRegistry = NewFactoryRegistry()

// NewFactoryRegistry creates a new empty factory registry
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{
		factories: make(map[string]ActivatorFactory),
	}
}

// Register adds a factory function for the given bundle type.
// Returns error if:
//   - bundleType is empty string
//   - factory is nil
//   - bundleType is already registered
func (r *FactoryRegistry) Register(bundleType string, factory ActivatorFactory) error {
	if bundleType == "" {
		return fmt.Errorf("bundle type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for bundle type %q cannot be nil", bundleType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[bundleType]; exists {
		return fmt.Errorf("bundle type %q is already registered", bundleType)
	}

	r.factories[bundleType] = factory
	return nil
}

// Get retrieves the factory function for the given bundle type.
func (r *FactoryRegistry) Get(bundleType string) (ActivatorFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[bundleType]
	return factory, exists
}

// List returns a sorted list of all registered bundle types.
func (r *FactoryRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}

	sort.Strings(types)
	return types
}

// RegisterFactory registers a factory function with the default global registry.
func RegisterFactory(bundleType string, factory ActivatorFactory) error {
	return defaultRegistry.Register(bundleType, factory)
}

// GetFactory retrieves a factory function from the default global registry.
func GetFactory(bundleType string) (ActivatorFactory, bool) {
	return defaultRegistry.Get(bundleType)
}

// ListFactories returns all registered bundle types from the default global registry.
func ListFactories() []string {
	return defaultRegistry.List()
}

// DefaultFactories returns the global registry.
func DefaultFactories() *FactoryRegistry {
	return defaultRegistry
}

// limitsFrom overlays the non-zero file limits on the dm defaults.
func limitsFrom(c config.LimitsConfig) dm.Limits {
	l := dm.DefaultLimits()
	if c.MaxDependencies > 0 {
		l.MaxDependencies = c.MaxDependencies
	}
	if c.MaxEvents > 0 {
		l.MaxEventsPerDependency = c.MaxEvents
	}
	if c.MaxInterfaces > 0 {
		l.MaxInterfaces = c.MaxInterfaces
	}
	return l
}
