package lifecycle

import "context"

// Component is a long-running part of the process (framework, bundle
// manager, metrics server, tracing) whose start and stop the Manager
// orders.
type Component interface {
	// Start brings the component up. It must return once the component
	// is ready; background work runs on its own goroutines.
	Start(ctx context.Context) error

	// Stop shuts the component down within the context deadline.
	Stop(ctx context.Context) error

	// Name identifies the component in logs and errors. Must be unique
	// within a Manager.
	Name() string
}
