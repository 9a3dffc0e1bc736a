package framework

import (
	"sync"
)

// Bundle is an installed unit of components and services.
type Bundle struct {
	id        int64
	metadata  BundleMetadata
	activator Activator
	context   *BundleContext

	mu      sync.RWMutex
	state   BundleState
	lastErr error
}

// ID returns the framework assigned bundle id. Bundle ids start at 1.
func (b *Bundle) ID() int64 {
	return b.id
}

// Metadata returns the bundle's identifying information.
func (b *Bundle) Metadata() BundleMetadata {
	return b.metadata
}

// Context returns the bundle's context.
func (b *Bundle) Context() *BundleContext {
	return b.context
}

// State returns the lifecycle state.
func (b *Bundle) State() BundleState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// LastError returns the error of the most recent failed start, if any.
func (b *Bundle) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// Health summarizes the bundle state:
//   - Healthy: active and every component is available
//   - Degraded: the last start failed, or a component waits for a required service
//   - Stopped: not active
func (b *Bundle) Health() HealthStatus {
	b.mu.RLock()
	state, lastErr := b.state, b.lastErr
	b.mu.RUnlock()

	switch {
	case state == BundleActive && b.context.manager.AllComponentsActive():
		return Healthy
	case state == BundleActive:
		return Degraded
	case state == BundleInstalled && lastErr != nil:
		return Degraded
	default:
		return Stopped
	}
}

func (b *Bundle) setState(state BundleState, err error) {
	b.mu.Lock()
	b.state = state
	b.lastErr = err
	b.mu.Unlock()
}

// transition moves the bundle from one of the given states to next and
// reports whether it did.
func (b *Bundle) transition(next BundleState, from ...BundleState) (BundleState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range from {
		if b.state == s {
			b.state = next
			return s, true
		}
	}
	return b.state, false
}
