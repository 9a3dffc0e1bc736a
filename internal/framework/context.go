package framework

import (
	"fmt"
	"sync"

	"github.com/moolen/depman/internal/dm"
)

// BundleContext is a bundle's view of the framework. It implements
// dm.BundleContext and owns the bundle's DependencyManager.
type BundleContext struct {
	fw       *Framework
	bundleID int64
	manager  *dm.DependencyManager

	mu       sync.Mutex
	trackers map[*ServiceTracker]struct{}
}

func newBundleContext(fw *Framework, bundleID int64) *BundleContext {
	bc := &BundleContext{
		fw:       fw,
		bundleID: bundleID,
		trackers: make(map[*ServiceTracker]struct{}),
	}
	bc.manager = dm.NewDependencyManager(bc, fw.componentOptions...)
	return bc
}

// BundleID returns the id of the owning bundle. The framework itself uses 0.
func (bc *BundleContext) BundleID() int64 {
	return bc.bundleID
}

// Framework returns the framework the bundle is installed in.
func (bc *BundleContext) Framework() *Framework {
	return bc.fw
}

// DependencyManager returns the bundle's component manager.
func (bc *BundleContext) DependencyManager() *dm.DependencyManager {
	return bc.manager
}

// RegisterService publishes a service on behalf of the bundle.
func (bc *BundleContext) RegisterService(name string, service interface{}, props dm.Properties) (dm.ServiceRegistration, error) {
	reg, err := bc.fw.registry.Register(bc.bundleID, name, service, props)
	if err != nil {
		return nil, fmt.Errorf("bundle %d: %w", bc.bundleID, err)
	}
	return reg, nil
}

// TrackServices opens a tracker for filter. Services already registered
// are reported asynchronously on the event loop.
func (bc *BundleContext) TrackServices(filter dm.ServiceFilter, listener dm.TrackerListener) (dm.Tracker, error) {
	if listener == nil {
		return nil, fmt.Errorf("bundle %d: tracker listener cannot be nil", bc.bundleID)
	}
	if filter.VersionRange != "" {
		if _, err := bc.fw.matcher.constraints(filter.VersionRange); err != nil {
			return nil, fmt.Errorf("bundle %d: %w", bc.bundleID, err)
		}
	}

	t := newServiceTracker(bc.fw, bc, filter, listener)
	bc.mu.Lock()
	bc.trackers[t] = struct{}{}
	bc.mu.Unlock()

	if err := bc.fw.addTracker(t); err != nil {
		bc.forgetTracker(t)
		return nil, fmt.Errorf("bundle %d: %w", bc.bundleID, err)
	}
	return t, nil
}

// OpenTrackers returns the number of trackers the bundle has not closed.
func (bc *BundleContext) OpenTrackers() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.trackers)
}

func (bc *BundleContext) forgetTracker(t *ServiceTracker) {
	bc.mu.Lock()
	delete(bc.trackers, t)
	bc.mu.Unlock()
}

// closeTrackers closes trackers left open by a stopped bundle.
func (bc *BundleContext) closeTrackers() int {
	bc.mu.Lock()
	open := make([]*ServiceTracker, 0, len(bc.trackers))
	for t := range bc.trackers {
		open = append(open, t)
	}
	bc.mu.Unlock()

	for _, t := range open {
		_ = t.Close()
	}
	return len(open)
}
