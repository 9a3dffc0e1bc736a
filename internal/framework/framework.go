package framework

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/moolen/depman/internal/dm"
	"github.com/moolen/depman/internal/logging"
)

// ErrFrameworkStopped is returned by operations on a stopped framework.
var ErrFrameworkStopped = errors.New("framework is stopped")

// Option configures a Framework.
type Option func(*Framework)

// WithComponentOptions applies opts to every component created through a
// bundle's DependencyManager.
func WithComponentOptions(opts ...dm.Option) Option {
	return func(f *Framework) {
		f.componentOptions = append(f.componentOptions, opts...)
	}
}

// WithConstraintCacheSize sets how many parsed version ranges are cached.
func WithConstraintCacheSize(size int) Option {
	return func(f *Framework) {
		f.cacheSize = size
	}
}

// Framework hosts the service registry and the installed bundles. Service
// events are delivered to trackers on a single event loop goroutine.
type Framework struct {
	registry         *ServiceRegistry
	matcher          *Matcher
	loop             *eventLoop
	componentOptions []dm.Option
	cacheSize        int
	system           *BundleContext
	logger           *logging.Logger

	mu           sync.RWMutex
	trackers     []*ServiceTracker
	bundles      map[int64]*Bundle
	nextBundleID int64
	running      bool
	stopped      bool
}

// New creates a framework. Call Start before starting bundles.
func New(opts ...Option) (*Framework, error) {
	f := &Framework{
		loop:    newEventLoop(),
		bundles: make(map[int64]*Bundle),
		logger:  logging.GetLogger("framework"),
	}
	for _, opt := range opts {
		opt(f)
	}

	matcher, err := NewMatcher(f.cacheSize)
	if err != nil {
		return nil, err
	}
	f.matcher = matcher
	f.registry = newServiceRegistry(func(ev serviceEvent) {
		if !f.loop.post(func() { f.dispatch(ev) }) {
			f.logger.Debug("Event loop stopped, dropping event for service %d", ev.ref.ID)
		}
	})
	f.system = newBundleContext(f, 0)
	return f, nil
}

// Name returns the component name for lifecycle management.
func (f *Framework) Name() string {
	return "framework"
}

// Start starts the event loop.
func (f *Framework) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return ErrFrameworkStopped
	}
	if f.running {
		return nil
	}
	f.loop.start()
	f.running = true
	f.logger.Info("Framework started")
	return nil
}

// Stop stops active bundles in reverse install order, removes the
// framework's own components and drains the event loop.
func (f *Framework) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	f.mu.Unlock()

	var errs []error
	bundles := f.Bundles()
	for i := len(bundles) - 1; i >= 0; i-- {
		if bundles[i].State() != BundleActive {
			continue
		}
		if err := f.StopBundle(ctx, bundles[i].ID()); err != nil {
			errs = append(errs, err)
		}
	}

	if err := f.system.manager.RemoveAll(); err != nil {
		errs = append(errs, err)
	}
	f.system.closeTrackers()
	f.loop.stop()

	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("framework stop: %w", errors.Join(errs...))
	}
	f.logger.Info("Framework stopped")
	return nil
}

// Context returns the framework's own bundle context (bundle id 0). It is
// used to publish and consume services from outside any bundle.
func (f *Framework) Context() *BundleContext {
	return f.system
}

// Registry returns the service registry.
func (f *Framework) Registry() *ServiceRegistry {
	return f.registry
}

// Matcher returns the filter matcher used by trackers.
func (f *Framework) Matcher() *Matcher {
	return f.matcher
}

// WaitForEvents blocks until every queued service event has been delivered.
// It must not be called from a component or tracker callback.
func (f *Framework) WaitForEvents(ctx context.Context) error {
	return f.loop.wait(ctx)
}

// InstallBundle installs a bundle. Bundle names are unique.
func (f *Framework) InstallBundle(meta BundleMetadata, activator Activator) (*Bundle, error) {
	if meta.Name == "" {
		return nil, fmt.Errorf("bundle name cannot be empty")
	}
	if activator == nil {
		return nil, fmt.Errorf("bundle %q has no activator", meta.Name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return nil, ErrFrameworkStopped
	}
	for _, b := range f.bundles {
		if b.metadata.Name == meta.Name {
			return nil, fmt.Errorf("bundle %q is already installed as %d", meta.Name, b.id)
		}
	}

	f.nextBundleID++
	b := &Bundle{
		id:        f.nextBundleID,
		metadata:  meta,
		activator: activator,
		state:     BundleInstalled,
	}
	b.context = newBundleContext(f, b.id)
	f.bundles[b.id] = b

	f.logger.Info("Installed bundle %s (id=%d, version=%s)", meta.Name, b.id, meta.Version)
	return b, nil
}

// StartBundle calls the bundle's activator. On failure everything the
// activator created is cleaned up and the bundle stays installed.
func (f *Framework) StartBundle(ctx context.Context, id int64) error {
	b, err := f.lookup(id)
	if err != nil {
		return err
	}

	f.mu.RLock()
	running := f.running && !f.stopped
	f.mu.RUnlock()
	if !running {
		return fmt.Errorf("cannot start bundle %s: framework is not running", b.metadata.Name)
	}

	if prev, ok := b.transition(BundleStarting, BundleInstalled); !ok {
		if prev == BundleActive {
			return nil
		}
		return fmt.Errorf("cannot start bundle %s in state %s", b.metadata.Name, prev)
	}

	f.logger.Debug("Starting bundle %s", b.metadata.Name)
	if err := b.activator.Start(ctx, b.context); err != nil {
		f.cleanupBundle(ctx, b)
		b.setState(BundleInstalled, err)
		return fmt.Errorf("failed to start bundle %s: %w", b.metadata.Name, err)
	}

	b.setState(BundleActive, nil)
	f.logger.Info("Started bundle %s (id=%d)", b.metadata.Name, b.id)
	return nil
}

// StopBundle calls the bundle's activator and then removes its remaining
// components, trackers and services. Stopping an installed bundle is a
// no-op.
func (f *Framework) StopBundle(ctx context.Context, id int64) error {
	b, err := f.lookup(id)
	if err != nil {
		return err
	}

	if prev, ok := b.transition(BundleStopping, BundleActive); !ok {
		if prev == BundleInstalled {
			return nil
		}
		return fmt.Errorf("cannot stop bundle %s in state %s", b.metadata.Name, prev)
	}

	f.logger.Debug("Stopping bundle %s", b.metadata.Name)
	stopErr := b.activator.Stop(ctx, b.context)
	cleanupErr := f.cleanupBundle(ctx, b)
	b.setState(BundleInstalled, nil)

	if err := errors.Join(stopErr, cleanupErr); err != nil {
		return fmt.Errorf("failed to stop bundle %s: %w", b.metadata.Name, err)
	}
	f.logger.Info("Stopped bundle %s (id=%d)", b.metadata.Name, b.id)
	return nil
}

// UninstallBundle stops the bundle if needed and removes it. The bundle is
// removed even when stopping it fails.
func (f *Framework) UninstallBundle(ctx context.Context, id int64) error {
	b, err := f.lookup(id)
	if err != nil {
		return err
	}
	stopErr := f.StopBundle(ctx, id)

	f.mu.Lock()
	delete(f.bundles, id)
	f.mu.Unlock()

	b.setState(BundleUninstalled, nil)
	f.logger.Info("Uninstalled bundle %s (id=%d)", b.metadata.Name, b.id)
	return stopErr
}

// Bundle returns the bundle with the given id.
func (f *Framework) Bundle(id int64) (*Bundle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.bundles[id]
	return b, ok
}

// BundleName returns the symbolic name of a bundle id. Id 0 is the
// framework itself.
func (f *Framework) BundleName(id int64) string {
	if id == 0 {
		return f.Name()
	}
	if b, ok := f.Bundle(id); ok {
		return b.Metadata().Name
	}
	return "unknown"
}

// BundleByName returns the bundle with the given symbolic name.
func (f *Framework) BundleByName(name string) (*Bundle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, b := range f.bundles {
		if b.metadata.Name == name {
			return b, true
		}
	}
	return nil, false
}

// Bundles returns the installed bundles ordered by id.
func (f *Framework) Bundles() []*Bundle {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bundles := make([]*Bundle, 0, len(f.bundles))
	for _, b := range f.bundles {
		bundles = append(bundles, b)
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].id < bundles[j].id })
	return bundles
}

// ComponentInfos returns the components of the given bundles, or of every
// bundle including the framework's own when no id is given. Results are
// ordered by bundle id.
func (f *Framework) ComponentInfos(bundleIDs ...int64) []dm.ComponentInfo {
	contexts := []*BundleContext{f.system}
	for _, b := range f.Bundles() {
		contexts = append(contexts, b.context)
	}

	want := make(map[int64]bool, len(bundleIDs))
	for _, id := range bundleIDs {
		want[id] = true
	}

	var infos []dm.ComponentInfo
	for _, bc := range contexts {
		if len(want) > 0 && !want[bc.bundleID] {
			continue
		}
		infos = append(infos, bc.manager.Infos()...)
	}
	return infos
}

// AllComponentsActive reports whether every component in every bundle is
// available.
func (f *Framework) AllComponentsActive() bool {
	for _, info := range f.ComponentInfos() {
		if !info.Available() {
			return false
		}
	}
	return true
}

func (f *Framework) lookup(id int64) (*Bundle, error) {
	b, ok := f.Bundle(id)
	if !ok {
		return nil, fmt.Errorf("bundle %d is not installed", id)
	}
	return b, nil
}

func (f *Framework) cleanupBundle(ctx context.Context, b *Bundle) error {
	bc := b.context
	var errs []error
	if err := bc.manager.RemoveAll(); err != nil {
		errs = append(errs, err)
	}
	if err := bc.manager.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	if n := bc.closeTrackers(); n > 0 {
		f.logger.Debug("Closed %d trackers left open by bundle %s", n, b.metadata.Name)
	}
	if n := f.registry.UnregisterBundle(b.id); n > 0 {
		f.logger.Debug("Unregistered %d services left by bundle %s", n, b.metadata.Name)
	}
	return errors.Join(errs...)
}

func (f *Framework) addTracker(t *ServiceTracker) error {
	f.mu.Lock()
	f.trackers = append(f.trackers, t)
	f.mu.Unlock()

	if !f.loop.post(t.open) {
		f.removeTracker(t)
		return ErrFrameworkStopped
	}
	return nil
}

func (f *Framework) removeTracker(t *ServiceTracker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.trackers {
		if existing == t {
			f.trackers = append(f.trackers[:i], f.trackers[i+1:]...)
			return
		}
	}
}

// dispatch runs on the event loop.
func (f *Framework) dispatch(ev serviceEvent) {
	f.mu.RLock()
	trackers := make([]*ServiceTracker, len(f.trackers))
	copy(trackers, f.trackers)
	f.mu.RUnlock()

	for _, t := range trackers {
		t.handle(ev)
	}
}
