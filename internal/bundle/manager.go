package bundle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/moolen/depman/internal/config"
	"github.com/moolen/depman/internal/framework"
	"github.com/moolen/depman/internal/logging"
	"golang.org/x/sync/errgroup"
)

// factoryConcurrency bounds how many activators are built at once.
const factoryConcurrency = 4

// ManagerConfig holds configuration for the bundle Manager.
type ManagerConfig struct {
	// ConfigPath is the path to the bundles YAML file
	ConfigPath string

	// HealthCheckInterval is how often bundle health is evaluated
	// Default: 30 seconds
	HealthCheckInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for a bundle to stop
	// Default: 10 seconds
	ShutdownTimeout time.Duration

	// MinBundleVersion is the minimum required bundle version.
	// If set, a runtime file listing an older enabled bundle is rejected
	MinBundleVersion string

	// DebounceMillis is the reload debounce period. Default: 500ms
	DebounceMillis int
}

// HealthRecorder receives the health of every managed bundle after each
// health check.
type HealthRecorder interface {
	RecordBundleHealth(bundle string, status framework.HealthStatus)
}

// Manager installs the bundles of the runtime file into a framework. It
// handles:
// - Version validation against MinBundleVersion
// - Installing and starting enabled bundles
// - Health checks that retry failed bundles and report waiting components
// - Hot reload on runtime file changes (full restart)
type Manager struct {
	config       ManagerConfig
	fw           *framework.Framework
	factories    *FactoryRegistry
	recorder     HealthRecorder
	watcher      *config.RuntimeWatcher
	healthCancel context.CancelFunc
	mu           sync.RWMutex
	logger       *logging.Logger

	// minVersion is the parsed minimum version constraint
	minVersion *version.Version

	// installed holds the ids of bundles installed by the manager, in
	// install order
	installed []int64
}

// NewManager creates a bundle manager using the global factory registry.
// Returns error if ConfigPath is empty or MinBundleVersion is invalid.
func NewManager(cfg ManagerConfig, fw *framework.Framework) (*Manager, error) {
	if cfg.ConfigPath == "" {
		return nil, fmt.Errorf("ConfigPath cannot be empty")
	}
	if fw == nil {
		return nil, fmt.Errorf("framework cannot be nil")
	}

	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	m := &Manager{
		config:    cfg,
		fw:        fw,
		factories: defaultRegistry,
		logger:    logging.GetLogger("bundle.manager"),
	}

	if cfg.MinBundleVersion != "" {
		minVer, err := version.NewVersion(cfg.MinBundleVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid MinBundleVersion %q: %w", cfg.MinBundleVersion, err)
		}
		m.minVersion = minVer
		m.logger.Debug("Minimum bundle version: %s", cfg.MinBundleVersion)
	}

	return m, nil
}

// SetFactories replaces the factory registry. Used by tests and embedders
// that do not want the global registry.
func (m *Manager) SetFactories(r *FactoryRegistry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories = r
}

// SetHealthRecorder registers a receiver for health check results.
func (m *Manager) SetHealthRecorder(r HealthRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

// Name returns the component name for lifecycle management.
func (m *Manager) Name() string {
	return "bundle-manager"
}

// Start loads the runtime file, starts its enabled bundles and watches the
// file for changes. Returns error if the initial file is invalid or lists
// a bundle below the minimum version.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting bundle manager")

	var err error
	m.watcher, err = config.NewRuntimeWatcher(config.WatcherConfig{
		FilePath:       m.config.ConfigPath,
		DebounceMillis: m.config.DebounceMillis,
	}, m.handleConfigReload)
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// The watcher applies the initial file through handleConfigReload
	if err := m.watcher.Start(ctx); err != nil {
		m.stopAllBundles(ctx)
		return fmt.Errorf("failed to start config watcher: %w", err)
	}

	healthCtx, cancel := context.WithCancel(context.Background())
	m.healthCancel = cancel
	go m.runHealthChecks(healthCtx)

	m.logger.Info("Bundle manager started with %d bundles", len(m.Installed()))
	return nil
}

// Stop stops the watcher, the health loop and every managed bundle.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("Stopping bundle manager")

	if m.healthCancel != nil {
		m.healthCancel()
	}

	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Warn("Error stopping config watcher: %v", err)
		}
	}

	m.stopAllBundles(ctx)

	m.logger.Info("Bundle manager stopped")
	return nil
}

// Apply replaces the managed bundles with the enabled bundles of file.
func (m *Manager) Apply(ctx context.Context, file *config.RuntimeFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopAllBundlesLocked(ctx)
	return m.startBundlesLocked(ctx, file)
}

// Installed returns the managed bundles in install order.
func (m *Manager) Installed() []*framework.Bundle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bundles := make([]*framework.Bundle, 0, len(m.installed))
	for _, id := range m.installed {
		if b, ok := m.fw.Bundle(id); ok {
			bundles = append(bundles, b)
		}
	}
	return bundles
}

// startBundlesLocked validates versions, builds activators concurrently
// and installs and starts the bundles in file order. A bundle whose
// factory is missing or fails is skipped; a bundle that fails to start
// stays installed as degraded. Caller must hold the write lock.
func (m *Manager) startBundlesLocked(ctx context.Context, file *config.RuntimeFile) error {
	enabled := file.EnabledBundles()
	m.logger.Info("Starting %d bundle(s)", len(enabled))

	limits := limitsFrom(file.Limits)
	for _, b := range enabled {
		if err := m.validateBundleVersion(b); err != nil {
			return err
		}
	}

	activators := make([]framework.Activator, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(factoryConcurrency)
	for i, b := range enabled {
		i, b := i, b
		g.Go(func() error {
			factory, ok := m.factories.Get(b.Type)
			if !ok {
				m.logger.Error("No factory registered for bundle type %q (bundle: %s)", b.Type, b.Name)
				return nil
			}
			activator, err := factory(gctx, Spec{BundleConfig: b, Limits: limits})
			if err != nil {
				m.logger.Error("Failed to create bundle %s (type: %s): %v", b.Name, b.Type, err)
				return nil
			}
			activators[i] = activator
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("starting bundles: %w", err)
	}

	for i, b := range enabled {
		if activators[i] == nil {
			continue
		}
		spec := Spec{BundleConfig: b, Limits: limits}
		installed, err := m.fw.InstallBundle(spec.Metadata(), activators[i])
		if err != nil {
			m.logger.Error("Failed to install bundle %s: %v", b.Name, err)
			continue
		}
		m.installed = append(m.installed, installed.ID())

		if err := m.fw.StartBundle(ctx, installed.ID()); err != nil {
			m.logger.Error("Failed to start bundle %s: %v (marking as degraded)", b.Name, err)
			continue
		}
		m.logger.Info("Started bundle: %s (type: %s, version: %s)", b.Name, b.Type, b.Version)
	}

	return nil
}

// validateBundleVersion checks a bundle version against the minimum.
func (m *Manager) validateBundleVersion(b config.BundleConfig) error {
	if m.minVersion == nil {
		return nil
	}

	bundleVer, err := version.NewVersion(b.Version)
	if err != nil {
		return fmt.Errorf("bundle %s has invalid version %q: %w", b.Name, b.Version, err)
	}

	if bundleVer.LessThan(m.minVersion) {
		return fmt.Errorf("bundle %s version %s is below minimum required version %s",
			b.Name, b.Version, m.minVersion.String())
	}

	m.logger.Debug("Bundle %s version %s validated (>= %s)", b.Name, b.Version, m.minVersion.String())
	return nil
}

// handleConfigReload performs a full restart: stop all bundles, then
// validate and start the bundles of the new file.
func (m *Manager) handleConfigReload(newConfig *config.RuntimeFile) error {
	m.logger.Info("Config reload triggered - restarting all bundles")

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.config.ShutdownTimeout)
	m.stopAllBundlesLocked(ctx)
	cancel()

	if err := m.startBundlesLocked(context.Background(), newConfig); err != nil {
		m.logger.Error("Failed to start bundles after config reload: %v", err)
		return err
	}

	m.logger.Info("Config reload complete - %d bundles installed", len(m.installed))
	return nil
}

// runHealthChecks periodically checks bundle health.
func (m *Manager) runHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	m.logger.Debug("Health check loop started (interval: %s)", m.config.HealthCheckInterval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Health check loop stopped")
			return

		case <-ticker.C:
			m.performHealthChecks(ctx)
		}
	}
}

// performHealthChecks retries bundles whose start failed and reports the
// components still waiting for required services.
func (m *Manager) performHealthChecks(ctx context.Context) {
	m.mu.RLock()
	recorder := m.recorder
	m.mu.RUnlock()

	for _, b := range m.Installed() {
		status := b.Health()

		if status == framework.Degraded && b.State() == framework.BundleInstalled {
			m.logger.Debug("Bundle %s is degraded, attempting recovery", b.Metadata().Name)
			if err := m.fw.StartBundle(ctx, b.ID()); err != nil {
				m.logger.Debug("Recovery failed for bundle %s: %v", b.Metadata().Name, err)
			} else {
				m.logger.Info("Bundle %s recovered successfully", b.Metadata().Name)
				status = b.Health()
			}
		}

		if status == framework.Degraded && b.State() == framework.BundleActive {
			m.reportInactive(b)
		}

		if recorder != nil {
			recorder.RecordBundleHealth(b.Metadata().Name, status)
		}
	}
}

func (m *Manager) reportInactive(b *framework.Bundle) {
	for _, info := range m.fw.ComponentInfos(b.ID()) {
		if info.Available() {
			continue
		}
		var missing []string
		for _, dep := range info.Dependencies {
			if dep.Required && !dep.Available {
				missing = append(missing, dep.Filter)
			}
		}
		m.logger.Warn("Component %s of bundle %s is %s, missing required services: %s",
			info.Name, b.Metadata().Name, info.State, strings.Join(missing, ", "))
	}
}

func (m *Manager) stopAllBundles(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAllBundlesLocked(ctx)
}

// stopAllBundlesLocked uninstalls managed bundles in reverse install
// order. Caller must hold write lock.
func (m *Manager) stopAllBundlesLocked(ctx context.Context) {
	m.logger.Debug("Stopping %d bundle(s)", len(m.installed))

	for i := len(m.installed) - 1; i >= 0; i-- {
		id := m.installed[i]
		stopCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
		if err := m.fw.UninstallBundle(stopCtx, id); err != nil {
			m.logger.Warn("Error stopping bundle %d: %v", id, err)
		} else {
			m.logger.Debug("Stopped bundle %d", id)
		}
		cancel()
	}
	m.installed = nil
}
