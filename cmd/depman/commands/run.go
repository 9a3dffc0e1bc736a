package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moolen/depman/internal/bundle"
	"github.com/moolen/depman/internal/config"
	"github.com/moolen/depman/internal/dm"
	"github.com/moolen/depman/internal/framework"
	"github.com/moolen/depman/internal/lifecycle"
	"github.com/moolen/depman/internal/logging"
	"github.com/moolen/depman/internal/metrics"
	"github.com/moolen/depman/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	runtimeFilePath     string
	metricsAddr         string
	healthCheckInterval time.Duration
	shutdownTimeout     time.Duration
	minBundleVersion    string
	tracingEnabled      bool
	tracingEndpoint     string
	tracingTLSCAPath    string
	tracingTLSInsecure  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bundles of a runtime file",
	Long: `Start the framework, install and start every enabled bundle of the
runtime file, and keep them in sync with the file until interrupted.`,
	Run: runRuntime,
}

func init() {
	defaults := config.DefaultConfig()
	runCmd.Flags().StringVarP(&runtimeFilePath, "config", "c", defaults.RuntimeFilePath, "Path to the bundles YAML file")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", defaults.MetricsAddr, "Listen address of the Prometheus endpoint (empty disables it)")
	runCmd.Flags().DurationVar(&healthCheckInterval, "health-check-interval", defaults.HealthCheckInterval, "How often bundle health is evaluated")
	runCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", defaults.ShutdownTimeout, "Grace period for stopping each runtime component")
	runCmd.Flags().StringVar(&minBundleVersion, "min-bundle-version", "", "Minimum required bundle version (e.g., '1.0.0')")
	runCmd.Flags().BoolVar(&tracingEnabled, "tracing-enabled", false, "Enable OpenTelemetry tracing of component transitions")
	runCmd.Flags().StringVar(&tracingEndpoint, "tracing-endpoint", "", "OTLP gRPC endpoint for traces (e.g., collector:4317)")
	runCmd.Flags().StringVar(&tracingTLSCAPath, "tracing-tls-ca", "", "Path to CA certificate for TLS verification (optional)")
	runCmd.Flags().BoolVar(&tracingTLSInsecure, "tracing-tls-insecure", false, "Skip TLS certificate verification (insecure, use only for testing)")
}

func runConfig() *config.Config {
	return &config.Config{
		RuntimeFilePath:     runtimeFilePath,
		MetricsAddr:         metricsAddr,
		HealthCheckInterval: healthCheckInterval,
		ShutdownTimeout:     shutdownTimeout,
		MinBundleVersion:    minBundleVersion,
		TracingEnabled:      tracingEnabled,
		TracingEndpoint:     tracingEndpoint,
		TracingTLSCAPath:    tracingTLSCAPath,
		TracingTLSInsecure:  tracingTLSInsecure,
	}
}

func runRuntime(cmd *cobra.Command, args []string) {
	cfg := runConfig()
	if err := cfg.Validate(); err != nil {
		HandleError(err, "Configuration error")
	}
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}
	logger := logging.GetLogger("run")
	logger.Info("Starting depman v%s", Version)

	manager, err := buildRuntime(cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		HandleError(err, "Initialization error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := manager.Start(ctx); err != nil {
		cancel()
		HandleError(err, "Startup error")
	}
	logger.Info("Runtime started from %s", cfg.RuntimeFilePath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, gracefully shutting down...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*cfg.ShutdownTimeout)
	defer stop()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("Shutdown finished with errors: %v", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// buildRuntime wires tracing, metrics, the framework and the bundle
// manager into a lifecycle manager.
func buildRuntime(cfg *config.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*lifecycle.Manager, error) {
	manager := lifecycle.NewManager()
	manager.SetShutdownTimeout(cfg.ShutdownTimeout)

	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		TLSCAPath:   cfg.TracingTLSCAPath,
		TLSInsecure: cfg.TracingTLSInsecure,
	})
	if err != nil {
		return nil, err
	}
	if err := manager.Register(tp); err != nil {
		return nil, err
	}

	m := metrics.NewMetrics(reg)
	fw, err := framework.New(framework.WithComponentOptions(dm.WithObserver(m)))
	if err != nil {
		return nil, err
	}
	if err := manager.Register(fw, tp); err != nil {
		return nil, err
	}

	bundles, err := bundle.NewManager(bundle.ManagerConfig{
		ConfigPath:          cfg.RuntimeFilePath,
		HealthCheckInterval: cfg.HealthCheckInterval,
		ShutdownTimeout:     cfg.ShutdownTimeout,
		MinBundleVersion:    cfg.MinBundleVersion,
	}, fw)
	if err != nil {
		return nil, err
	}
	bundles.SetHealthRecorder(m)
	if err := manager.Register(bundles, fw); err != nil {
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		server := metrics.NewServer(cfg.MetricsAddr, gatherer)
		if err := manager.Register(server); err != nil {
			return nil, err
		}
	}
	return manager, nil
}
