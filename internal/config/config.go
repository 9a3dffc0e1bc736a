package config

import (
	"net"
	"time"
)

// Config holds all configuration for the depman runtime process
type Config struct {
	// RuntimeFilePath is the path to the bundles YAML file
	RuntimeFilePath string

	// MetricsAddr is the listen address of the Prometheus endpoint; empty disables it
	MetricsAddr string

	// HealthCheckInterval is how often bundle health is evaluated
	HealthCheckInterval time.Duration

	// ShutdownTimeout bounds graceful shutdown of bundles and servers
	ShutdownTimeout time.Duration

	// MinBundleVersion rejects bundles declaring an older version
	MinBundleVersion string

	// TracingEnabled indicates whether OpenTelemetry tracing is enabled
	TracingEnabled bool

	// TracingEndpoint is the OTLP gRPC endpoint for trace export
	TracingEndpoint string

	// TracingTLSCAPath is the path to the CA certificate for TLS verification
	TracingTLSCAPath string

	// TracingTLSInsecure skips TLS verification (development only)
	TracingTLSInsecure bool
}

// DefaultConfig returns the defaults used by the run command
func DefaultConfig() *Config {
	return &Config{
		RuntimeFilePath:     "bundles.yaml",
		MetricsAddr:         ":9090",
		HealthCheckInterval: 30 * time.Second,
		ShutdownTimeout:     10 * time.Second,
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.RuntimeFilePath == "" {
		return NewFieldError("runtime-file", "must not be empty")
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return NewFieldError("metrics-addr", "must be host:port, got "+c.MetricsAddr)
		}
	}

	if c.HealthCheckInterval < time.Second {
		return NewFieldError("health-check-interval", "must be at least 1s")
	}

	if c.ShutdownTimeout <= 0 {
		return NewFieldError("shutdown-timeout", "must be positive")
	}

	if c.TracingEnabled && c.TracingEndpoint == "" {
		return NewFieldError("tracing-endpoint", "must be set when tracing is enabled")
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// NewFieldError creates a configuration error about a single field
func NewFieldError(field, message string) *ConfigError {
	return &ConfigError{Field: field, message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.message
	}
	return e.Field + ": " + e.message
}
