package framework

import (
	"context"
	"fmt"
)

// Activator is the entry point of a bundle. Start typically creates
// components on the bundle's DependencyManager; components left behind by
// Stop are removed by the framework.
type Activator interface {
	Start(ctx context.Context, bc *BundleContext) error
	Stop(ctx context.Context, bc *BundleContext) error
}

// BundleMetadata holds identifying information for a bundle.
type BundleMetadata struct {
	// Name is the unique symbolic name (e.g., "greeter")
	Name string

	// Version is the bundle version (e.g., "1.2.0")
	Version string

	// Type is the activator type the bundle was built from (e.g., "declarative")
	Type string

	// Description is a human-readable description of the bundle
	Description string
}

// BundleState is the lifecycle state of a bundle.
type BundleState int

const (
	BundleInstalled BundleState = iota
	BundleStarting
	BundleActive
	BundleStopping
	BundleUninstalled
)

func (s BundleState) String() string {
	switch s {
	case BundleInstalled:
		return "installed"
	case BundleStarting:
		return "starting"
	case BundleActive:
		return "active"
	case BundleStopping:
		return "stopping"
	case BundleUninstalled:
		return "uninstalled"
	default:
		return fmt.Sprintf("BundleState(%d)", int(s))
	}
}

// HealthStatus represents the current health state of a bundle.
type HealthStatus int

const (
	// Healthy indicates the bundle is active and all its components are
	// available
	Healthy HealthStatus = iota

	// Degraded indicates the bundle failed to start or has components
	// waiting for required services
	Degraded

	// Stopped indicates the bundle is not active
	Stopped
)

// String returns the string representation of HealthStatus
func (h HealthStatus) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
