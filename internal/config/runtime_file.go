package config

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// RuntimeFile represents the top-level structure of the bundles config file.
//
// Example YAML structure:
//
//	schema_version: v1
//	limits:
//	  max_dependencies: 64
//	  max_events: 256
//	  max_interfaces: 16
//	bundles:
//	  - name: greeter
//	    type: declarative
//	    version: 1.2.0
//	    enabled: true
//	    components:
//	      - name: greeter
//	        provides:
//	          - name: example.Greeter
//	            properties:
//	              service.ranking: "10"
//	        dependencies:
//	          - service: example.Logger
//	            filter:
//	              env: prod
//	            version_range: ">= 1.0, < 2.0"
//	            required: true
type RuntimeFile struct {
	// SchemaVersion is the explicit config schema version (e.g., "v1")
	SchemaVersion string `yaml:"schema_version"`

	// Limits bounds the size of every component; zero values keep the defaults
	Limits LimitsConfig `yaml:"limits,omitempty"`

	// Bundles is the list of bundles to install
	Bundles []BundleConfig `yaml:"bundles"`
}

// LimitsConfig mirrors the component limits of the dependency manager.
type LimitsConfig struct {
	MaxDependencies int `yaml:"max_dependencies,omitempty"`
	MaxEvents       int `yaml:"max_events,omitempty"`
	MaxInterfaces   int `yaml:"max_interfaces,omitempty"`
}

// BundleConfig represents a single bundle.
type BundleConfig struct {
	// Name is the unique bundle name (e.g., "greeter")
	Name string `yaml:"name"`

	// Type selects the activator factory (e.g., "declarative")
	Type string `yaml:"type"`

	// Version is the bundle version, checked against the minimum bundle version
	Version string `yaml:"version,omitempty"`

	// Description is a human-readable description
	Description string `yaml:"description,omitempty"`

	// Enabled indicates whether this bundle should be started
	Enabled bool `yaml:"enabled"`

	// Components are the components a declarative bundle creates
	Components []ComponentConfig `yaml:"components,omitempty"`

	// Config holds activator specific settings
	Config map[string]interface{} `yaml:"config,omitempty"`
}

// ComponentConfig declares one component.
type ComponentConfig struct {
	Name         string             `yaml:"name"`
	Provides     []ProvideConfig    `yaml:"provides,omitempty"`
	Dependencies []DependencyConfig `yaml:"dependencies,omitempty"`
}

// ProvideConfig declares an interface published by a component.
type ProvideConfig struct {
	Name       string            `yaml:"name"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// DependencyConfig declares a service dependency of a component.
type DependencyConfig struct {
	Service      string            `yaml:"service"`
	Filter       map[string]string `yaml:"filter,omitempty"`
	VersionRange string            `yaml:"version_range,omitempty"`
	Required     bool              `yaml:"required"`
	// Strategy is "locking" (default) or "suspend"
	Strategy string `yaml:"strategy,omitempty"`
}

// Validate checks that the RuntimeFile is valid.
// Returns descriptive errors for validation failures.
func (f *RuntimeFile) Validate() error {
	if f.SchemaVersion != "v1" {
		return NewConfigError(fmt.Sprintf(
			"unsupported schema_version: %q (expected \"v1\")",
			f.SchemaVersion,
		))
	}

	if f.Limits.MaxDependencies < 0 || f.Limits.MaxEvents < 0 || f.Limits.MaxInterfaces < 0 {
		return NewFieldError("limits", "values must not be negative")
	}

	seenNames := make(map[string]bool)
	for i, bundle := range f.Bundles {
		if bundle.Name == "" {
			return NewConfigError(fmt.Sprintf("bundle[%d]: name is required", i))
		}
		if bundle.Type == "" {
			return NewConfigError(fmt.Sprintf("bundle[%d] (%s): type is required", i, bundle.Name))
		}
		if seenNames[bundle.Name] {
			return NewConfigError(fmt.Sprintf("bundle[%d]: duplicate bundle name %q", i, bundle.Name))
		}
		seenNames[bundle.Name] = true

		if bundle.Version != "" {
			if _, err := version.NewVersion(bundle.Version); err != nil {
				return NewConfigError(fmt.Sprintf(
					"bundle[%d] (%s): invalid version %q", i, bundle.Name, bundle.Version,
				))
			}
		}

		for j, component := range bundle.Components {
			if err := component.validate(); err != nil {
				return NewConfigError(fmt.Sprintf(
					"bundle[%d] (%s): component[%d]: %s", i, bundle.Name, j, err.Error(),
				))
			}
		}
	}

	return nil
}

func (c *ComponentConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	for i, p := range c.Provides {
		if p.Name == "" {
			return fmt.Errorf("provides[%d]: name is required", i)
		}
	}
	for i, d := range c.Dependencies {
		if d.Service == "" {
			return fmt.Errorf("dependencies[%d]: service is required", i)
		}
		if d.VersionRange != "" {
			if _, err := version.NewConstraint(d.VersionRange); err != nil {
				return fmt.Errorf("dependencies[%d] (%s): invalid version_range %q", i, d.Service, d.VersionRange)
			}
		}
		switch d.Strategy {
		case "", "locking", "suspend":
		default:
			return fmt.Errorf("dependencies[%d] (%s): invalid strategy %q", i, d.Service, d.Strategy)
		}
	}
	return nil
}

// EnabledBundles returns the bundles that should be started, in file order.
func (f *RuntimeFile) EnabledBundles() []BundleConfig {
	var enabled []BundleConfig
	for _, b := range f.Bundles {
		if b.Enabled {
			enabled = append(enabled, b)
		}
	}
	return enabled
}
