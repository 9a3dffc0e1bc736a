package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WriteRuntimeFile atomically writes a RuntimeFile to disk using
// a temp-file-then-rename pattern to prevent corruption on crashes.
//
// If any step fails, the temp file is cleaned up and the original file
// remains untouched. Readers, including a running watcher, never see
// partial writes.
func WriteRuntimeFile(path string, config *RuntimeFile) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal runtime config: %w", err)
	}

	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".bundles.*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		// Remove temp file if it still exists (indicates error path)
		if _, err := os.Stat(tmpPath); err == nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Atomic rename from temp to target (POSIX guarantees atomicity)
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %q: %w", path, err)
	}

	return nil
}

// ExampleRuntimeFile returns the file written by `depman init`: a logger
// bundle and a greeter bundle that requires it.
func ExampleRuntimeFile() *RuntimeFile {
	return &RuntimeFile{
		SchemaVersion: "v1",
		Limits: LimitsConfig{
			MaxDependencies: 64,
			MaxEvents:       1024,
			MaxInterfaces:   32,
		},
		Bundles: []BundleConfig{
			{
				Name:        "logger",
				Type:        "declarative",
				Version:     "1.0.0",
				Description: "Provides example.Logger",
				Enabled:     true,
				Components: []ComponentConfig{
					{
						Name: "logger",
						Provides: []ProvideConfig{
							{
								Name: "example.Logger",
								Properties: map[string]string{
									"env":             "prod",
									"service.version": "1.0.0",
								},
							},
						},
					},
				},
			},
			{
				Name:        "greeter",
				Type:        "declarative",
				Version:     "1.2.0",
				Description: "Provides example.Greeter once a logger is available",
				Enabled:     true,
				Components: []ComponentConfig{
					{
						Name: "greeter",
						Provides: []ProvideConfig{
							{
								Name: "example.Greeter",
								Properties: map[string]string{
									"service.ranking": "10",
									"service.version": "1.2.0",
								},
							},
						},
						Dependencies: []DependencyConfig{
							{
								Service:      "example.Logger",
								Filter:       map[string]string{"env": "prod"},
								VersionRange: ">= 1.0, < 2.0",
								Required:     true,
							},
							{
								Service: "example.Metrics",
							},
						},
					},
				},
			},
		},
	}
}
