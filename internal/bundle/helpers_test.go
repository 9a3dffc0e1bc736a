package bundle

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/moolen/depman/internal/config"
	"github.com/moolen/depman/internal/framework"
	"github.com/stretchr/testify/require"
)

func newFramework(t *testing.T) *framework.Framework {
	t.Helper()
	fw, err := framework.New()
	require.NoError(t, err)
	require.NoError(t, fw.Start(context.Background()))
	t.Cleanup(func() { _ = fw.Stop(context.Background()) })
	return fw
}

func settle(t *testing.T, fw *framework.Framework) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fw.WaitForEvents(ctx))
}

// createTestConfigFile writes a runtime file for testing
func createTestConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundles.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}
	return path
}

func implOf(t *testing.T, b *framework.Bundle, component string) *DeclaredComponent {
	t.Helper()
	for _, c := range b.Context().DependencyManager().Components() {
		if c.Name() == component {
			impl, ok := c.Implementation().(*DeclaredComponent)
			require.True(t, ok, "component %s has no declarative implementation", component)
			return impl
		}
	}
	t.Fatalf("component %s not found in bundle %s", component, b.Metadata().Name)
	return nil
}

func bundleNamed(t *testing.T, fw *framework.Framework, name string) *framework.Bundle {
	t.Helper()
	b, ok := fw.BundleByName(name)
	require.True(t, ok, "bundle %s not installed", name)
	return b
}

func declarative(name, version string, components ...config.ComponentConfig) config.BundleConfig {
	return config.BundleConfig{
		Name:       name,
		Type:       DeclarativeType,
		Version:    version,
		Enabled:    true,
		Components: components,
	}
}

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
