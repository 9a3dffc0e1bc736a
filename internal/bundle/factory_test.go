package bundle

import (
	"context"
	"sync"
	"testing"

	"github.com/moolen/depman/internal/config"
	"github.com/moolen/depman/internal/dm"
	"github.com/moolen/depman/internal/framework"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopFactory(context.Context, Spec) (framework.Activator, error) {
	return nil, nil
}

func TestFactoryRegistry_Register(t *testing.T) {
	r := NewFactoryRegistry()

	require.NoError(t, r.Register("test", nopFactory))

	err := r.Register("", nopFactory)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")

	err = r.Register("nil", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be nil")

	err = r.Register("test", nopFactory)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestFactoryRegistry_GetAndList(t *testing.T) {
	r := NewFactoryRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(name, nopFactory))
	}

	_, ok := r.Get("alpha")
	assert.True(t, ok)
	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List())
}

func TestFactoryRegistry_ConcurrentRegistration(t *testing.T) {
	r := NewFactoryRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = r.Register(string(rune('a'+n)), nopFactory)
			_ = r.List()
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.List(), 10)
}

func TestDeclarativeIsRegisteredGlobally(t *testing.T) {
	assert.Contains(t, ListFactories(), DeclarativeType)
	_, ok := GetFactory(DeclarativeType)
	assert.True(t, ok)
	assert.Same(t, defaultRegistry, DefaultFactories())
}

func TestLimitsFrom(t *testing.T) {
	defaults := dm.DefaultLimits()

	assert.Equal(t, defaults, limitsFrom(config.LimitsConfig{}))

	got := limitsFrom(config.LimitsConfig{MaxEvents: 3})
	assert.Equal(t, 3, got.MaxEventsPerDependency)
	assert.Equal(t, defaults.MaxDependencies, got.MaxDependencies)
	assert.Equal(t, defaults.MaxInterfaces, got.MaxInterfaces)
}

func TestSpecMetadata(t *testing.T) {
	spec := Spec{BundleConfig: config.BundleConfig{
		Name:        "greeter",
		Type:        DeclarativeType,
		Version:     "1.2.0",
		Description: "says hello",
	}}
	assert.Equal(t, framework.BundleMetadata{
		Name:        "greeter",
		Type:        DeclarativeType,
		Version:     "1.2.0",
		Description: "says hello",
	}, spec.Metadata())
}
