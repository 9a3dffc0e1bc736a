package bundle

import (
	"context"
	"testing"

	"github.com/moolen/depman/internal/config"
	"github.com/moolen/depman/internal/dm"
	"github.com/moolen/depman/internal/framework"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func install(t *testing.T, fw *framework.Framework, spec Spec) *framework.Bundle {
	t.Helper()
	activator, err := NewDeclarativeActivator(context.Background(), spec)
	require.NoError(t, err)
	b, err := fw.InstallBundle(spec.Metadata(), activator)
	require.NoError(t, err)
	require.NoError(t, fw.StartBundle(context.Background(), b.ID()))
	return b
}

func TestDeclarative_WiresProvidersAndConsumers(t *testing.T) {
	fw := newFramework(t)
	limits := dm.DefaultLimits()

	consumer := install(t, fw, Spec{Limits: limits, BundleConfig: declarative("consumer", "1.0.0",
		config.ComponentConfig{
			Name: "greeter",
			Provides: []config.ProvideConfig{
				{Name: "example.Greeter", Properties: map[string]string{"service.ranking": "10"}},
			},
			Dependencies: []config.DependencyConfig{
				{Service: "example.Logger", Filter: map[string]string{"env": "prod"}, VersionRange: ">= 1.0", Required: true},
				{Service: "example.Metrics"},
			},
		},
	)})
	settle(t, fw)

	greeter := implOf(t, consumer, "greeter")
	assert.False(t, greeter.Started())
	assert.Equal(t, framework.Degraded, consumer.Health())
	assert.Equal(t, []string{"example.Logger", "example.Metrics"}, greeter.Dependencies())

	// A logger outside the version range does not satisfy the dependency
	install(t, fw, Spec{Limits: limits, BundleConfig: declarative("old-logger", "1.0.0",
		config.ComponentConfig{
			Name: "logger",
			Provides: []config.ProvideConfig{
				{Name: "example.Logger", Properties: map[string]string{"env": "prod", "service.version": "0.9.0"}},
			},
		},
	)})
	settle(t, fw)
	assert.False(t, greeter.Started())

	logger := install(t, fw, Spec{Limits: limits, BundleConfig: declarative("logger", "1.0.0",
		config.ComponentConfig{
			Name: "logger",
			Provides: []config.ProvideConfig{
				{Name: "example.Logger", Properties: map[string]string{"env": "prod", "service.version": "1.1.0"}},
			},
		},
	)})
	settle(t, fw)

	assert.True(t, greeter.Started())
	assert.Equal(t, 1, greeter.Starts())
	assert.Equal(t, framework.Healthy, consumer.Health())

	injected, ok := greeter.Dependency("example.Logger")
	require.True(t, ok)
	svc, ok := injected.(*DeclaredService)
	require.True(t, ok)
	assert.Equal(t, "logger", svc.Bundle)
	assert.Equal(t, "example.Logger", svc.Interface)
	assert.Equal(t, "logger/logger:example.Logger", svc.String())

	_, ok = greeter.Dependency("example.Metrics")
	assert.False(t, ok)
	_, ok = greeter.Dependency("unknown")
	assert.False(t, ok)

	// The greeter publishes its own interface once started
	var greeters int
	for _, ref := range fw.Registry().List() {
		if ref.Properties[dm.PropObjectClass] == "example.Greeter" {
			greeters++
			assert.Equal(t, "10", ref.Properties[dm.PropServiceRanking])
		}
	}
	assert.Equal(t, 1, greeters)

	require.NoError(t, fw.StopBundle(context.Background(), logger.ID()))
	settle(t, fw)
	assert.False(t, greeter.Started())
	_, ok = greeter.Dependency("example.Logger")
	assert.False(t, ok)
}

func TestDeclarative_SuspendStrategyRestartsComponent(t *testing.T) {
	fw := newFramework(t)
	limits := dm.DefaultLimits()

	consumer := install(t, fw, Spec{Limits: limits, BundleConfig: declarative("consumer", "1.0.0",
		config.ComponentConfig{
			Name: "suspending",
			Dependencies: []config.DependencyConfig{
				{Service: "example.Metrics", Strategy: "suspend"},
			},
		},
		config.ComponentConfig{
			Name: "locking",
			Dependencies: []config.DependencyConfig{
				{Service: "example.Metrics"},
			},
		},
	)})
	settle(t, fw)

	suspending := implOf(t, consumer, "suspending")
	locking := implOf(t, consumer, "locking")
	require.Equal(t, 1, suspending.Starts())
	require.Equal(t, 1, locking.Starts())

	install(t, fw, Spec{Limits: limits, BundleConfig: declarative("metrics", "1.0.0",
		config.ComponentConfig{
			Name:     "metrics",
			Provides: []config.ProvideConfig{{Name: "example.Metrics"}},
		},
	)})
	settle(t, fw)

	assert.Equal(t, 2, suspending.Starts())
	assert.True(t, suspending.Started())
	assert.Equal(t, 1, locking.Starts())

	var strategies []dm.Strategy
	for _, c := range consumer.Context().DependencyManager().Components() {
		for _, d := range c.Info().Dependencies {
			strategies = append(strategies, d.Strategy)
		}
	}
	assert.ElementsMatch(t, []dm.Strategy{dm.StrategySuspend, dm.StrategyLocking}, strategies)
}

func TestDeclarative_RejectsUnknownStrategy(t *testing.T) {
	_, err := NewDeclarativeActivator(context.Background(), Spec{BundleConfig: declarative("odd", "1.0.0",
		config.ComponentConfig{Name: "a", Dependencies: []config.DependencyConfig{
			{Service: "example.Logger", Strategy: "pause"},
		}},
	)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dependency strategy")
}

func TestDeclarative_AppliesLimits(t *testing.T) {
	fw := newFramework(t)

	spec := Spec{
		Limits: dm.Limits{MaxInterfaces: 1},
		BundleConfig: declarative("wide", "1.0.0", config.ComponentConfig{
			Name: "wide",
			Provides: []config.ProvideConfig{
				{Name: "example.A"},
				{Name: "example.B"},
			},
		}),
	}
	activator, err := NewDeclarativeActivator(context.Background(), spec)
	require.NoError(t, err)
	b, err := fw.InstallBundle(spec.Metadata(), activator)
	require.NoError(t, err)

	err = fw.StartBundle(context.Background(), b.ID())
	require.Error(t, err)
	assert.ErrorIs(t, err, dm.ErrResourceExhausted)
	assert.Equal(t, framework.BundleInstalled, b.State())
	assert.Equal(t, 0, b.Context().DependencyManager().Count())
}

func TestDeclarative_RejectsDuplicates(t *testing.T) {
	_, err := NewDeclarativeActivator(context.Background(), Spec{BundleConfig: declarative("dup", "1.0.0",
		config.ComponentConfig{Name: "a"},
		config.ComponentConfig{Name: "a"},
	)})
	assert.Error(t, err)

	_, err = NewDeclarativeActivator(context.Background(), Spec{BundleConfig: declarative("dup", "1.0.0",
		config.ComponentConfig{Name: "a", Dependencies: []config.DependencyConfig{
			{Service: "example.Logger"},
			{Service: "example.Logger", Required: true},
		}},
	)})
	assert.Error(t, err)
}

func TestDeclarative_RestartRebuildsComponents(t *testing.T) {
	fw := newFramework(t)
	ctx := context.Background()

	spec := Spec{Limits: dm.DefaultLimits(), BundleConfig: declarative("solo", "1.0.0",
		config.ComponentConfig{Name: "solo", Provides: []config.ProvideConfig{{Name: "example.Solo"}}},
	)}
	b := install(t, fw, spec)
	first := implOf(t, b, "solo")
	assert.True(t, first.Started())

	require.NoError(t, fw.StopBundle(ctx, b.ID()))
	assert.False(t, first.Started())
	assert.Equal(t, 0, fw.Registry().Count())

	require.NoError(t, fw.StartBundle(ctx, b.ID()))
	second := implOf(t, b, "solo")
	assert.NotSame(t, first, second)
	assert.True(t, second.Started())
	assert.Equal(t, 1, fw.Registry().Count())
}
