package framework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/moolen/depman/internal/dm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter interface {
	Greet() string
}

type staticGreeter struct {
	msg string
}

func (g *staticGreeter) Greet() string { return g.msg }

// activatorFuncs adapts plain functions to Activator.
type activatorFuncs struct {
	start func(ctx context.Context, bc *BundleContext) error
	stop  func(ctx context.Context, bc *BundleContext) error
}

func (a activatorFuncs) Start(ctx context.Context, bc *BundleContext) error {
	if a.start == nil {
		return nil
	}
	return a.start(ctx, bc)
}

func (a activatorFuncs) Stop(ctx context.Context, bc *BundleContext) error {
	if a.stop == nil {
		return nil
	}
	return a.stop(ctx, bc)
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingListener) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recordingListener) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingListener) ServiceAdded(ref dm.ServiceReference) { r.add("added %d", ref.ID) }
func (r *recordingListener) ServiceModified(ref dm.ServiceReference) {
	r.add("modified %d", ref.ID)
}
func (r *recordingListener) ServiceRemoved(ref dm.ServiceReference) { r.add("removed %d", ref.ID) }
func (r *recordingListener) ServiceSwapped(old, replacement dm.ServiceReference) {
	r.add("swapped %d %v->%v", old.ID, old.Service, replacement.Service)
}

func newRunningFramework(t *testing.T, opts ...Option) *Framework {
	t.Helper()
	f, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	t.Cleanup(func() {
		_ = f.Stop(context.Background())
	})
	return f
}

func settle(t *testing.T, f *Framework) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.WaitForEvents(ctx))
}

func requiredGreeter(t *testing.T, slot *dm.AutoConfig) *dm.ServiceDependency {
	t.Helper()
	dep := dm.NewServiceDependency()
	require.NoError(t, dep.SetService("greeter", nil))
	require.NoError(t, dep.SetRequired(true))
	if slot != nil {
		require.NoError(t, dep.SetAutoConfig(slot))
	}
	return dep
}

func TestFramework_TrackerLifecycle(t *testing.T) {
	f := newRunningFramework(t)
	bc := f.Context()

	early, err := bc.RegisterService("greeter", &staticGreeter{"hi"}, nil)
	require.NoError(t, err)

	listener := &recordingListener{}
	tracker, err := bc.TrackServices(dm.ServiceFilter{Name: "greeter"}, listener)
	require.NoError(t, err)

	late, err := bc.RegisterService("greeter", &staticGreeter{"hello"}, nil)
	require.NoError(t, err)
	_, err = bc.RegisterService("logger", "ignored", nil)
	require.NoError(t, err)
	settle(t, f)

	assert.Equal(t, []string{
		fmt.Sprintf("added %d", early.ServiceID()),
		fmt.Sprintf("added %d", late.ServiceID()),
	}, listener.all())

	require.NoError(t, early.Unregister())
	require.NoError(t, tracker.Close())
	settle(t, f)

	assert.Equal(t, []string{
		fmt.Sprintf("added %d", early.ServiceID()),
		fmt.Sprintf("added %d", late.ServiceID()),
		fmt.Sprintf("removed %d", early.ServiceID()),
		fmt.Sprintf("removed %d", late.ServiceID()),
	}, listener.all())
	assert.Equal(t, 0, bc.OpenTrackers())

	// Closed trackers stay silent
	_, err = bc.RegisterService("greeter", &staticGreeter{"hey"}, nil)
	require.NoError(t, err)
	settle(t, f)
	assert.Len(t, listener.all(), 4)
	assert.NoError(t, tracker.Close())
}

func TestFramework_ModifiedAndSwapped(t *testing.T) {
	f := newRunningFramework(t)
	bc := f.Context()

	listener := &recordingListener{}
	_, err := bc.TrackServices(dm.ServiceFilter{
		Name:       "greeter",
		Properties: map[string]string{"lang": "en"},
	}, listener)
	require.NoError(t, err)

	r, err := bc.RegisterService("greeter", "a", dm.Properties{"lang": "de"})
	require.NoError(t, err)
	reg := r.(*ServiceRegistration)
	id := reg.ServiceID()

	require.NoError(t, reg.SetProperties(dm.Properties{"lang": "en"}))
	require.NoError(t, reg.SetProperties(dm.Properties{"lang": "en", "x": "1"}))
	require.NoError(t, reg.Replace("b"))
	require.NoError(t, reg.SetProperties(dm.Properties{"lang": "fr"}))
	require.NoError(t, reg.Replace("c"))
	settle(t, f)

	assert.Equal(t, []string{
		fmt.Sprintf("added %d", id),
		fmt.Sprintf("modified %d", id),
		fmt.Sprintf("swapped %d a->b", id),
		fmt.Sprintf("removed %d", id),
	}, listener.all())
}

func TestFramework_VersionRangeFilter(t *testing.T) {
	f := newRunningFramework(t)
	bc := f.Context()

	_, err := bc.TrackServices(dm.ServiceFilter{Name: "greeter", VersionRange: "not a range"}, &recordingListener{})
	assert.Error(t, err)

	listener := &recordingListener{}
	_, err = bc.TrackServices(dm.ServiceFilter{Name: "greeter", VersionRange: ">= 2.0"}, listener)
	require.NoError(t, err)

	_, err = bc.RegisterService("greeter", "old", dm.Properties{dm.PropServiceVersion: "1.9.0"})
	require.NoError(t, err)
	current, err := bc.RegisterService("greeter", "new", dm.Properties{dm.PropServiceVersion: "2.1.0"})
	require.NoError(t, err)
	settle(t, f)

	assert.Equal(t, []string{fmt.Sprintf("added %d", current.ServiceID())}, listener.all())
}

func TestFramework_RequiredDependencyFollowsRegistry(t *testing.T) {
	f := newRunningFramework(t)
	manager := f.Context().DependencyManager()

	slot := &dm.AutoConfig{}
	consumer := manager.CreateComponent("consumer")
	require.NoError(t, consumer.AddServiceDependency(requiredGreeter(t, slot)))
	require.NoError(t, manager.Add(consumer))
	settle(t, f)
	assert.Equal(t, dm.StateWaitingForRequired, consumer.State())

	reg, err := f.Context().RegisterService("greeter", &staticGreeter{"hello"}, nil)
	require.NoError(t, err)
	settle(t, f)

	assert.Equal(t, dm.StateTrackingOptional, consumer.State())
	g, ok := dm.AutoConfigured[greeter](slot)
	require.True(t, ok)
	assert.Equal(t, "hello", g.Greet())

	require.NoError(t, reg.Unregister())
	settle(t, f)
	assert.Equal(t, dm.StateWaitingForRequired, consumer.State())
	assert.Nil(t, slot.Get())
}

func TestFramework_RestartDoesNotReuseWithdrawnService(t *testing.T) {
	f := newRunningFramework(t)
	manager := f.Context().DependencyManager()

	var mu sync.Mutex
	starts := 0
	slot := &dm.AutoConfig{}
	consumer := manager.CreateComponent("consumer")
	require.NoError(t, consumer.SetCallbacks(dm.LifecycleCallbacks{
		Start: func(interface{}) error {
			mu.Lock()
			defer mu.Unlock()
			starts++
			return nil
		},
	}))
	require.NoError(t, consumer.AddServiceDependency(requiredGreeter(t, slot)))

	reg, err := f.Context().RegisterService("greeter", &staticGreeter{"hello"}, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Add(consumer))
	settle(t, f)
	require.Equal(t, dm.StateTrackingOptional, consumer.State())

	require.NoError(t, consumer.Stop())
	require.NoError(t, reg.Unregister())
	require.NoError(t, consumer.Start())

	assert.Equal(t, dm.StateWaitingForRequired, consumer.State())
	assert.Nil(t, slot.Get())

	settle(t, f)
	assert.Equal(t, dm.StateWaitingForRequired, consumer.State())
	assert.Nil(t, slot.Get())
	assert.Zero(t, consumer.Info().Faults)
	mu.Lock()
	assert.Equal(t, 1, starts)
	mu.Unlock()
}

func TestFramework_RankingDecidesAutoConfig(t *testing.T) {
	f := newRunningFramework(t)
	bc := f.Context()
	manager := bc.DependencyManager()

	slot := &dm.AutoConfig{}
	consumer := manager.CreateComponent("consumer")
	require.NoError(t, consumer.AddServiceDependency(requiredGreeter(t, slot)))
	require.NoError(t, manager.Add(consumer))

	low, err := bc.RegisterService("greeter", &staticGreeter{"low"}, dm.Properties{dm.PropServiceRanking: "1"})
	require.NoError(t, err)
	high, err := bc.RegisterService("greeter", &staticGreeter{"high"}, dm.Properties{dm.PropServiceRanking: "10"})
	require.NoError(t, err)
	settle(t, f)
	assert.Equal(t, high.ServiceID(), slot.ServiceID())

	// Demoting the best service hands the slot to the other one
	require.NoError(t, high.(*ServiceRegistration).SetProperties(dm.Properties{dm.PropServiceRanking: "0"}))
	settle(t, f)
	assert.Equal(t, low.ServiceID(), slot.ServiceID())

	require.NoError(t, low.Unregister())
	settle(t, f)
	assert.Equal(t, high.ServiceID(), slot.ServiceID())
	assert.Equal(t, dm.StateTrackingOptional, consumer.State())
}

func TestFramework_ComponentsAcrossBundles(t *testing.T) {
	f := newRunningFramework(t)
	ctx := context.Background()

	slot := &dm.AutoConfig{}
	consumerBundle, err := f.InstallBundle(BundleMetadata{Name: "consumer", Version: "1.0.0"}, activatorFuncs{
		start: func(_ context.Context, bc *BundleContext) error {
			c := bc.DependencyManager().CreateComponent("consumer")
			if err := c.AddServiceDependency(requiredGreeter(t, slot)); err != nil {
				return err
			}
			return bc.DependencyManager().Add(c)
		},
	})
	require.NoError(t, err)

	providerBundle, err := f.InstallBundle(BundleMetadata{Name: "provider", Version: "1.0.0"}, activatorFuncs{
		start: func(_ context.Context, bc *BundleContext) error {
			c := bc.DependencyManager().CreateComponent("provider")
			if err := c.AddInterface("greeter", &staticGreeter{"from provider"}, nil); err != nil {
				return err
			}
			return bc.DependencyManager().Add(c)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), consumerBundle.ID())
	assert.Equal(t, int64(2), providerBundle.ID())

	require.NoError(t, f.StartBundle(ctx, consumerBundle.ID()))
	settle(t, f)
	assert.Equal(t, Degraded, consumerBundle.Health())
	assert.False(t, f.AllComponentsActive())

	require.NoError(t, f.StartBundle(ctx, providerBundle.ID()))
	settle(t, f)
	assert.Equal(t, Healthy, consumerBundle.Health())
	assert.Equal(t, Healthy, providerBundle.Health())
	assert.True(t, f.AllComponentsActive())
	g, ok := dm.AutoConfigured[greeter](slot)
	require.True(t, ok)
	assert.Equal(t, "from provider", g.Greet())

	infos := f.ComponentInfos(providerBundle.ID())
	require.Len(t, infos, 1)
	assert.Equal(t, "provider", infos[0].Name)
	assert.Equal(t, providerBundle.ID(), infos[0].BundleID)
	assert.Len(t, f.ComponentInfos(), 2)

	require.NoError(t, f.StopBundle(ctx, providerBundle.ID()))
	settle(t, f)
	assert.Equal(t, Stopped, providerBundle.Health())
	assert.Equal(t, Degraded, consumerBundle.Health())
	assert.Nil(t, slot.Get())
	assert.Equal(t, 0, f.Registry().Count())
	assert.Equal(t, 0, providerBundle.Context().DependencyManager().Count())
}

func TestFramework_BundleCleanup(t *testing.T) {
	f := newRunningFramework(t)
	ctx := context.Background()

	b, err := f.InstallBundle(BundleMetadata{Name: "leaky"}, activatorFuncs{
		start: func(_ context.Context, bc *BundleContext) error {
			if _, err := bc.RegisterService("greeter", "x", nil); err != nil {
				return err
			}
			_, err := bc.TrackServices(dm.ServiceFilter{Name: "greeter"}, &recordingListener{})
			return err
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.StartBundle(ctx, b.ID()))
	assert.Equal(t, BundleActive, b.State())
	assert.Equal(t, 1, f.Registry().Count())
	assert.Equal(t, 1, b.Context().OpenTrackers())

	// Starting twice is a no-op
	require.NoError(t, f.StartBundle(ctx, b.ID()))

	require.NoError(t, f.StopBundle(ctx, b.ID()))
	assert.Equal(t, BundleInstalled, b.State())
	assert.Equal(t, 0, f.Registry().Count())
	assert.Equal(t, 0, b.Context().OpenTrackers())
	require.NoError(t, f.StopBundle(ctx, b.ID()))

	require.NoError(t, f.UninstallBundle(ctx, b.ID()))
	assert.Equal(t, BundleUninstalled, b.State())
	_, ok := f.Bundle(b.ID())
	assert.False(t, ok)
	assert.Error(t, f.StartBundle(ctx, b.ID()))
}

func TestFramework_FailedStartRollsBack(t *testing.T) {
	f := newRunningFramework(t)
	ctx := context.Background()
	boom := errors.New("boom")

	b, err := f.InstallBundle(BundleMetadata{Name: "broken"}, activatorFuncs{
		start: func(_ context.Context, bc *BundleContext) error {
			if _, err := bc.RegisterService("greeter", "x", nil); err != nil {
				return err
			}
			bc.DependencyManager().CreateComponent("half-built")
			return boom
		},
	})
	require.NoError(t, err)

	err = f.StartBundle(ctx, b.ID())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, BundleInstalled, b.State())
	assert.Equal(t, Degraded, b.Health())
	assert.ErrorIs(t, b.LastError(), boom)
	assert.Equal(t, 0, f.Registry().Count())
	assert.Equal(t, 0, b.Context().DependencyManager().Count())
}

func TestFramework_InstallValidation(t *testing.T) {
	f := newRunningFramework(t)

	_, err := f.InstallBundle(BundleMetadata{}, activatorFuncs{})
	assert.Error(t, err)
	_, err = f.InstallBundle(BundleMetadata{Name: "x"}, nil)
	assert.Error(t, err)

	_, err = f.InstallBundle(BundleMetadata{Name: "x"}, activatorFuncs{})
	require.NoError(t, err)
	_, err = f.InstallBundle(BundleMetadata{Name: "x"}, activatorFuncs{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already installed")

	b, ok := f.BundleByName("x")
	require.True(t, ok)
	assert.Equal(t, Stopped, b.Health())

	assert.Equal(t, "x", f.BundleName(b.ID()))
	assert.Equal(t, "framework", f.BundleName(0))
	assert.Equal(t, "unknown", f.BundleName(99))
}

func TestFramework_WaitFromListenerFails(t *testing.T) {
	f := newRunningFramework(t)
	errCh := make(chan error, 1)

	_, err := f.Context().TrackServices(dm.ServiceFilter{Name: "greeter"}, &waitingListener{f: f, errCh: errCh})
	require.NoError(t, err)
	_, err = f.Context().RegisterService("greeter", "x", nil)
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrWaitInEventLoop)
	case <-time.After(5 * time.Second):
		t.Fatal("listener never ran")
	}
}

type waitingListener struct {
	recordingListener
	f     *Framework
	errCh chan error
}

func (w *waitingListener) ServiceAdded(dm.ServiceReference) {
	w.errCh <- w.f.WaitForEvents(context.Background())
}

func TestFramework_StopStopsBundles(t *testing.T) {
	f, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = f.InstallBundle(BundleMetadata{Name: "early"}, activatorFuncs{})
	assert.NoError(t, err)
	assert.Error(t, f.StartBundle(ctx, 1), "framework not started")

	require.NoError(t, f.Start(ctx))
	var stopped []string
	for _, name := range []string{"a", "b"} {
		name := name
		b, err := f.InstallBundle(BundleMetadata{Name: name}, activatorFuncs{
			stop: func(context.Context, *BundleContext) error {
				stopped = append(stopped, name)
				return nil
			},
		})
		require.NoError(t, err)
		require.NoError(t, f.StartBundle(ctx, b.ID()))
	}

	require.NoError(t, f.Stop(ctx))
	assert.Equal(t, []string{"b", "a"}, stopped)
	assert.ErrorIs(t, f.Start(ctx), ErrFrameworkStopped)
	_, err = f.InstallBundle(BundleMetadata{Name: "late"}, activatorFuncs{})
	assert.ErrorIs(t, err, ErrFrameworkStopped)
	assert.Equal(t, "framework", f.Name())
}
