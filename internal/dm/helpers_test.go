package dm

import (
	"fmt"
	"sync"
)

// fakeContext is an in-memory BundleContext that journals registrations
// and tracker activity.
type fakeContext struct {
	mu         sync.Mutex
	nextID     int64
	registered map[int64]string
	trackers   []*fakeTracker
	offered    map[string][]ServiceReference
	journal    *journal
	failTrack  bool
}

func newFakeContext(j *journal) *fakeContext {
	if j == nil {
		j = &journal{}
	}
	return &fakeContext{
		registered: make(map[int64]string),
		offered:    make(map[string][]ServiceReference),
		journal:    j,
	}
}

func (f *fakeContext) BundleID() int64 { return 7 }

func (f *fakeContext) RegisterService(name string, _ interface{}, _ Properties) (ServiceRegistration, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.registered[id] = name
	f.mu.Unlock()
	f.journal.add("register " + name)
	return &fakeRegistration{ctx: f, id: id, name: name}, nil
}

func (f *fakeContext) TrackServices(filter ServiceFilter, listener TrackerListener) (Tracker, error) {
	if f.failTrack {
		return nil, fmt.Errorf("tracking disabled")
	}
	t := &fakeTracker{ctx: f, filter: filter, listener: listener}
	f.mu.Lock()
	f.trackers = append(f.trackers, t)
	replay := make([]ServiceReference, len(f.offered[filter.Name]))
	copy(replay, f.offered[filter.Name])
	f.mu.Unlock()
	f.journal.add("track " + filter.Name)
	for _, ref := range replay {
		listener.ServiceAdded(ref)
	}
	return t, nil
}

// offer makes a service visible to trackers opened from now on.
func (f *fakeContext) offer(name string, ref ServiceReference) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offered[name] = append(f.offered[name], ref)
}

// withdraw hides every offered service of name from new trackers.
func (f *fakeContext) withdraw(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.offered, name)
}

// lastTracker returns the most recently opened tracker for name.
func (f *fakeContext) lastTracker(name string) *fakeTracker {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.trackers) - 1; i >= 0; i-- {
		if f.trackers[i].filter.Name == name {
			return f.trackers[i]
		}
	}
	return nil
}

func (f *fakeContext) registeredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered)
}

func (f *fakeContext) openTrackers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.trackers {
		if !t.closed {
			n++
		}
	}
	return n
}

type fakeRegistration struct {
	ctx  *fakeContext
	id   int64
	name string
}

func (r *fakeRegistration) ServiceID() int64 { return r.id }

func (r *fakeRegistration) Unregister() error {
	r.ctx.mu.Lock()
	delete(r.ctx.registered, r.id)
	r.ctx.mu.Unlock()
	r.ctx.journal.add("unregister " + r.name)
	return nil
}

type fakeTracker struct {
	ctx      *fakeContext
	filter   ServiceFilter
	listener TrackerListener
	closed   bool
}

func (t *fakeTracker) Close() error {
	t.ctx.mu.Lock()
	t.closed = true
	t.ctx.mu.Unlock()
	t.ctx.journal.add("untrack " + t.filter.Name)
	return nil
}

// journal records callback and registry activity in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

func (j *journal) count(entry string) int {
	n := 0
	for _, e := range j.all() {
		if e == entry {
			n++
		}
	}
	return n
}

func (j *journal) index(entry string) int {
	for i, e := range j.all() {
		if e == entry {
			return i
		}
	}
	return -1
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}

// lifecycle returns callbacks that journal their invocation.
func lifecycle(j *journal) LifecycleCallbacks {
	record := func(name string) LifecycleFunc {
		return func(interface{}) error {
			j.add(name)
			return nil
		}
	}
	return LifecycleCallbacks{
		Init:   record("init"),
		Start:  record("start"),
		Stop:   record("stop"),
		Deinit: record("deinit"),
	}
}

// serviceCallbacks returns dependency callbacks that journal each service
// they see under the given prefix.
func serviceCallbacks(j *journal, prefix string) DependencyCallbacks {
	return DependencyCallbacks{
		Add: AddFunc(func(_ interface{}, ev *Event) {
			j.add(fmt.Sprintf("%s add %d", prefix, ev.ServiceID))
		}),
		Change: ChangeFunc(func(_ interface{}, ev *Event) {
			j.add(fmt.Sprintf("%s change %d", prefix, ev.ServiceID))
		}),
		Remove: RemoveFunc(func(_ interface{}, ev *Event) {
			j.add(fmt.Sprintf("%s remove %d", prefix, ev.ServiceID))
		}),
		Swap: SwapFunc(func(_ interface{}, old, replacement *Event) {
			j.add(fmt.Sprintf("%s swap %d", prefix, replacement.ServiceID))
		}),
	}
}

// observerRecorder collects observer notifications.
type observerRecorder struct {
	mu          sync.Mutex
	transitions [][2]State
	events      []EventKind
	faults      []error
}

func (o *observerRecorder) ComponentStateChanged(_ *Component, from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, [2]State{from, to})
}

func (o *observerRecorder) ComponentEventHandled(_ *Component, kind EventKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, kind)
}

func (o *observerRecorder) ComponentFault(_ *Component, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.faults = append(o.faults, err)
}

func (o *observerRecorder) faultList() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]error, len(o.faults))
	copy(out, o.faults)
	return out
}

func (o *observerRecorder) transitionList() [][2]State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([][2]State, len(o.transitions))
	copy(out, o.transitions)
	return out
}

func svc(id, ranking int64, service interface{}) *Event {
	return &Event{ServiceID: id, Ranking: ranking, Service: service}
}

func required(t interface{ Fatalf(string, ...interface{}) }, name string) *ServiceDependency {
	d := NewServiceDependency()
	if err := d.SetService(name, nil); err != nil {
		t.Fatalf("SetService() error = %v", err)
	}
	if err := d.SetRequired(true); err != nil {
		t.Fatalf("SetRequired() error = %v", err)
	}
	return d
}

func optionalDep(t interface{ Fatalf(string, ...interface{}) }, name string) *ServiceDependency {
	d := NewServiceDependency()
	if err := d.SetService(name, nil); err != nil {
		t.Fatalf("SetService() error = %v", err)
	}
	return d
}

// settle waits until every task queued on c before the call has run.
func settle(c *Component) {
	done := make(chan struct{})
	go c.sync(func() { close(done) })
	<-done
}
