package framework

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/moolen/depman/internal/dm"
)

type serviceEventKind int

const (
	serviceRegistered serviceEventKind = iota
	serviceModified
	serviceUnregistering
	serviceReplaced
)

// serviceEvent is a registry change queued for delivery to trackers.
type serviceEvent struct {
	kind serviceEventKind
	ref  dm.ServiceReference
	old  dm.ServiceReference
}

type serviceEntry struct {
	id       int64
	bundleID int64
	name     string
	service  interface{}
	props    dm.Properties
}

func (e *serviceEntry) reference() dm.ServiceReference {
	return dm.ServiceReference{
		ID:         e.id,
		Service:    e.service,
		Properties: e.props.Clone(),
	}
}

// ServiceRegistry stores registered services by id and reports changes
// through notify. Service ids start at 1 and are never reused.
type ServiceRegistry struct {
	services map[int64]*serviceEntry
	nextID   int64
	notify   func(serviceEvent)
	mu       sync.RWMutex
}

// newServiceRegistry creates an empty registry. notify is called with the
// registry lock held so events are queued in the order changes happen.
func newServiceRegistry(notify func(serviceEvent)) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[int64]*serviceEntry),
		notify:   notify,
	}
}

// Register publishes service under name on behalf of bundleID.
// Returns error if:
//   - name is empty string
//   - service is nil
func (r *ServiceRegistry) Register(bundleID int64, name string, service interface{}, props dm.Properties) (*ServiceRegistration, error) {
	if name == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}
	if service == nil {
		return nil, fmt.Errorf("service %q cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	entry := &serviceEntry{
		id:       r.nextID,
		bundleID: bundleID,
		name:     name,
		service:  service,
		props:    stampProperties(props, r.nextID, bundleID, name),
	}
	r.services[entry.id] = entry
	r.emit(serviceEvent{kind: serviceRegistered, ref: entry.reference()})

	return &ServiceRegistration{registry: r, id: entry.id}, nil
}

// Get returns the service with the given id.
func (r *ServiceRegistry) Get(id int64) (dm.ServiceReference, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.services[id]
	if !exists {
		return dm.ServiceReference{}, false
	}
	return entry.reference(), true
}

// List returns all services ordered by id.
func (r *ServiceRegistry) List() []dm.ServiceReference {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]dm.ServiceReference, 0, len(r.services))
	for _, entry := range r.services {
		refs = append(refs, entry.reference())
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

// Count returns the number of registered services.
func (r *ServiceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Unregister withdraws a service.
func (r *ServiceRegistry) Unregister(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.services[id]
	if !exists {
		return fmt.Errorf("service %d is not registered", id)
	}
	delete(r.services, id)
	r.emit(serviceEvent{kind: serviceUnregistering, ref: entry.reference()})
	return nil
}

// UnregisterBundle withdraws every service of a bundle and returns how many
// were removed.
func (r *ServiceRegistry) UnregisterBundle(bundleID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, entry := range r.services {
		if entry.bundleID == bundleID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	for _, id := range ids {
		entry := r.services[id]
		delete(r.services, id)
		r.emit(serviceEvent{kind: serviceUnregistering, ref: entry.reference()})
	}
	return len(ids)
}

// SetProperties replaces the properties of a service. The framework managed
// keys objectClass, service.id and service.bundleid are preserved.
func (r *ServiceRegistry) SetProperties(id int64, props dm.Properties) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.services[id]
	if !exists {
		return fmt.Errorf("service %d is not registered", id)
	}
	entry.props = stampProperties(props, entry.id, entry.bundleID, entry.name)
	r.emit(serviceEvent{kind: serviceModified, ref: entry.reference()})
	return nil
}

// Replace swaps the object behind a registration while keeping its id and
// properties.
func (r *ServiceRegistry) Replace(id int64, service interface{}) error {
	if service == nil {
		return fmt.Errorf("replacement for service %d cannot be nil", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.services[id]
	if !exists {
		return fmt.Errorf("service %d is not registered", id)
	}
	old := entry.reference()
	entry.service = service
	r.emit(serviceEvent{kind: serviceReplaced, ref: entry.reference(), old: old})
	return nil
}

func (r *ServiceRegistry) emit(ev serviceEvent) {
	if r.notify != nil {
		r.notify(ev)
	}
}

func stampProperties(props dm.Properties, id, bundleID int64, name string) dm.Properties {
	out := props.Clone()
	out[dm.PropObjectClass] = name
	out[dm.PropServiceID] = strconv.FormatInt(id, 10)
	out[dm.PropServiceBundle] = strconv.FormatInt(bundleID, 10)
	return out
}

// ServiceRegistration is the handle returned by Register.
type ServiceRegistration struct {
	registry *ServiceRegistry
	id       int64
	once     sync.Once
}

// ServiceID returns the registry assigned id.
func (s *ServiceRegistration) ServiceID() int64 {
	return s.id
}

// Unregister withdraws the service. Calling it again is a no-op.
func (s *ServiceRegistration) Unregister() error {
	var err error
	s.once.Do(func() {
		err = s.registry.Unregister(s.id)
	})
	return err
}

// SetProperties replaces the service properties.
func (s *ServiceRegistration) SetProperties(props dm.Properties) error {
	return s.registry.SetProperties(s.id, props)
}

// Replace swaps the registered object.
func (s *ServiceRegistration) Replace(service interface{}) error {
	return s.registry.Replace(s.id, service)
}
