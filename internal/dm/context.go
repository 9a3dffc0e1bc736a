package dm

// BundleContext is what a component needs from the framework: a place to
// publish its interfaces and a way to follow the services it depends on.
type BundleContext interface {
	BundleID() int64
	RegisterService(name string, service interface{}, props Properties) (ServiceRegistration, error)
	TrackServices(filter ServiceFilter, listener TrackerListener) (Tracker, error)
}

// ServiceRegistration is the handle of a published service.
type ServiceRegistration interface {
	ServiceID() int64
	Unregister() error
}

// Tracker delivers matching service changes to a TrackerListener until it
// is closed. Closing reports every still tracked service as removed.
type Tracker interface {
	Close() error
}

// TrackerListener receives service changes from a Tracker.
type TrackerListener interface {
	ServiceAdded(ref ServiceReference)
	ServiceModified(ref ServiceReference)
	ServiceRemoved(ref ServiceReference)
	ServiceSwapped(old, replacement ServiceReference)
}
