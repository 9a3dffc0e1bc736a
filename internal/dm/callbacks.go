package dm

// ServiceSetter is called with the best matching service after every change
// of a dependency, or with nil when none is left.
type ServiceSetter interface {
	SetService(impl interface{}, ev *Event)
}

// ServiceAdder is called for each service that becomes usable by the
// component.
type ServiceAdder interface {
	AddService(impl interface{}, ev *Event)
}

// ServiceChanger is called when the properties of a used service change.
type ServiceChanger interface {
	ChangeService(impl interface{}, ev *Event)
}

// ServiceRemover is called for each service the component must stop using.
type ServiceRemover interface {
	RemoveService(impl interface{}, ev *Event)
}

// ServiceSwapper is called when a used service is replaced by another
// instance of the same registration.
type ServiceSwapper interface {
	SwapService(impl interface{}, old, replacement *Event)
}

// SetFunc adapts a function to ServiceSetter.
type SetFunc func(impl interface{}, ev *Event)

func (f SetFunc) SetService(impl interface{}, ev *Event) { f(impl, ev) }

// AddFunc adapts a function to ServiceAdder.
type AddFunc func(impl interface{}, ev *Event)

func (f AddFunc) AddService(impl interface{}, ev *Event) { f(impl, ev) }

// ChangeFunc adapts a function to ServiceChanger.
type ChangeFunc func(impl interface{}, ev *Event)

func (f ChangeFunc) ChangeService(impl interface{}, ev *Event) { f(impl, ev) }

// RemoveFunc adapts a function to ServiceRemover.
type RemoveFunc func(impl interface{}, ev *Event)

func (f RemoveFunc) RemoveService(impl interface{}, ev *Event) { f(impl, ev) }

// SwapFunc adapts a function to ServiceSwapper.
type SwapFunc func(impl interface{}, old, replacement *Event)

func (f SwapFunc) SwapService(impl interface{}, old, replacement *Event) { f(impl, old, replacement) }

// DependencyCallbacks groups the optional callbacks of a ServiceDependency.
type DependencyCallbacks struct {
	Set    ServiceSetter
	Add    ServiceAdder
	Change ServiceChanger
	Remove ServiceRemover
	Swap   ServiceSwapper
}

// LifecycleFunc is a component lifecycle callback. A returned error is
// logged and reported to observers; the transition still completes.
type LifecycleFunc func(impl interface{}) error

// LifecycleCallbacks are invoked on state transitions:
// Init when instantiated, Start when all required services are there,
// Stop before losing them and Deinit before de-instantiation.
type LifecycleCallbacks struct {
	Init   LifecycleFunc
	Start  LifecycleFunc
	Stop   LifecycleFunc
	Deinit LifecycleFunc
}
