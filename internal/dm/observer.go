package dm

// Observer is notified from inside a component's executor. Implementations
// must not block and must not wait for the component.
type Observer interface {
	ComponentStateChanged(c *Component, from, to State)
	ComponentEventHandled(c *Component, kind EventKind)
	ComponentFault(c *Component, err error)
}
