package dm

// ComponentInfo is a point-in-time snapshot of a component for
// diagnostics.
type ComponentInfo struct {
	ID               string
	Name             string
	BundleID         int64
	State            State
	Active           bool
	NrOfTimesStarted int
	Faults           int
	PendingTasks     int
	Interfaces       []InterfaceInfo
	Dependencies     []DependencyInfo
}

// InterfaceInfo describes a provided interface.
type InterfaceInfo struct {
	Name       string
	Properties Properties
	Registered bool
}

// DependencyInfo describes a dependency and its tracked services.
type DependencyInfo struct {
	ServiceName   string
	Filter        string
	VersionRange  string
	Required      bool
	InstanceBound bool
	Available     bool
	Strategy      Strategy
	Count         int
}

// Info returns a snapshot of the component.
func (c *Component) Info() ComponentInfo {
	info := ComponentInfo{
		ID:           c.ID(),
		Name:         c.name,
		PendingTasks: c.executor.Pending(),
	}
	if c.ctx != nil {
		info.BundleID = c.ctx.BundleID()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	info.State = c.state
	info.Active = c.active
	info.NrOfTimesStarted = c.nrOfTimesStarted
	info.Faults = c.faults

	for _, iface := range c.interfaces {
		info.Interfaces = append(info.Interfaces, InterfaceInfo{
			Name:       iface.name,
			Properties: iface.properties.Clone(),
			Registered: iface.registration != nil,
		})
	}

	for _, d := range c.dependencies {
		filter := d.Filter()
		count := 0
		if store, ok := c.events[d]; ok {
			count = store.len()
		}
		info.Dependencies = append(info.Dependencies, DependencyInfo{
			ServiceName:   filter.Name,
			Filter:        filter.String(),
			VersionRange:  filter.VersionRange,
			Required:      d.IsRequired(),
			InstanceBound: d.IsInstanceBound(),
			Available:     d.IsAvailable(),
			Strategy:      d.Strategy(),
			Count:         count,
		})
	}
	return info
}

// Available reports whether the component reached the tracking state.
func (i ComponentInfo) Available() bool {
	return i.State == StateTrackingOptional
}
