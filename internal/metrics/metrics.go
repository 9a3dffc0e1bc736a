package metrics

import (
	"strconv"

	"github.com/moolen/depman/internal/dm"
	"github.com/moolen/depman/internal/framework"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the dependency manager. It is a
// dm.Observer and records bundle health for the bundle manager.
type Metrics struct {
	ComponentState   *prometheus.GaugeVec   // 1 for the current state of each component
	TransitionsTotal *prometheus.CounterVec // State transitions by from/to state
	EventsTotal      *prometheus.CounterVec // Service events handled by kind
	FaultsTotal      *prometheus.CounterVec // Logic faults by component
	BundleHealth     *prometheus.GaugeVec   // 1 for the current health of each bundle
}

// NewMetrics creates and registers the depman collectors.
// The registerer parameter allows flexible registration (e.g., global registry, test registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	componentState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "depman_component_state",
		Help: "Current state of each component (1 for the active state label)",
	}, []string{"bundle", "component", "state"})

	transitionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depman_component_transitions_total",
		Help: "Total number of component state transitions",
	}, []string{"from", "to"})

	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depman_component_events_total",
		Help: "Total number of service events handled by components",
	}, []string{"kind"})

	faultsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depman_component_faults_total",
		Help: "Total number of logic faults detected in components",
	}, []string{"bundle", "component"})

	bundleHealth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "depman_bundle_health",
		Help: "Health of each managed bundle (1 for the current status label)",
	}, []string{"bundle", "status"})

	reg.MustRegister(componentState)
	reg.MustRegister(transitionsTotal)
	reg.MustRegister(eventsTotal)
	reg.MustRegister(faultsTotal)
	reg.MustRegister(bundleHealth)

	return &Metrics{
		ComponentState:   componentState,
		TransitionsTotal: transitionsTotal,
		EventsTotal:      eventsTotal,
		FaultsTotal:      faultsTotal,
		BundleHealth:     bundleHealth,
	}
}

// ComponentStateChanged implements dm.Observer.
func (m *Metrics) ComponentStateChanged(c *dm.Component, from, to dm.State) {
	bundle := bundleLabel(c)
	for _, s := range dm.AllStates() {
		value := 0.0
		if s == to {
			value = 1
		}
		m.ComponentState.WithLabelValues(bundle, c.Name(), s.String()).Set(value)
	}
	m.TransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
}

// ComponentEventHandled implements dm.Observer.
func (m *Metrics) ComponentEventHandled(_ *dm.Component, kind dm.EventKind) {
	m.EventsTotal.WithLabelValues(kind.String()).Inc()
}

// ComponentFault implements dm.Observer.
func (m *Metrics) ComponentFault(c *dm.Component, _ error) {
	m.FaultsTotal.WithLabelValues(bundleLabel(c), c.Name()).Inc()
}

// RecordBundleHealth sets the health gauge of a bundle.
func (m *Metrics) RecordBundleHealth(bundle string, status framework.HealthStatus) {
	for _, s := range []framework.HealthStatus{framework.Healthy, framework.Degraded, framework.Stopped} {
		value := 0.0
		if s == status {
			value = 1
		}
		m.BundleHealth.WithLabelValues(bundle, s.String()).Set(value)
	}
}

func bundleLabel(c *dm.Component) string {
	if ctx := c.BundleContext(); ctx != nil {
		return strconv.FormatInt(ctx.BundleID(), 10)
	}
	return ""
}
