package notify

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are shared by all notifiers of a database and labelled by notifier
// name. A nil *Metrics records nothing.
type Metrics struct {
	listeners      *prometheus.GaugeVec
	postedTotal    *prometheus.CounterVec
	deliveredTotal *prometheus.CounterVec
	panicsTotal    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is not
// nil. Collectors already registered under the same names are reused, so several
// databases may share one registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "litesync"
	}
	labels := []string{"notifier"}
	m := &Metrics{
		listeners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "listeners",
			Help:      "Number of registered change listeners",
		}, labels),
		postedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "changes_posted_total",
			Help:      "Total number of changes fanned out to listeners",
		}, labels),
		deliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Total number of listener invocations",
		}, labels),
		panicsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "listener_panics_total",
			Help:      "Total number of listener invocations that panicked",
		}, labels),
	}
	if reg != nil {
		m.listeners = register(reg, m.listeners)
		m.postedTotal = register(reg, m.postedTotal)
		m.deliveredTotal = register(reg, m.deliveredTotal)
		m.panicsTotal = register(reg, m.panicsTotal)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) listenerAdded(name string) {
	if m == nil {
		return
	}
	m.listeners.WithLabelValues(name).Inc()
}

func (m *Metrics) listenerRemoved(name string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.listeners.WithLabelValues(name).Sub(float64(n))
}

func (m *Metrics) posted(name string) {
	if m == nil {
		return
	}
	m.postedTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) delivered(name string) {
	if m == nil {
		return
	}
	m.deliveredTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) panicked(name string) {
	if m == nil {
		return
	}
	m.panicsTotal.WithLabelValues(name).Inc()
}
