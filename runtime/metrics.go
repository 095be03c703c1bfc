package runtime

import "github.com/prometheus/client_golang/prometheus"

// serviceMetrics are the prometheus series exported for one Service.
// Grounded on the teacher's use of client_golang in cmd/pmomusic (the
// process exposes /metrics); the runtime package adds the action and
// eventing series the teacher's metrics never cover since it has no
// GENA support.
type serviceMetrics struct {
	actionsTotal         *prometheus.CounterVec
	actionDuration       *prometheus.HistogramVec
	subscriptionsActive  prometheus.Gauge
	notifiesQueued       prometheus.Counter
}

// NewMetrics registers and returns a serviceMetrics bound to reg for the
// named service. Call once per Service before attaching it to a Host.
func NewMetrics(reg prometheus.Registerer, serviceID string) *serviceMetrics {
	m := &serviceMetrics{
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "halyard",
			Subsystem:   "runtime",
			Name:        "actions_total",
			Help:        "Number of SOAP control actions dispatched, by action name.",
			ConstLabels: prometheus.Labels{"service": serviceID},
		}, []string{"action"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "halyard",
			Subsystem:   "runtime",
			Name:        "action_duration_seconds",
			Help:        "SOAP control action handler latency, by action name.",
			ConstLabels: prometheus.Labels{"service": serviceID},
		}, []string{"action"}),
		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "halyard",
			Subsystem:   "runtime",
			Name:        "subscriptions_active",
			Help:        "Number of live GENA subscriptions.",
			ConstLabels: prometheus.Labels{"service": serviceID},
		}),
		notifiesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "halyard",
			Subsystem:   "runtime",
			Name:        "notifies_queued_total",
			Help:        "Number of state-variable changes queued for NOTIFY delivery.",
			ConstLabels: prometheus.Labels{"service": serviceID},
		}),
	}
	reg.MustRegister(m.actionsTotal, m.actionDuration, m.subscriptionsActive, m.notifiesQueued)
	return m
}

// WithMetrics attaches m to s; every dispatched action and queued change
// is subsequently recorded against it.
func (s *Service) WithMetrics(m *serviceMetrics) *Service {
	s.metrics = m
	return s
}
