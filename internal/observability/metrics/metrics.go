package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clinicadmin"

// Metrics exposes counters/histograms for HTTP traffic and the listing
// workflows. A nil *Metrics is valid and records nothing.
type Metrics struct {
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	wizardSteps    *prometheus.CounterVec
	chatCalls      *prometheus.CounterVec
	consultations  *prometheus.CounterVec
	reservations   *prometheus.CounterVec
	outboxDelivery *prometheus.CounterVec
}

// New registers the collectors with reg (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern and status code",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		wizardSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wizard",
			Name:      "steps_total",
			Help:      "Upload wizard step submissions",
		}, []string{"step", "status"}),
		chatCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "api_calls_total",
			Help:      "Calls to the hosted chat platform API",
		}, []string{"op", "status"}),
		consultations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consultation",
			Name:      "submitted_total",
			Help:      "Patient consultation submissions",
		}, []string{"preferred_contact"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservation",
			Name:      "created_total",
			Help:      "Patient reservation requests",
		}, []string{"status"}),
		outboxDelivery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox delivery attempts by event type",
		}, []string{"type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.httpRequests, m.httpLatency, m.wizardSteps, m.chatCalls,
		m.consultations, m.reservations, m.outboxDelivery)
	return m
}

func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) ObserveWizardStep(step int, err error) {
	if m == nil {
		return
	}
	m.wizardSteps.WithLabelValues(strconv.Itoa(step), outcome(err)).Inc()
}

func (m *Metrics) ObserveChatCall(op string, err error) {
	if m == nil {
		return
	}
	m.chatCalls.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) ObserveConsultation(preferredContact string) {
	if m == nil {
		return
	}
	m.consultations.WithLabelValues(preferredContact).Inc()
}

func (m *Metrics) ObserveReservation(status string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveOutboxDelivery(eventType string, err error) {
	if m == nil {
		return
	}
	m.outboxDelivery.WithLabelValues(eventType, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
