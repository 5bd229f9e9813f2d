// Package metrics holds the Prometheus collectors shared by the client and
// the servers. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lightyear"

type Metrics struct {
	tokensIssued    prometheus.Counter
	issueErrors     prometheus.Counter
	sessionRequests *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	fetchOutcomes   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "tokens_issued_total",
			Help:      "Connect tokens written to clients.",
		}),
		issueErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "issue_errors_total",
			Help:      "Auth connections that ended without a token.",
		}),
		sessionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Session connection requests by result.",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Currently connected sessions.",
		}),
		fetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "token_fetches_total",
			Help:      "Token fetches by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "state_transitions_total",
			Help:      "Connection state transitions by target state.",
		}, []string{"to"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.tokensIssued,
			m.issueErrors,
			m.sessionRequests,
			m.activeSessions,
			m.fetchOutcomes,
			m.transitions,
		)
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) TokenIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

func (m *Metrics) IssueError() {
	if m == nil {
		return
	}
	m.issueErrors.Inc()
}

func (m *Metrics) SessionRequest(result string) {
	if m == nil {
		return
	}
	m.sessionRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) FetchOutcome(outcome string) {
	if m == nil {
		return
	}
	m.fetchOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}
