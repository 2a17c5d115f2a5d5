package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agenthub"

// Metrics holds the Prometheus collectors for the hub. All recording methods
// are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	MessagesPublished  *prometheus.CounterVec
	MessagesUnresolved prometheus.Counter
	MessagesDelivered  *prometheus.CounterVec

	GovernanceDecisions *prometheus.CounterVec
	AuthzDenied         *prometheus.CounterVec
	Promotions          prometheus.Counter

	HandlerDuration *prometheus.HistogramVec
	HandlerFailures *prometheus.CounterVec
	InboxDepth      *prometheus.GaugeVec
	AgentsLive      prometheus.Gauge

	MemoryWrites *prometheus.CounterVec
}

// New creates a Metrics set on its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_published_total",
				Help:      "Envelopes accepted by the router",
			},
			[]string{"type"},
		),
		MessagesUnresolved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_unresolved_total",
			Help:      "Envelopes whose target could not be resolved",
		}),
		MessagesDelivered: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_delivered_total",
				Help:      "Envelopes enqueued into an agent inbox",
			},
			[]string{"agent_id"},
		),

		GovernanceDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "governance_decisions_total",
				Help:      "Policy engine verdicts",
			},
			[]string{"decision", "reason"}, // decision: allowed, blocked
		),
		AuthzDenied: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorization_denied_total",
				Help:      "Broadcasts rejected by capability or hierarchy checks",
			},
			[]string{"action", "reason"},
		),
		Promotions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_promotions_total",
			Help:      "Tool agents promoted to orchestrator-lite",
		}),

		HandlerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Time spent in agent message handlers",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		HandlerFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_failures_total",
				Help:      "Message handlers that returned an error or panicked",
			},
			[]string{"agent_id"},
		),
		InboxDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inbox_depth",
				Help:      "Queued envelopes per agent",
			},
			[]string{"agent_id"},
		),
		AgentsLive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_live",
			Help:      "Registered agent units",
		}),

		MemoryWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_writes_total",
				Help:      "Durable memory writes",
			},
			[]string{"backend", "result"}, // result: ok, error, dropped
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) MessagePublished(msgType string) {
	if m == nil {
		return
	}
	m.MessagesPublished.WithLabelValues(msgType).Inc()
}

func (m *Metrics) MessageUnresolved() {
	if m == nil {
		return
	}
	m.MessagesUnresolved.Inc()
}

func (m *Metrics) MessageDelivered(agentID string) {
	if m == nil {
		return
	}
	m.MessagesDelivered.WithLabelValues(agentID).Inc()
}

// GovernanceDecision records a verdict. An empty reason means allowed.
func (m *Metrics) GovernanceDecision(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		m.GovernanceDecisions.WithLabelValues("allowed", "none").Inc()
		return
	}
	m.GovernanceDecisions.WithLabelValues("blocked", reason).Inc()
}

func (m *Metrics) AuthorizationDenied(action, reason string) {
	if m == nil {
		return
	}
	m.AuthzDenied.WithLabelValues(action, reason).Inc()
}

func (m *Metrics) Promoted() {
	if m == nil {
		return
	}
	m.Promotions.Inc()
}

func (m *Metrics) ObserveHandler(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) HandlerFailed(agentID string) {
	if m == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(agentID).Inc()
}

func (m *Metrics) SetInboxDepth(agentID string, depth int) {
	if m == nil {
		return
	}
	m.InboxDepth.WithLabelValues(agentID).Set(float64(depth))
}

// ForgetAgent drops per-agent series for a disposed agent.
func (m *Metrics) ForgetAgent(agentID string) {
	if m == nil {
		return
	}
	m.InboxDepth.DeleteLabelValues(agentID)
	m.MessagesDelivered.DeleteLabelValues(agentID)
	m.HandlerFailures.DeleteLabelValues(agentID)
}

func (m *Metrics) SetAgentsLive(n int) {
	if m == nil {
		return
	}
	m.AgentsLive.Set(float64(n))
}

func (m *Metrics) MemoryWrite(backend, result string) {
	if m == nil {
		return
	}
	m.MemoryWrites.WithLabelValues(backend, result).Inc()
}
