// Package metrics exposes Prometheus collectors fed by workflow events and agent invocations.
package metrics

import (
	"net/http"
	"time"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements domain.EventSink and agent.Observer.
type Metrics struct {
	registry    *prometheus.Registry
	workflows   *prometheus.CounterVec
	phases      *prometheus.CounterVec
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	scores      *prometheus.HistogramVec
	refinements *prometheus.CounterVec
	hardStops   prometheus.Counter
	skipped     *prometheus.CounterVec
}

// New registers the forge collectors on a fresh registry, plus Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_workflows_total",
			Help: "Finished workflow runs by terminal status",
		}, []string{"status"}),
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_phases_completed_total",
			Help: "Completed workflow phases",
		}, []string{"phase"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_agent_invocations_total",
			Help: "Agent invocations by outcome",
		}, []string{"agent", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_agent_duration_seconds",
			Help:    "Agent invocation latency",
			Buckets: []float64{.05, .25, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"agent"}),
		scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_evaluation_score",
			Help:    "Critic scores per evaluated iteration",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}, []string{"agent"}),
		refinements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_refinements_total",
			Help: "Refinement iterations requested by the critic",
		}, []string{"agent"}),
		hardStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forge_hard_stops_total",
			Help: "Runs ended by a validation gate",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_agents_skipped_total",
			Help: "Optional agents skipped by their skip condition",
		}, []string{"agent"}),
	}
	m.registry.MustRegister(
		m.workflows, m.phases, m.invocations, m.duration, m.scores,
		m.refinements, m.hardStops, m.skipped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Publish implements domain.EventSink.
func (m *Metrics) Publish(e domain.Event) {
	switch e.Type {
	case domain.EventWorkflowCompleted:
		m.workflows.WithLabelValues(string(domain.StatusCompleted)).Inc()
	case domain.EventWorkflowFailed:
		m.workflows.WithLabelValues(string(domain.StatusFailed)).Inc()
	case domain.EventWorkflowCancelled:
		m.workflows.WithLabelValues(string(domain.StatusCancelled)).Inc()
	case domain.EventHardStop:
		m.workflows.WithLabelValues(string(domain.StatusHardStop)).Inc()
		m.hardStops.Inc()
	case domain.EventPhaseCompleted:
		m.phases.WithLabelValues(e.Message).Inc()
	case domain.EventAgentSkipped:
		m.skipped.WithLabelValues(e.AgentName).Inc()
	case domain.EventRefinementRequested:
		m.refinements.WithLabelValues(e.AgentName).Inc()
	case domain.EventEvaluated:
		if score, ok := e.Data["score"].(int); ok {
			m.scores.WithLabelValues(e.AgentName).Observe(float64(score))
		}
	}
}

// ObserveInvocation implements agent.Observer.
func (m *Metrics) ObserveInvocation(agentName string, status domain.SessionStatus, d time.Duration) {
	m.invocations.WithLabelValues(agentName, string(status)).Inc()
	m.duration.WithLabelValues(agentName).Observe(d.Seconds())
}
