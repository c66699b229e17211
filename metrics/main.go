// Package metrics exposes the coaching counters on a dedicated Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	OUTCOME_OK               = "ok"
	OUTCOME_SCHEMA_VIOLATION = "schema_violation"
	OUTCOME_ERROR            = "error"
)

type Metrics struct {
	Registry *prometheus.Registry

	nodeCalls       *prometheus.CounterVec
	coherenceChecks *prometheus.CounterVec
	escalations     prometheus.Counter
	planRevisions   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: reg,
		nodeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rungraph_node_calls_total",
			Help: "Completion-backed node invocations by node and outcome.",
		}, []string{"node", "outcome"}),
		coherenceChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rungraph_coherence_checks_total",
			Help: "Profile verifications by result.",
		}, []string{"ok"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rungraph_escalations_total",
			Help: "Negotiations that exceeded the coherence failure ceiling.",
		}),
		planRevisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rungraph_plan_revisions_total",
			Help: "Plans rejected by the user with feedback.",
		}),
	}
	reg.MustRegister(m.nodeCalls, m.coherenceChecks, m.escalations, m.planRevisions)
	return m
}

func (m *Metrics) NodeCall(node string, outcome string) {
	if m == nil {
		return
	}
	m.nodeCalls.WithLabelValues(node, outcome).Inc()
}

func (m *Metrics) CoherenceCheck(ok bool) {
	if m == nil {
		return
	}
	m.coherenceChecks.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (m *Metrics) Escalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *Metrics) PlanRevision() {
	if m == nil {
		return
	}
	m.planRevisions.Inc()
}
