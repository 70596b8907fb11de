package proc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the media controller. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	dispatched     *prometheus.CounterVec
	pipelineErrors prometheus.Counter
	joins          prometheus.Counter
	queueLength    prometheus.Gauge
	phase          *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxbox_items_dispatched_total",
		Help: "Items handed to a pipeline, by kind",
	}, []string{"kind"})
	pipelineErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxbox_pipeline_errors_total",
		Help: "Pipelines that failed before or during playback",
	})
	joins := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxbox_joins_total",
		Help: "Completed voice channel joins",
	})
	queueLength := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voxbox_queue_length",
		Help: "Items waiting in the queue",
	})
	phase := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxbox_session_phase",
		Help: "1 for the current session phase",
	}, []string{"phase"})

	registry.MustRegister(dispatched, pipelineErrors, joins, queueLength, phase)

	return &Metrics{
		registry:       registry,
		dispatched:     dispatched,
		pipelineErrors: pipelineErrors,
		joins:          joins,
		queueLength:    queueLength,
		phase:          phase,
	}
}

func (m *Metrics) ItemDispatched(kind ItemKind) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) PipelineError() {
	if m == nil {
		return
	}
	m.pipelineErrors.Inc()
}

func (m *Metrics) JoinCompleted() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

// ObserveSession refreshes the session gauges.
func (m *Metrics) ObserveSession(p Phase, queued int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(queued))
	for _, ph := range []Phase{PhaseIdle, PhasePreparing, PhasePlaying, PhasePaused} {
		v := 0.0
		if ph == p {
			v = 1
		}
		m.phase.WithLabelValues(ph.String()).Set(v)
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
