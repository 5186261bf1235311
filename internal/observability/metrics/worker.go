package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	turnProcessTotal    *prometheus.CounterVec
	turnProcessDuration *prometheus.HistogramVec
	turnProcessInFlight prometheus.Gauge
	entitiesTotal       *prometheus.CounterVec
	summariesTotal      *prometheus.CounterVec
	queueLag            *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	turnProcessTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qubit",
			Subsystem: "worker",
			Name:      "turn_process_total",
			Help:      "Total processed turn events by status.",
		},
		[]string{"service", "status"},
	)
	turnProcessDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qubit",
			Subsystem: "worker",
			Name:      "turn_process_duration_seconds",
			Help:      "Turn event processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	turnProcessInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qubit",
			Subsystem: "worker",
			Name:      "turn_process_in_flight",
			Help:      "Number of in-flight turn event handlers.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	entitiesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qubit",
			Subsystem: "worker",
			Name:      "entities_extracted_total",
			Help:      "Total entities extracted from user messages by type.",
		},
		[]string{"service", "type"},
	)
	summariesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qubit",
			Subsystem: "worker",
			Name:      "summaries_total",
			Help:      "Total conversation summaries written by source.",
		},
		[]string{"service", "source"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qubit",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between turn completion and worker pickup.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(turnProcessTotal, turnProcessDuration, turnProcessInFlight, entitiesTotal, summariesTotal, queueLag)

	return &WorkerMetrics{
		registry:            registry,
		turnProcessTotal:    turnProcessTotal,
		turnProcessDuration: turnProcessDuration,
		turnProcessInFlight: turnProcessInFlight,
		entitiesTotal:       entitiesTotal,
		summariesTotal:      summariesTotal,
		queueLag:            queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartTurnEvent() {
	m.turnProcessInFlight.Inc()
}

func (m *WorkerMetrics) FinishTurnEvent(service string, duration time.Duration, err error) {
	m.turnProcessInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.turnProcessTotal.WithLabelValues(service, status).Inc()
	m.turnProcessDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) RecordEntity(service, entityType string) {
	if entityType == "" {
		entityType = "unknown"
	}
	m.entitiesTotal.WithLabelValues(service, entityType).Inc()
}

func (m *WorkerMetrics) RecordSummary(service, source string) {
	if source == "" {
		source = "unknown"
	}
	m.summariesTotal.WithLabelValues(service, source).Inc()
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
