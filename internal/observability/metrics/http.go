package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	turnRoutesTotal       *prometheus.CounterVec
	turnDuration          *prometheus.HistogramVec
	engineRunsTotal       *prometheus.CounterVec
	engineIterations      *prometheus.HistogramVec
	toolCallsTotal        *prometheus.CounterVec
	framesTotal           *prometheus.CounterVec
	persistConflictsTotal *prometheus.CounterVec
	llmTokensTotal        *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qubit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qubit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qubit",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	turnRoutesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qubit",
			Subsystem: "classifier",
			Name:      "routes_total",
			Help:      "Total routing decisions by selected engine.",
		},
		[]string{"service", "engine"},
	)
	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qubit",
			Subsystem: "turn",
			Name:      "duration_seconds",
			Help:      "End-to-end turn duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "engine"},
	)
	engineRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qubit",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total completed engine runs by finish reason.",
		},
		[]string{"service", "engine", "finish_reason"},
	)
	engineIterations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qubit",
			Subsystem: "engine",
			Name:      "iterations",
			Help:      "Distribution of engine iterations per run.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"service", "engine"},
	)
	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qubit",
			Subsystem: "engine",
			Name:      "tool_calls_total",
			Help:      "Total tool calls performed by the engines.",
		},
		[]string{"service", "tool", "status"},
	)
	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qubit",
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Total canonical frames written by kind.",
		},
		[]string{"service", "kind"},
	)
	persistConflictsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qubit",
			Subsystem: "persistence",
			Name:      "conflicts_total",
			Help:      "Total assistant message insert conflicts absorbed.",
		},
		[]string{"service"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qubit",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Approximate token usage by direction.",
		},
		[]string{"service", "direction", "model"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		turnRoutesTotal,
		turnDuration,
		engineRunsTotal,
		engineIterations,
		toolCallsTotal,
		framesTotal,
		persistConflictsTotal,
		llmTokensTotal,
	)

	return &HTTPServerMetrics{
		registry:              registry,
		requestTotal:          requestTotal,
		requestDuration:       requestDuration,
		requestInFlight:       requestInFlight,
		turnRoutesTotal:       turnRoutesTotal,
		turnDuration:          turnDuration,
		engineRunsTotal:       engineRunsTotal,
		engineIterations:      engineIterations,
		toolCallsTotal:        toolCallsTotal,
		framesTotal:           framesTotal,
		persistConflictsTotal: persistConflictsTotal,
		llmTokensTotal:        llmTokensTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/artifacts/"):
		return "/v1/artifacts/{artifact_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordRoute(service, engine string) {
	if engine == "" {
		engine = "unknown"
	}
	m.turnRoutesTotal.WithLabelValues(service, engine).Inc()
}

func (m *HTTPServerMetrics) RecordTurn(service, engine, finishReason string, iterations int, duration time.Duration) {
	if engine == "" {
		engine = "unknown"
	}
	if finishReason == "" {
		finishReason = "unknown"
	}
	m.engineRunsTotal.WithLabelValues(service, engine, finishReason).Inc()
	m.turnDuration.WithLabelValues(service, engine).Observe(duration.Seconds())
	if iterations > 0 {
		m.engineIterations.WithLabelValues(service, engine).Observe(float64(iterations))
	}
}

func (m *HTTPServerMetrics) RecordToolCall(service, tool, status string) {
	if tool == "" {
		tool = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.toolCallsTotal.WithLabelValues(service, tool, status).Inc()
}

func (m *HTTPServerMetrics) RecordFrame(service, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.framesTotal.WithLabelValues(service, kind).Inc()
}

func (m *HTTPServerMetrics) RecordPersistConflict(service string) {
	m.persistConflictsTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordTokenUsage(service, model string, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	if promptTokens > 0 {
		m.llmTokensTotal.WithLabelValues(service, "in", model).Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensTotal.WithLabelValues(service, "out", model).Add(float64(completionTokens))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
