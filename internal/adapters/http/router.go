package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
	"github.com/quibitai/qubit-orchestrator/internal/observability/metrics"
)

type RouterOptions struct {
	ServiceName           string
	RateLimitRPS          float64
	RateLimitBurst        int
	MaxConcurrentRequests int
	BackpressureWait      time.Duration
}

func (o RouterOptions) normalize() RouterOptions {
	out := o
	if out.ServiceName == "" {
		out.ServiceName = "api"
	}
	if out.BackpressureWait <= 0 {
		out.BackpressureWait = 2 * time.Second
	}
	return out
}

type Router struct {
	orchestrator ports.TurnOrchestrator
	sessions     ports.SessionResolver
	metrics      *metrics.HTTPServerMetrics
	logger       *slog.Logger
	opts         RouterOptions
}

func NewRouter(
	orchestrator ports.TurnOrchestrator,
	sessions ports.SessionResolver,
	serverMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
	opts RouterOptions,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		orchestrator: orchestrator,
		sessions:     sessions,
		metrics:      serverMetrics,
		logger:       logger,
		opts:         opts.normalize(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/chat/stream", rt.streamChat)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.opts.ServiceName, handler)
	}
	handler = backpressureMiddleware(handler, rt.opts.MaxConcurrentRequests, rt.opts.BackpressureWait)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	handler = accessLogMiddleware(handler, rt.logger)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type streamChatRequest struct {
	ChatID   string `json:"chatId"`
	TurnID   string `json:"turnId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Message  string `json:"message"`
	Stream   bool   `json:"stream,omitempty"`
}

func (rt *Router) streamChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req streamChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chatId is required"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	session, err := rt.sessions.Resolve(r.Context(), bearerToken(r))
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": "unauthorized"})
		return
	}

	useSSE := req.Stream || strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	if useSSE {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.Header().Set(dataStreamVersionHeader, dataStreamVersion)

	sink := rt.wrapSink(NewDataStreamSink(w, useSSE))

	start := time.Now()
	result, err := rt.orchestrator.StreamTurn(r.Context(), domain.TurnRequest{
		ChatID:   req.ChatID,
		TurnID:   req.TurnID,
		ClientID: req.ClientID,
		Message:  req.Message,
	}, session, sink)
	if err != nil {
		// Headers are already on the wire; close the stream in-protocol.
		rt.logger.Error("stream_turn_failed",
			"request_id", requestIDFromContext(r.Context()),
			"chat_id", req.ChatID,
			"error", err,
		)
		_ = sink.WriteFrame(domain.Frame{Kind: domain.FrameError, ErrorMessage: publicErrorMessage(err)})
		_ = sink.WriteFrame(domain.Frame{Kind: domain.FrameDone, FinishReason: "error"})
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordRoute(rt.opts.ServiceName, result.Engine)
		rt.metrics.RecordTurn(rt.opts.ServiceName, result.Engine, result.FinishReason, result.Iterations, time.Since(start))
		rt.metrics.RecordTokenUsage(rt.opts.ServiceName, "", result.Usage.PromptTokens, result.Usage.CompletionTokens)
	}
	rt.logger.Info("turn_completed",
		"request_id", requestIDFromContext(r.Context()),
		"chat_id", req.ChatID,
		"turn_id", result.TurnID,
		"engine", result.Engine,
		"finish_reason", result.FinishReason,
		"iterations", result.Iterations,
		"persisted", result.Persisted,
	)
}

func (rt *Router) wrapSink(inner ports.FrameSink) ports.FrameSink {
	if rt.metrics == nil {
		return inner
	}
	return &countingSink{inner: inner, metrics: rt.metrics, service: rt.opts.ServiceName}
}

type countingSink struct {
	inner   ports.FrameSink
	metrics *metrics.HTTPServerMetrics
	service string
}

func (s *countingSink) WriteFrame(frame domain.Frame) error {
	s.metrics.RecordFrame(s.service, string(frame.Kind))
	return s.inner.WriteFrame(frame)
}

// publicErrorMessage keeps internals out of the stream; the detailed error is
// in the server log keyed by request id.
func publicErrorMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid request"
	case domain.IsKind(err, domain.ErrUnauthorized):
		return "unauthorized"
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrModel):
		return "the service is temporarily unavailable"
	default:
		return "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
