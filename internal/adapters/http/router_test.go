package httpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

type fakeOrchestrator struct {
	result *domain.TurnResult
	err    error
	frames []domain.Frame
}

func (f *fakeOrchestrator) StreamTurn(_ context.Context, req domain.TurnRequest, _ domain.Session, sink ports.FrameSink) (*domain.TurnResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, frame := range f.frames {
		if err := sink.WriteFrame(frame); err != nil {
			return nil, err
		}
	}
	result := f.result
	if result == nil {
		result = &domain.TurnResult{TurnID: req.TurnID, Engine: "flat_tool_loop", FinishReason: "stop"}
	}
	return result, nil
}

func newTestRouter(orch ports.TurnOrchestrator, sessions ports.SessionResolver, opts RouterOptions) http.Handler {
	if sessions == nil {
		sessions = NewStaticSessionResolver("", true)
	}
	return NewRouter(orch, sessions, nil, slog.New(slog.DiscardHandler), opts).Handler()
}

func postStream(handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStreamChatHappyPath(t *testing.T) {
	orch := &fakeOrchestrator{
		frames: []domain.Frame{
			{Kind: domain.FrameTextDelta, Text: "hello"},
			{Kind: domain.FrameDone, FinishReason: "stop"},
		},
	}
	handler := newTestRouter(orch, nil, RouterOptions{})

	rec := postStream(handler, `{"chatId":"chat-1","message":"hi"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Data-Stream-Version"); got != "v1" {
		t.Fatalf("missing stream version header, got %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "0:\"hello\"\n") {
		t.Fatalf("text delta missing from stream: %q", body)
	}
	if !strings.Contains(body, "d:{") {
		t.Fatalf("terminal frame missing from stream: %q", body)
	}
}

func TestStreamChatSelectsSSEFromAcceptHeader(t *testing.T) {
	orch := &fakeOrchestrator{frames: []domain.Frame{{Kind: domain.FrameDone, FinishReason: "stop"}}}
	handler := newTestRouter(orch, nil, RouterOptions{})

	rec := postStream(handler, `{"chatId":"chat-1","message":"hi"}`, map[string]string{
		"Accept": "text/event-stream",
	})
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", got)
	}
	if !strings.HasPrefix(rec.Body.String(), "data: ") {
		t.Fatalf("expected SSE framing, got %q", rec.Body.String())
	}
}

func TestStreamChatValidation(t *testing.T) {
	handler := newTestRouter(&fakeOrchestrator{}, nil, RouterOptions{})

	cases := map[string]struct {
		body string
		want int
	}{
		"invalid json":    {body: "{", want: http.StatusBadRequest},
		"missing chat id": {body: `{"message":"hi"}`, want: http.StatusBadRequest},
		"missing message": {body: `{"chatId":"chat-1"}`, want: http.StatusBadRequest},
	}
	for name, tc := range cases {
		rec := postStream(handler, tc.body, nil)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", name, tc.want, rec.Code)
		}
	}
}

func TestStreamChatRejectsNonPost(t *testing.T) {
	handler := newTestRouter(&fakeOrchestrator{}, nil, RouterOptions{})
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/stream", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestStreamChatUnauthorizedWithoutAnonymousFallback(t *testing.T) {
	handler := newTestRouter(&fakeOrchestrator{}, NewStaticSessionResolver("secret", false), RouterOptions{})

	rec := postStream(handler, `{"chatId":"chat-1","message":"hi"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = postStream(handler, `{"chatId":"chat-1","message":"hi"}`, map[string]string{
		"Authorization": "Bearer secret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid key, got %d", rec.Code)
	}
}

func TestStreamChatFailureClosesStreamInProtocol(t *testing.T) {
	orch := &fakeOrchestrator{err: domain.WrapError(domain.ErrTemporary, "stream turn", fmt.Errorf("backend down"))}
	handler := newTestRouter(orch, nil, RouterOptions{})

	rec := postStream(handler, `{"chatId":"chat-1","message":"hi"}`, nil)
	// Streaming headers are committed before the turn runs; failures arrive
	// as protocol frames, not status codes.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `3:"the service is temporarily unavailable"`) {
		t.Fatalf("expected sanitized error frame, got %q", body)
	}
	if strings.Contains(body, "backend down") {
		t.Fatalf("internal error detail leaked to the stream: %q", body)
	}
	if !strings.Contains(body, `"finishReason":"error"`) {
		t.Fatalf("expected terminal error frame, got %q", body)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(&fakeOrchestrator{}, nil, RouterOptions{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected healthz body: %q", rec.Body.String())
	}
}

func TestRouterBackpressureRejectsWhenSaturated(t *testing.T) {
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	})
	handler := backpressureMiddleware(slow, 1, 50*time.Millisecond)

	started := make(chan struct{})
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		close(started)
		handler.ServeHTTP(rec, req)
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	close(release)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 under saturation, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "overloaded") {
		t.Fatalf("unexpected overload body: %q", rec.Body.String())
	}
}
