package httpadapter

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddlewarePassthroughWhenDisabled(t *testing.T) {
	handler := rateLimitMiddleware(okHandler(), 0, 0)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRateLimitMiddlewareRejectsBurstOverflow(t *testing.T) {
	handler := rateLimitMiddleware(okHandler(), 1, 2)

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		statuses = append(statuses, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			retryAfter := rec.Header().Get("Retry-After")
			if retryAfter == "" {
				t.Fatal("429 response is missing Retry-After")
			}
			if secs, err := strconv.Atoi(retryAfter); err != nil || secs < 1 {
				t.Fatalf("Retry-After must be a positive integer, got %q", retryAfter)
			}
		}
	}

	okCount, rejected := 0, 0
	for _, status := range statuses {
		switch status {
		case http.StatusOK:
			okCount++
		case http.StatusTooManyRequests:
			rejected++
		default:
			t.Fatalf("unexpected status %d", status)
		}
	}
	if okCount != 2 || rejected != 2 {
		t.Fatalf("expected burst of 2 then rejections, got statuses %v", statuses)
	}
}

func TestBackpressureMiddlewarePassthroughWhenDisabled(t *testing.T) {
	handler := backpressureMiddleware(okHandler(), 0, time.Millisecond)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBackpressureMiddlewareReleasesSlots(t *testing.T) {
	handler := backpressureMiddleware(okHandler(), 1, 100*time.Millisecond)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("sequential request %d blocked: %d", i, rec.Code)
		}
	}
}
