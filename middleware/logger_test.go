package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"lexitrend-go/logcolors"
	"lexitrend-go/stats"
)

func TestGetStatusColor(t *testing.T) {
	tests := []struct {
		statusCode int
		expected   string
	}{
		{http.StatusOK, logcolors.Green},
		{http.StatusNoContent, logcolors.Green},
		{http.StatusNotModified, logcolors.Cyan},
		{http.StatusBadRequest, logcolors.Yellow},
		{http.StatusTooManyRequests, logcolors.Yellow},
		{http.StatusInternalServerError, logcolors.Red},
		{http.StatusBadGateway, logcolors.Red},
		{http.StatusContinue, logcolors.Reset},
	}

	for _, tt := range tests {
		if got := getStatusColor(tt.statusCode); got != tt.expected {
			t.Errorf("getStatusColor(%d) = %q, want %q", tt.statusCode, got, tt.expected)
		}
	}
}

func TestResponseRecorder(t *testing.T) {
	rec := NewResponseRecorder(httptest.NewRecorder())
	if rec.StatusCode != http.StatusOK {
		t.Errorf("Expected default status 200, got %d", rec.StatusCode)
	}

	rec.WriteHeader(http.StatusBadGateway)
	rec.Write([]byte(`{"error":`))
	rec.Write([]byte(`"upstream"}`))

	if rec.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", rec.StatusCode)
	}
	if rec.BodySize != len(`{"error":"upstream"}`) {
		t.Errorf("Expected body size %d, got %d", len(`{"error":"upstream"}`), rec.BodySize)
	}
}

func TestLoggingMiddlewareRecordsStats(t *testing.T) {
	s := stats.Get()
	beforeAnalyze := s.AnalyzeRequests.Load()
	before4xx := s.Status4xx.Load()

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"keyword cannot be empty"}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analyze?term=", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected the handler's status to pass through, got %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"keyword cannot be empty"}` {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
	if s.AnalyzeRequests.Load() != beforeAnalyze+1 {
		t.Errorf("Expected the analyze request to be counted")
	}
	if s.Status4xx.Load() != before4xx+1 {
		t.Errorf("Expected the 4xx status to be counted")
	}
}

func TestLoggingMiddlewareMethods(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(method, "/message", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected implicit 200, got %d", method, rec.Code)
		}
	}
}
