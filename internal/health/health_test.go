package health

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestReadiness(t *testing.T) {
	s := New(0, nil)
	h := s.Handler()

	if code, _ := get(t, h, "/healthz"); code != http.StatusOK {
		t.Fatalf("/healthz = %d, want 200", code)
	}
	if code, body := get(t, h, "/readyz"); code != http.StatusServiceUnavailable || !strings.Contains(body, "not_ready") {
		t.Fatalf("/readyz = %d %q, want 503 not_ready", code, body)
	}

	s.SetReady(true)
	if code, _ := get(t, h, "/readyz"); code != http.StatusOK {
		t.Fatalf("/readyz = %d, want 200 once ready", code)
	}
	if !s.Ready() {
		t.Fatal("Ready() = false after SetReady(true)")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "parlance_utterances_total 3\n")
	})

	if code, _ := get(t, New(0, nil).Handler(), "/metrics"); code != http.StatusNotFound {
		t.Fatalf("/metrics without handler = %d, want 404", code)
	}
	code, body := get(t, New(0, metrics).Handler(), "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "parlance_utterances_total") {
		t.Fatalf("/metrics = %d %q", code, body)
	}
}
