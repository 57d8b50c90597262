package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics code = %d, want 200", rec.Code)
	}
	return rec.Body.String()
}

func TestInstrumentRecordsStatusClass(t *testing.T) {
	h := Instrument("test-op", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
	want := `drivethru_requests_total{op="test-op",status="4xx"} 1`
	if out := scrape(t); !strings.Contains(out, want) {
		t.Fatalf("metrics output missing %q", want)
	}
}

func TestMetricsHandlerExposesRingMetrics(t *testing.T) {
	TokenHops.WithLabelValues("IDLE").Inc()
	RingPhase.WithLabelValues("Chef(2)").Set(3)

	out := scrape(t)
	for _, name := range []string{"drivethru_token_hops_total", "drivethru_ring_phase", "drivethru_uptime_seconds"} {
		if !strings.Contains(out, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		if _, err := NewLogger("debug", format); err != nil {
			t.Fatalf("NewLogger(debug, %s) = %v", format, err)
		}
	}
	if _, err := NewLogger("loud", "json"); err == nil {
		t.Fatalf("NewLogger(loud) = nil error, want error")
	}
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Fatalf("NewLogger(info, xml) = nil error, want error")
	}
}
