package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	b, _ := io.ReadAll(rec.Body)
	return string(b)
}

func TestMetrics_nil_is_noop(t *testing.T) {
	var m *Metrics
	m.IncCommand("POST /pip/enable", "2xx")
	m.IncPIPStarts()
	m.IncPIPFailures()
	m.IncRebinds()
	m.IncStaleCompletions()
	m.IncSupersededOps()
	m.SetInPIP(true)
	m.SetPlayingStreams(3)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncPIPStarts()
	m.IncPIPFailures()
	m.IncStaleCompletions()
	m.IncStaleCompletions()
	m.SetInPIP(true)

	body := scrape(t, m, func() { m.SetPlayingStreams(2) })

	for _, want := range []string{
		"pip_sessions_started_total 1",
		"pip_failures_total 1",
		"pip_stale_completions_total 2",
		"pip_active 1",
		"pip_playing_streams 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Put("/streams/{stream_id}/view", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/streams/s1/view", nil))

	body := scrape(t, m, nil)
	want := `pip_bridge_commands_total{route="PUT /streams/{stream_id}/view",status="4xx"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("scrape missing %q in\n%s", want, body)
	}
}
