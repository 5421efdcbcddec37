package pip

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (*chi.Mux, *testEnv, *Hub) {
	t.Helper()
	env := newTestEnv(t, Options{})
	hub := NewHub(discardLogger())
	h := NewHandler(env.ctrl, hub, discardLogger())
	r := chi.NewRouter()
	h.Routes(r)
	return r, env, hub
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var res result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res
}

func TestHandler_EnablePIP(t *testing.T) {
	r, env, _ := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/pip/enable", map[string]string{"stream_id": "s1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if res := decodeResult(t, rec); !res.OK {
		t.Errorf("expected ok, got %+v", res)
	}
	if env.engine.count() != 1 {
		t.Errorf("expected a bind, got %d calls", env.engine.count())
	}
}

func TestHandler_EnablePIP_errors(t *testing.T) {
	r, env, _ := newTestRouter(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad json", "not json", http.StatusBadRequest},
		{"empty id", map[string]string{"stream_id": ""}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, "/pip/enable", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if res := decodeResult(t, rec); res.OK || res.Error == "" {
				t.Errorf("expected an error result, got %+v", res)
			}
		})
	}

	env.platform.mu.Lock()
	env.platform.unsupported = true
	env.platform.mu.Unlock()
	if rec := do(t, r, http.MethodPost, "/pip/enable", map[string]string{"stream_id": "s1"}); rec.Code != http.StatusNotImplemented {
		t.Errorf("unsupported platform: expected 501, got %d", rec.Code)
	}
}

func TestHandler_EnablePIP_conflict_while_stopping(t *testing.T) {
	r, env, _ := newTestRouter(t)
	env.activate(t, "s1")

	if rec := do(t, r, http.MethodPost, "/pip/stop", nil); rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/pip/enable", map[string]string{"stream_id": "s2"}); rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_GetSession(t *testing.T) {
	r, env, _ := newTestRouter(t)
	env.activate(t, "s1")

	rec := do(t, r, http.MethodGet, "/pip", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.InPIP || got.State != "active" || got.ActiveStreamID != "s1" {
		t.Errorf("unexpected session %+v", got)
	}
}

func TestHandler_config_commands(t *testing.T) {
	r, env, _ := newTestRouter(t)

	steps := []struct {
		method, path string
		body         any
		want         int
	}{
		{http.MethodPut, "/pip/source", map[string]string{"stream_id": "s2"}, http.StatusOK},
		{http.MethodPut, "/pip/auto", map[string]bool{"enabled": true}, http.StatusOK},
		{http.MethodPut, "/pip/aspect", map[string]float64{"width": 4, "height": 3}, http.StatusOK},
		{http.MethodPut, "/pip/aspect", map[string]float64{"width": -1, "height": 9}, http.StatusBadRequest},
		{http.MethodPut, "/pip/hardware-decoder", map[string]bool{"enabled": true}, http.StatusOK},
		{http.MethodPut, "/pip/custom-render", map[string]bool{"enabled": true}, http.StatusOK},
	}
	for _, s := range steps {
		if rec := do(t, r, s.method, s.path, s.body); rec.Code != s.want {
			t.Errorf("%s %s: expected %d, got %d", s.method, s.path, s.want, rec.Code)
		}
	}

	got := env.ctrl.Snapshot()
	want := Session{
		State:               StateIdle,
		Source:              "s2",
		AutoPIPEnabled:      true,
		AspectRatio:         AspectRatio{Width: 4, Height: 3},
		CustomRenderEnabled: true,
	}
	if got != want {
		t.Errorf("session = %+v, want %+v", got, want)
	}

	if rec := do(t, r, http.MethodPost, "/pip/background", nil); rec.Code != http.StatusOK {
		t.Fatalf("background: expected 200, got %d", rec.Code)
	}
	if call := env.engine.call(t, 0); call.stream != "s2" || call.mode != RenderCustom {
		t.Errorf("expected auto pip to bind s2 custom, got %s %s", call.stream, call.mode)
	}
}

func TestHandler_stream_commands(t *testing.T) {
	r, env, _ := newTestRouter(t)

	if rec := do(t, r, http.MethodPost, "/streams/s1/play", nil); rec.Code != http.StatusOK {
		t.Fatalf("play: expected 200, got %d", rec.Code)
	}
	env.engine.call(t, 0).complete(t, nil)

	rec := do(t, r, http.MethodPut, "/streams/s1/view", map[string]any{"view": "v7", "fit_mode": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("view: expected 200, got %d", rec.Code)
	}
	s, ok := env.ctrl.PlaybackSurface("s1")
	if !ok {
		t.Fatal("expected a playback binding")
	}
	if view, fit := s.View(); view != "v7" || fit.String() != "scale-to-fill" {
		t.Errorf("unexpected view %q %s", view, fit)
	}

	if rec := do(t, r, http.MethodDelete, "/streams/s1", nil); rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}
	if len(env.ctrl.PlayingStreams()) != 0 {
		t.Error("binding should be removed")
	}
}

func TestHandler_closed_controller(t *testing.T) {
	r, env, _ := newTestRouter(t)
	env.ctrl.Close()

	if rec := do(t, r, http.MethodPost, "/pip/enable", map[string]string{"stream_id": "s1"}); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestHandler_Events(t *testing.T) {
	r, env, hub := newTestRouter(t)
	env.ctrl.loop.Do(func() { env.ctrl.notifier = hub })
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := env.ctrl.EnablePIP("s1"); err != nil {
		t.Fatalf("EnablePIP: %v", err)
	}

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) != 2 || lines[0] != "event: pip_starting" {
		t.Fatalf("unexpected frame %q", lines)
	}

	var e Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &e); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if e.Kind != EventPIPStarting || e.StreamID != "s1" {
		t.Errorf("unexpected event %+v", e)
	}
}
