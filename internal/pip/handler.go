package pip

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pip-controller/internal/surface"
)

// Handler exposes the controller's command surface over HTTP using go-chi.
// Commands return immediately; their asynchronous outcome arrives on /events.
type Handler struct {
	ctrl *Controller
	hub  *Hub
	log  *slog.Logger
}

// NewHandler returns a Handler for ctrl. hub may be nil to disable /events.
func NewHandler(ctrl *Controller, hub *Hub, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ctrl: ctrl, hub: hub, log: log}
}

// Routes mounts every command on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/pip", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/enable", h.EnablePIP)
		r.Post("/stop", h.StopPIP)
		r.Post("/background", h.EnterBackground)
		r.Put("/source", h.UpdateSource)
		r.Put("/auto", h.EnableAutoPIP)
		r.Put("/aspect", h.UpdateAspect)
		r.Put("/hardware-decoder", h.EnableHardwareDecoder)
		r.Put("/custom-render", h.EnableCustomRender)
	})
	r.Route("/streams/{stream_id}", func(r chi.Router) {
		r.Post("/play", h.StartPlaying)
		r.Put("/view", h.UpdateView)
		r.Delete("/", h.StopPlaying)
	})
	if h.hub != nil {
		r.Get("/events", h.Events)
	}
}

type streamRequest struct {
	StreamID StreamID `json:"stream_id"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

type viewRequest struct {
	View    surface.ViewHandle `json:"view"`
	FitMode int                `json:"fit_mode"`
}

type result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type sessionResponse struct {
	InPIP bool   `json:"in_pip"`
	State string `json:"state"`
	Session
}

// GetSession handles GET /pip.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s := h.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, sessionResponse{
		InPIP:   s.State == StateActive,
		State:   s.State.String(),
		Session: s,
	})
}

// EnablePIP handles POST /pip/enable. Body: { "stream_id": "s1" }.
func (h *Handler) EnablePIP(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.reply(w, h.ctrl.EnablePIP(req.StreamID))
}

// StopPIP handles POST /pip/stop.
func (h *Handler) StopPIP(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.ctrl.StopPIP())
}

// EnterBackground handles POST /pip/background.
func (h *Handler) EnterBackground(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.ctrl.EnterBackground())
}

// UpdateSource handles PUT /pip/source. Body: { "stream_id": "s2" }.
func (h *Handler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.reply(w, h.ctrl.UpdatePIPSource(req.StreamID))
}

// EnableAutoPIP handles PUT /pip/auto. Body: { "enabled": true }.
func (h *Handler) EnableAutoPIP(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.ctrl.EnableAutoPIP(req.Enabled)
	h.reply(w, nil)
}

// UpdateAspect handles PUT /pip/aspect. Body: { "width": 16, "height": 9 }.
func (h *Handler) UpdateAspect(w http.ResponseWriter, r *http.Request) {
	var req AspectRatio
	if !h.decode(w, r, &req) {
		return
	}
	h.reply(w, h.ctrl.UpdatePIPAspectSize(req.Width, req.Height))
}

// EnableHardwareDecoder handles PUT /pip/hardware-decoder. Body: { "enabled": true }.
func (h *Handler) EnableHardwareDecoder(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.ctrl.EnableHardwareDecoder(req.Enabled)
	h.reply(w, nil)
}

// EnableCustomRender handles PUT /pip/custom-render. Body: { "enabled": true }.
func (h *Handler) EnableCustomRender(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.ctrl.EnableCustomVideoRender(req.Enabled)
	h.reply(w, nil)
}

// StartPlaying handles POST /streams/{stream_id}/play.
func (h *Handler) StartPlaying(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.ctrl.StartPlayingStream(StreamID(chi.URLParam(r, "stream_id"))))
}

// UpdateView handles PUT /streams/{stream_id}/view. Body: { "view": "v1", "fit_mode": 0 }.
func (h *Handler) UpdateView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.ctrl.UpdatePlayingStreamView(StreamID(chi.URLParam(r, "stream_id")), req.View, surface.ParseFitMode(req.FitMode))
	h.reply(w, nil)
}

// StopPlaying handles DELETE /streams/{stream_id}.
func (h *Handler) StopPlaying(w http.ResponseWriter, r *http.Request) {
	h.ctrl.StopPlayingStream(StreamID(chi.URLParam(r, "stream_id")))
	h.reply(w, nil)
}

// Events handles GET /events, streaming notifications as server-sent events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}

	events, unsubscribe := h.hub.Subscribe(32)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(e)
			if err != nil {
				h.log.Error("encode event failed", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Debug("invalid command body", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, result{Error: "invalid body"})
		return false
	}
	return true
}

// reply maps a command outcome to a status code; the body always carries the
// bridge's boolean result.
func (h *Handler) reply(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result{OK: true})
	case errors.Is(err, ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, result{Error: err.Error()})
	case errors.Is(err, ErrStopInProgress):
		writeJSON(w, http.StatusConflict, result{Error: err.Error()})
	case errors.Is(err, ErrUnsupportedPlatform):
		writeJSON(w, http.StatusNotImplemented, result{Error: err.Error()})
	case errors.Is(err, ErrControllerClosed):
		writeJSON(w, http.StatusServiceUnavailable, result{Error: err.Error()})
	default:
		h.log.Error("command failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, result{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
