package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/heroai/internal/transcript"
)

// startTimeout bounds microphone acquisition and the remote dial of a start
// request.
const startTimeout = 15 * time.Second

// Handler exposes a [Controller] over HTTP:
//
//   - POST /v1/live/start      start a session
//   - POST /v1/live/stop       stop the active session
//   - GET  /v1/live/status     current state and status
//   - GET  /v1/live/transcript message log
//   - GET  /v1/live/events     server-sent stream of [Update] values
type Handler struct {
	c *Controller
}

// NewHandler returns a handler for c.
func NewHandler(c *Controller) *Handler { return &Handler{c: c} }

// statusBody is the JSON body of the control endpoints.
type statusBody struct {
	SessionID string `json:"session_id,omitempty"`
	State     State  `json:"state"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) snapshot() statusBody {
	return statusBody{SessionID: h.c.SessionID(), State: h.c.State(), Status: h.c.Status()}
}

// Start handles POST /v1/live/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), startTimeout)
	defer cancel()

	err := h.c.Start(ctx)
	body := h.snapshot()
	if err == nil {
		writeJSON(w, http.StatusAccepted, body)
		return
	}

	body.Error = StatusFor(err)
	var te *TransportError
	switch {
	case errors.Is(err, ErrAlreadyActive):
		body.Error = "a session is already active"
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, ErrPermission):
		writeJSON(w, http.StatusForbidden, body)
	case errors.As(err, &te):
		writeJSON(w, http.StatusBadGateway, body)
	case errors.Is(err, ErrStopped):
		body.Error = "session stopped while connecting"
		writeJSON(w, http.StatusConflict, body)
	default:
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

// Stop handles POST /v1/live/stop. Teardown errors are logged by the
// controller; the session is gone either way.
func (h *Handler) Stop(w http.ResponseWriter, _ *http.Request) {
	_ = h.c.Stop()
	writeJSON(w, http.StatusOK, h.snapshot())
}

// Status handles GET /v1/live/status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

// Transcript handles GET /v1/live/transcript.
func (h *Handler) Transcript(w http.ResponseWriter, _ *http.Request) {
	msgs := h.c.Transcript()
	if msgs == nil {
		msgs = []transcript.Message{}
	}
	writeJSON(w, http.StatusOK, struct {
		Messages []transcript.Message `json:"messages"`
	}{msgs})
}

// Events handles GET /v1/live/events. The current status is sent first,
// followed by every update until the client disconnects.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	updates, cancel := h.c.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s := h.snapshot()
	if err := writeEvent(w, Update{SessionID: s.SessionID, State: s.State, Status: s.Status}); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, u); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Register adds the live control routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/live/start", h.Start)
	mux.HandleFunc("POST /v1/live/stop", h.Stop)
	mux.HandleFunc("GET /v1/live/status", h.Status)
	mux.HandleFunc("GET /v1/live/transcript", h.Transcript)
	mux.HandleFunc("GET /v1/live/events", h.Events)
}

func writeEvent(w http.ResponseWriter, u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
	return err
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
