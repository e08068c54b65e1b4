package assist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/heroai/internal/resilience"
	tool "github.com/MrWong99/heroai/pkg/provider/assist"
)

// maxBodyBytes caps a tool request body. Images and audio travel inline as
// base64.
const maxBodyBytes = 20 << 20

// Handler exposes a [Service] over HTTP:
//
//   - GET  /v1/tools         registered tools and backend breaker states
//   - POST /v1/tools/{name}  run one request; the body is a tool.Request
type Handler struct {
	s *Service
}

// NewHandler returns a handler for s.
func NewHandler(s *Service) *Handler { return &Handler{s: s} }

type errorBody struct {
	Error string `json:"error"`
}

// List handles GET /v1/tools.
func (h *Handler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Tools []ToolInfo `json:"tools"`
	}{h.s.Describe()})
}

// Run handles POST /v1/tools/{name}.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	kind, err := tool.ParseKind(r.PathValue("name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}

	var req tool.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}

	res, err := h.s.Request(r.Context(), kind, req)
	if err != nil {
		writeJSON(w, statusFor(err), errorBody{Error: messageFor(err)})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Register adds the tool routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/tools", h.List)
	mux.HandleFunc("POST /v1/tools/{name}", h.Run)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownTool):
		return http.StatusNotFound
	case errors.Is(err, tool.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, resilience.ErrAllFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageFor keeps backend details out of responses; they are logged by the
// service.
func messageFor(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTool), errors.Is(err, tool.ErrInvalidRequest):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "the request timed out"
	default:
		return "Error occurred. Please try again."
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
