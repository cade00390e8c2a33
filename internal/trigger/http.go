package trigger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/loqalabs/loqa-dictate/internal/stt"
)

type statusResponse struct {
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

// HTTP exposes begin/end/toggle endpoints so hotkey daemons or scripts can
// drive dictation.
type HTTP struct {
	ctrl Controller
	log  *slog.Logger
}

func NewHTTP(ctrl Controller, logger *slog.Logger) *HTTP {
	return &HTTP{ctrl: ctrl, log: logger.With(slog.String("component", "trigger-http"))}
}

func (h *HTTP) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/session/begin", h.handleBegin)
	mux.HandleFunc("POST /v1/session/end", h.handleEnd)
	mux.HandleFunc("POST /v1/session/toggle", h.handleToggle)
	mux.HandleFunc("GET /v1/session", h.handleStatus)
}

func (h *HTTP) handleBegin(w http.ResponseWriter, _ *http.Request) {
	h.reply(w, h.ctrl.BeginSession())
}

func (h *HTTP) handleEnd(w http.ResponseWriter, _ *http.Request) {
	h.ctrl.EndSession()
	h.reply(w, nil)
}

func (h *HTTP) handleToggle(w http.ResponseWriter, _ *http.Request) {
	h.reply(w, Toggle(h.ctrl))
}

func (h *HTTP) handleStatus(w http.ResponseWriter, _ *http.Request) {
	h.reply(w, nil)
}

func (h *HTTP) reply(w http.ResponseWriter, err error) {
	resp := statusResponse{SessionID: h.ctrl.SessionID(), State: h.ctrl.State().String()}
	code := http.StatusOK
	if err != nil {
		h.log.Warn("trigger rejected", slog.String("error", err.Error()))
		resp.Error = err.Error()
		code = http.StatusInternalServerError
		if errors.Is(err, stt.ErrUnavailable) {
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
