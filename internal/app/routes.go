package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/sharon/internal/health"
	"github.com/MrWong99/sharon/internal/live"
)

// maxBodyBytes bounds JSON request bodies of the control API.
const maxBodyBytes = 4 << 10

// StatusResponse is the JSON body of every /live endpoint.
type StatusResponse struct {
	State     string `json:"state"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Behavior  string `json:"behavior"`
	Error     string `json:"error,omitempty"`
}

// PersonaRequest is the body of PUT /live/persona. Empty fields are left
// unchanged.
type PersonaRequest struct {
	Behavior string `json:"behavior"`
	Voice    string `json:"voice"`
}

func (a *App) registerRoutes() {
	a.mux.HandleFunc("POST /live/start", a.handleStart)
	a.mux.HandleFunc("POST /live/stop", a.handleStop)
	a.mux.HandleFunc("GET /live/status", a.handleStatus)
	a.mux.HandleFunc("PUT /live/persona", a.handlePersona)
	a.mux.Handle("GET /metrics", a.metricsPath)

	health.New(
		health.Func("provider", a.providerConfigured),
		health.Func("live", a.liveHealthy),
	).Register(a.mux)
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	err := a.ctrl.Start(r.Context())
	if err != nil {
		slog.WarnContext(r.Context(), "live start rejected", "err", err)
		a.writeStatus(w, startErrorCode(err), err)
		return
	}
	a.writeStatus(w, http.StatusOK, nil)
}

// startErrorCode maps Start failures onto HTTP status codes.
func startErrorCode(err error) int {
	switch {
	case errors.Is(err, live.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, live.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, live.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.Stop(); err != nil {
		// The session is gone either way; report the cleanup failure.
		slog.WarnContext(r.Context(), "live stop reported errors", "err", err)
		a.writeStatus(w, http.StatusInternalServerError, err)
		return
	}
	a.writeStatus(w, http.StatusOK, nil)
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	a.writeStatus(w, http.StatusOK, nil)
}

func (a *App) handlePersona(w http.ResponseWriter, r *http.Request) {
	var req PersonaRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.writeStatus(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if b := strings.TrimSpace(req.Behavior); b != "" {
		a.ctrl.SetBehavior(b)
	}
	if v := strings.TrimSpace(req.Voice); v != "" {
		a.ctrl.SetVoice(v)
	}
	slog.InfoContext(r.Context(), "persona updated for next session",
		"behavior", a.ctrl.Behavior(), "voice", req.Voice)
	a.writeStatus(w, http.StatusOK, nil)
}

// writeStatus renders the controller status. reqErr, when set, overrides the
// error field.
func (a *App) writeStatus(w http.ResponseWriter, code int, reqErr error) {
	st := a.ctrl.Status()
	resp := StatusResponse{
		State:     st.State.String(),
		Status:    st.Text,
		SessionID: st.SessionID,
		Behavior:  a.ctrl.Behavior(),
	}
	switch {
	case reqErr != nil:
		resp.Error = reqErr.Error()
	case st.Err != nil:
		resp.Error = st.Err.Error()
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) providerConfigured() error {
	a.cfgMu.Lock()
	name := a.cfg.Provider.Name
	a.cfgMu.Unlock()
	if name == "" {
		return errors.New("no provider configured")
	}
	return nil
}

func (a *App) liveHealthy() error {
	st := a.ctrl.Status()
	if st.State == live.StateErrored {
		if st.Err != nil {
			return st.Err
		}
		return errors.New(st.Text)
	}
	return nil
}
