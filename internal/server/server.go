// Package server exposes the session engine over HTTP and streams its
// transitions and alerts over a websocket.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"zkbattle/internal/app"
	"zkbattle/internal/command"
	"zkbattle/internal/game"
	"zkbattle/internal/ledger"
)

type Server struct {
	svc *app.Service
	hub *Hub
	log *slog.Logger
}

func New(svc *app.Service, hub *Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, hub: hub, log: log}
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/command", s.handleCommand)
	mux.HandleFunc("POST /v1/session", s.handleStart)
	mux.HandleFunc("POST /v1/reset", s.handleReset)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/account", s.handleAccount)
	if s.hub != nil {
		mux.Handle("GET /v1/events", s.hub)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps the error taxonomy to HTTP codes. Rejected commands are
// conflicts with the current state, not server failures.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, game.ErrValidation), errors.Is(err, game.ErrPipelineOrder):
		return http.StatusConflict
	case errors.Is(err, game.ErrVerificationFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInsufficient):
		return http.StatusPaymentRequired
	case errors.Is(err, app.ErrNotOpen):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	var ge *game.Error
	if errors.As(err, &ge) {
		return string(ge.Code)
	}
	return ""
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	body := map[string]any{"error": err.Error(), "status": newStatusView(s.svc.State(), s.svc.Busy())}
	if c := errorCode(err); c != "" {
		body["code"] = c
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, code, body)
}

type commandReq struct {
	Kind       string `json:"kind,omitempty"`
	Cell       string `json:"cell,omitempty"`
	Pointer    *int   `json:"pointer,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

func (c commandReq) input() command.Input {
	switch {
	case c.Transcript != "":
		return command.Transcript{Text: c.Transcript}
	case c.Pointer != nil:
		return command.Pointer{Cell: *c.Pointer}
	}
	return command.Raw{Kind: command.Kind(c.Kind), Cell: c.Cell}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	reply, err := s.svc.Handle(r.Context(), req.input())
	if err != nil {
		extra := map[string]any{}
		if reply.Fire != nil {
			extra["fire"] = reply.Fire
		}
		s.fail(w, r, err, extra)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"command": reply.Command,
		"fire":    reply.Fire,
		"status":  newStatusView(reply.State, s.svc.Busy()),
	})
}

type startReq struct {
	Stake int64 `json:"stake"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
			return
		}
	}
	st, err := s.svc.Start(r.Context(), req.Stake)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, newStatusView(st, s.svc.Busy()))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Reset(r.Context())
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newStatusView(st, s.svc.Busy()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatusView(s.svc.State(), s.svc.Busy()))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Account(r.Context())
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Any origin in dev; restrict for production.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
