// Package api serves the local control surface over HTTP: call state
// and counters for inspection, plus dial/answer/hangup/message commands.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	typesv1 "github.com/peercall/peercall/api/types/v1"
	"github.com/peercall/peercall/internal/call"
)

// Controller is the call engine surface the API exposes.
// Implemented by call.Engine.
type Controller interface {
	Dial(peerIDs []string, attachment string) error
	Answer() error
	Hangup() error
	SendCustomMessage(text string) error
	MuteLocalAudio(muted bool) error
	MuteLocalVideo(muted bool) error
	State() call.State
	Snapshot() (call.Session, bool)
	Stats() call.Stats
}

// Server provides the local HTTP control API.
type Server struct {
	addr       string
	controller Controller
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates the control API server.
func NewServer(addr string, controller Controller) *Server {
	s := &Server{
		addr:       addr,
		controller: controller,
		startTime:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)
		r.Get("/stats", s.handleStats)
		r.Post("/dial", s.handleDial)
		r.Post("/answer", s.handleAnswer)
		r.Post("/hangup", s.handleHangup)
		r.Post("/message", s.handleMessage)
		r.Post("/mute", s.handleMute)
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	slog.Info("[API] Starting HTTP API server", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[API] Server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime).Seconds()
	s.writeJSON(w, http.StatusOK, typesv1.HealthResponse{
		Status: "ok",
		Uptime: int64(uptime),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := typesv1.StateResponse{State: s.controller.State().String()}
	if snap, ok := s.controller.Snapshot(); ok {
		resp.SessionID = snap.ID
		resp.LocalID = snap.Local.ID
		resp.RemoteID = snap.Remote.ID
		resp.PendingPeers = snap.PendingPeers
		resp.Channel = snap.Channel
		resp.Joined = snap.Joined
		resp.CreatedAt = snap.CreatedAt.Format(time.RFC3339)
		resp.StateChangedAt = snap.StateChangedAt.Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.controller.Stats()
	s.writeJSON(w, http.StatusOK, typesv1.StatsResponse{
		DialsPlaced:      stats.DialsPlaced,
		DialsAnswered:    stats.DialsAnswered,
		DialsFailed:      stats.DialsFailed,
		IncomingAdmitted: stats.IncomingAdmitted,
		IncomingRejected: stats.IncomingRejected,
		Commands:         stats.Commands,
		Dropped:          stats.Dropped,
	})
}

func (s *Server) handleDial(w http.ResponseWriter, r *http.Request) {
	var req typesv1.DialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.controller.Dial(req.Peers, req.Attachment); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeCommand(w, "Dial accepted")
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Answer(); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeCommand(w, "Answer accepted")
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Hangup(); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeCommand(w, "Hangup accepted")
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req typesv1.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err := s.controller.SendCustomMessage(req.Text); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeCommand(w, "Message accepted")
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req typesv1.MuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	switch req.Track {
	case "audio":
		err = s.controller.MuteLocalAudio(req.Muted)
	case "video":
		err = s.controller.MuteLocalVideo(req.Muted)
	default:
		s.writeError(w, http.StatusBadRequest, "track must be 'audio' or 'video'")
		return
	}
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeCommand(w, "Mute accepted")
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, call.ErrBadState), errors.Is(err, call.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, call.ErrNoPeers):
		return http.StatusBadRequest
	case errors.Is(err, call.ErrNotRegistered), errors.Is(err, call.ErrPeerUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, call.ErrMailboxFull):
		return http.StatusTooManyRequests
	case errors.Is(err, call.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeCommand(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusAccepted, typesv1.CommandResponse{
		Message: message,
		State:   s.controller.State().String(),
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, typesv1.ErrorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode JSON", "error", err)
	}
}
