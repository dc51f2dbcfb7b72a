package api

import (
	"net/http"
	"time"

	"github.com/radio-control/daxiq/internal/auth"
)

// RegisterRoutes registers the v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"
	m := s.deps.Auth

	// Health endpoint (no auth required)
	mux.HandleFunc(apiV1+"/health", s.handleHealth)

	mux.HandleFunc(apiV1+"/status", m.Protect(s.handleStatus, auth.ScopeRead))
	mux.HandleFunc(apiV1+"/stats", m.Protect(s.handleStats, auth.ScopeRead))
	mux.HandleFunc(apiV1+"/pans", m.Protect(s.handlePans, auth.ScopeRead))
	mux.HandleFunc(apiV1+"/telemetry", m.Protect(s.handleTelemetry, auth.ScopeTelemetry))
	mux.HandleFunc(apiV1+"/iq", m.Protect(s.handleIQ, auth.ScopeStream))
	mux.HandleFunc(apiV1+"/session/start", m.Protect(s.handleStart, auth.ScopeControl))
	mux.HandleFunc(apiV1+"/session/stop", m.Protect(s.handleStop, auth.ScopeControl))

	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics)
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		"Only "+method+" method is allowed", nil)
	return false
}

// handleHealth reports ok while a stream is running, degraded otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	running := s.deps.Session != nil && s.deps.Session.Running()
	health := map[string]interface{}{
		"status":    "ok",
		"uptimeSec": time.Since(s.startTime).Seconds(),
		"subsystems": map[string]bool{
			"session":   running,
			"telemetry": s.deps.Telemetry != nil,
			"iq":        s.deps.Feed != nil,
			"auth":      s.deps.Auth.Enabled(),
		},
	}
	if running {
		WriteSuccess(w, health)
		return
	}
	health["status"] = "degraded"
	WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
		"No stream is running", health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	WriteSuccess(w, s.deps.Session.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	stats := map[string]interface{}{
		"receiver": s.deps.Session.Stats(),
	}
	if s.deps.Feed != nil {
		sent, dropped := s.deps.Feed.Counts()
		stats["iq"] = map[string]interface{}{
			"subscribers": s.deps.Feed.Subscribers(),
			"sent":        sent,
			"dropped":     dropped,
		}
	}
	WriteSuccess(w, stats)
}

func (s *Server) handlePans(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	WriteSuccess(w, s.deps.Session.Panadapters())
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.deps.Telemetry == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Telemetry service not available", nil)
		return
	}
	if err := s.deps.Telemetry.Subscribe(r.Context(), w, r); err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL",
			"Failed to subscribe to telemetry stream", nil)
	}
}

func (s *Server) handleIQ(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"IQ feed not available", nil)
		return
	}
	s.deps.Feed.ServeHTTP(w, r)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.deps.Session.Start(r.Context()); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, s.deps.Session.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.deps.Session.Stop()
	WriteSuccess(w, s.deps.Session.Snapshot())
}
