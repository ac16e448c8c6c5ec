package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/rotor/internal/models"
	"github.com/foxzi/rotor/internal/probe"
)

// SuccessRequest is the request body for POST /servers/{id}/success.
// The body may be empty when the caller did not measure the send.
type SuccessRequest struct {
	ResponseTimeMs float64 `json:"response_time_ms,omitempty"`
}

// FailureRequest is the request body for POST /servers/{id}/failure
type FailureRequest struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"` // auth, connect, disconnect, timeout, unknown
}

// RecordResponse echoes the server state after a recorded outcome, so the
// caller sees a health flip without a second request
type RecordResponse struct {
	ID                  string `json:"id"`
	IsHealthy           bool   `json:"is_healthy"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TotalRequests       int64  `json:"total_requests"`
}

// ServersResponse is the response for GET /owners/{owner}/servers
type ServersResponse struct {
	Servers []models.Server `json:"servers"`
	Count   int             `json:"count"`
}

// DelayResponse is the response for POST /owners/{owner}/delay
type DelayResponse struct {
	WaitedSeconds float64 `json:"waited_seconds"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleNext handles POST /api/v1/owners/{owner}/next/{kind}
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	kind, err := models.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	campaign := r.URL.Query().Get("campaign")

	var srv *models.Server
	switch kind {
	case models.KindProxy:
		srv, err = s.manager.NextProxy(owner, campaign)
	default:
		srv, err = s.manager.NextSMTP(owner, campaign)
	}
	if err != nil {
		s.logger.Error("selection failed", "owner", owner, "kind", string(kind), "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to select server")
		return
	}
	if srv == nil {
		s.sendError(w, http.StatusNotFound, "no server available")
		return
	}

	s.sendJSON(w, http.StatusOK, srv)
}

// handleSuccess handles POST /api/v1/servers/{id}/success
func (s *Server) handleSuccess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SuccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	srv, err := s.manager.RecordSuccess(id, req.ResponseTimeMs)
	if err != nil {
		s.logger.Error("failed to record success", "server_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to record result")
		return
	}
	if srv == nil {
		s.sendError(w, http.StatusNotFound, "Server not found")
		return
	}

	s.sendJSON(w, http.StatusOK, recordResponse(srv))
}

// handleFailure handles POST /api/v1/servers/{id}/failure
func (s *Server) handleFailure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req FailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Error == "" {
		s.sendError(w, http.StatusBadRequest, "error is required")
		return
	}
	kind, err := probe.ParseFailureKind(req.Kind)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	srv, err := s.manager.RecordFailure(id, req.Error, kind)
	if err != nil {
		s.logger.Error("failed to record failure", "server_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to record result")
		return
	}
	if srv == nil {
		s.sendError(w, http.StatusNotFound, "Server not found")
		return
	}

	s.sendJSON(w, http.StatusOK, recordResponse(srv))
}

// handleStats handles GET /api/v1/owners/{owner}/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	stats, err := s.manager.Stats(owner)
	if err != nil {
		s.logger.Error("failed to build stats", "owner", owner, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to build stats")
		return
	}

	s.sendJSON(w, http.StatusOK, stats)
}

// handleProbe handles POST /api/v1/owners/{owner}/probe
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	var kind models.Kind
	if k := r.URL.Query().Get("kind"); k != "" {
		parsed, err := models.ParseKind(k)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = parsed
	}

	report, err := s.manager.ProbeOwner(r.Context(), owner, kind)
	if err != nil {
		s.logger.Error("probe sweep failed", "owner", owner, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Probe sweep failed")
		return
	}

	s.sendJSON(w, http.StatusOK, report)
}

// handleServers handles GET /api/v1/owners/{owner}/servers
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	filter := models.ServerFilter{OwnerID: owner}
	if k := r.URL.Query().Get("kind"); k != "" {
		kind, err := models.ParseKind(k)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Kind = kind
	}

	servers, err := s.servers.List(filter)
	if err != nil {
		s.logger.Error("failed to list servers", "owner", owner, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list servers")
		return
	}

	s.sendJSON(w, http.StatusOK, ServersResponse{
		Servers: servers,
		Count:   len(servers),
	})
}

// handleDelay handles POST /api/v1/owners/{owner}/delay. It blocks for the
// drawn delay, so the caller paces by simply awaiting the response.
func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	campaign := r.URL.Query().Get("campaign")

	waited, err := s.manager.ApplyDelay(r.Context(), owner, campaign)
	if err != nil {
		s.logger.Error("failed to apply delay", "owner", owner, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to apply delay")
		return
	}

	s.sendJSON(w, http.StatusOK, DelayResponse{WaitedSeconds: waited})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).String(),
	}

	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("database ping failed", "error", err)
		resp.Status = "degraded"
		s.sendJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	s.sendJSON(w, http.StatusOK, resp)
}

func recordResponse(srv *models.Server) RecordResponse {
	return RecordResponse{
		ID:                  srv.ID,
		IsHealthy:           srv.IsHealthy,
		ConsecutiveFailures: srv.ConsecutiveFailures,
		TotalRequests:       srv.TotalRequests,
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
