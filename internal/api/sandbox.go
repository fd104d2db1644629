package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SandboxSendResponse represents one captured sandbox send
type SandboxSendResponse struct {
	URL     string `json:"url"`
	Message string `json:"message"`
	SentAt  string `json:"sent_at"`
}

// SandboxErrorsRequest is the request for POST /api/v1/sandbox/errors
type SandboxErrorsRequest struct {
	Enabled     bool    `json:"enabled"`
	Probability float64 `json:"probability"`
}

// SandboxScriptRequest is the request for POST /api/v1/sandbox/script
type SandboxScriptRequest struct {
	Fragment string `json:"fragment"`
	Reason   string `json:"reason"`
}

// registerSandboxRoutes wires the sandbox inspection endpoints. They only
// answer when the process runs with the sandbox automation backend.
func (s *Server) registerSandboxRoutes(r chi.Router) {
	r.Route("/sandbox", func(r chi.Router) {
		r.Get("/sends", s.handleSandboxSends)
		r.Delete("/sends", s.handleSandboxClear)
		r.Post("/errors", s.handleSandboxErrors)
		r.Post("/script", s.handleSandboxScript)
	})
}

func (s *Server) requireSandbox(w http.ResponseWriter) bool {
	if s.sandbox == nil {
		sendError(w, http.StatusServiceUnavailable, "Sandbox backend not active")
		return false
	}
	return true
}

// handleSandboxSends handles GET /api/v1/sandbox/sends
func (s *Server) handleSandboxSends(w http.ResponseWriter, r *http.Request) {
	if !s.requireSandbox(w) {
		return
	}

	sends := s.sandbox.Sends()
	resp := make([]SandboxSendResponse, len(sends))
	for i, send := range sends {
		resp[i] = SandboxSendResponse{
			URL:     send.URL,
			Message: send.Message,
			SentAt:  send.SentAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"sends": resp,
		"total": len(resp),
	})
}

// handleSandboxClear handles DELETE /api/v1/sandbox/sends
func (s *Server) handleSandboxClear(w http.ResponseWriter, r *http.Request) {
	if !s.requireSandbox(w) {
		return
	}
	s.sandbox.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// handleSandboxErrors handles POST /api/v1/sandbox/errors
func (s *Server) handleSandboxErrors(w http.ResponseWriter, r *http.Request) {
	if !s.requireSandbox(w) {
		return
	}

	var req SandboxErrorsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Probability < 0 || req.Probability > 1 {
		sendError(w, http.StatusBadRequest, "probability must be between 0 and 1")
		return
	}

	s.sandbox.SetErrorSimulation(req.Enabled, req.Probability)
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSandboxScript handles POST /api/v1/sandbox/script
func (s *Server) handleSandboxScript(w http.ResponseWriter, r *http.Request) {
	if !s.requireSandbox(w) {
		return
	}

	var req SandboxScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Fragment == "" || req.Reason == "" {
		sendError(w, http.StatusBadRequest, "fragment and reason are required")
		return
	}

	s.sandbox.ScriptFailure(req.Fragment, req.Reason)
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
