package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkrv/messengerq/internal/engine"
	"github.com/mkrv/messengerq/internal/metrics"
	"github.com/mkrv/messengerq/internal/quota"
	"github.com/mkrv/messengerq/internal/store"
	"github.com/mkrv/messengerq/internal/version"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status     string               `json:"status"`
	Version    string               `json:"version"`
	Uptime     string               `json:"uptime"`
	Engine     engine.State         `json:"engine"`
	Recipients map[store.Status]int `json:"recipients,omitempty"`
}

// EngineStatusResponse is the response for GET /api/v1/engine
type EngineStatusResponse struct {
	State     engine.State  `json:"state"`
	ProfileID uint64        `json:"profile_id"`
	Quota     *quota.Status `json:"quota,omitempty"`
}

// ImportRequest is the request body for POST /api/v1/uids/import
type ImportRequest struct {
	Lines []string `json:"lines"`
}

// UIDListResponse is the response for GET /api/v1/uids
type UIDListResponse struct {
	Stats      map[store.Status]int `json:"stats"`
	Recipients []*store.Recipient   `json:"recipients,omitempty"`
}

// UIDDetailResponse is the response for GET /api/v1/uids/{id}
type UIDDetailResponse struct {
	Recipient *store.Recipient `json:"recipient"`
	Events    []*store.Event   `json:"events,omitempty"`
}

// ProfileRequest is the request body for profile create/update
type ProfileRequest struct {
	Nickname   string `json:"nickname"`
	DailyLimit int    `json:"daily_limit"`
	Timezone   string `json:"timezone,omitempty"`
}

// SwitchProfileRequest is the request body for POST /api/v1/engine/profile
type SwitchProfileRequest struct {
	ProfileID uint64 `json:"profile_id"`
}

// LoginOnlyRequest is the request body for POST /api/v1/engine/login-only
type LoginOnlyRequest struct {
	Enabled bool `json:"enabled"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, _ := s.store.Counts(s.engine.ProfileID())

	sendJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    version.Version,
		Uptime:     time.Since(s.startTime).String(),
		Engine:     s.engine.State(),
		Recipients: counts,
	})
}

// handleEngineStatus handles GET /api/v1/engine
func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	resp := EngineStatusResponse{
		State:     s.engine.State(),
		ProfileID: s.engine.ProfileID(),
	}
	if qs, err := s.quota.Status(resp.ProfileID, time.Now()); err == nil {
		resp.Quota = qs
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	s.engineCommand(w, s.engine.Start)
}

func (s *Server) handleEnginePause(w http.ResponseWriter, r *http.Request) {
	s.engineCommand(w, s.engine.Pause)
}

func (s *Server) handleEngineResume(w http.ResponseWriter, r *http.Request) {
	s.engineCommand(w, s.engine.Resume)
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	s.engineCommand(w, s.engine.Stop)
}

// engineCommand runs a lifecycle command and reports the resulting state.
// Invalid transitions are client errors, not server faults.
func (s *Server) engineCommand(w http.ResponseWriter, cmd func() error) {
	if err := cmd(); err != nil {
		sendError(w, http.StatusConflict, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"state": s.engine.State()})
}

// handleEngineLoginOnly handles POST /api/v1/engine/login-only
func (s *Server) handleEngineLoginOnly(w http.ResponseWriter, r *http.Request) {
	var req LoginOnlyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.engineCommand(w, func() error { return s.engine.SetLoginOnly(req.Enabled) })
}

// handleEngineSwitchProfile handles POST /api/v1/engine/profile
func (s *Server) handleEngineSwitchProfile(w http.ResponseWriter, r *http.Request) {
	var req SwitchProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProfileID == 0 {
		sendError(w, http.StatusBadRequest, "profile_id is required")
		return
	}
	s.engineCommand(w, func() error { return s.engine.SwitchProfile(req.ProfileID) })
}

// handleUIDImport handles POST /api/v1/uids/import
func (s *Server) handleUIDImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Lines) == 0 {
		sendError(w, http.StatusBadRequest, "lines is required")
		return
	}

	profileID := s.profileFromQuery(r)
	report, err := s.store.AddRecipients(profileID, req.Lines)
	if err != nil {
		s.logger.Error("import failed", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to import recipients")
		return
	}

	metrics.AddImported("added", report.Added)
	metrics.AddImported("duplicate", report.Duplicates)
	metrics.AddImported("invalid", len(report.Invalid))

	s.logger.Info("recipients imported via API",
		"profile_id", profileID,
		"added", report.Added,
		"duplicates", report.Duplicates,
		"invalid", len(report.Invalid),
	)
	sendJSON(w, http.StatusOK, report)
}

// handleUIDList handles GET /api/v1/uids
func (s *Server) handleUIDList(w http.ResponseWriter, r *http.Request) {
	profileID := s.profileFromQuery(r)

	counts, err := s.store.Counts(profileID)
	if err != nil {
		s.logger.Error("failed to count recipients", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to count recipients")
		return
	}

	filter := store.ListFilter{Limit: 100}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = store.Status(status)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			filter.Limit = min(l, 1000)
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	recipients, err := s.store.List(profileID, filter)
	if err != nil {
		s.logger.Error("failed to list recipients", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list recipients")
		return
	}

	sendJSON(w, http.StatusOK, UIDListResponse{
		Stats:      counts,
		Recipients: recipients,
	})
}

// handleUIDGet handles GET /api/v1/uids/{id}
func (s *Server) handleUIDGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rcpt, err := s.store.Get(id)
	if err != nil {
		s.logger.Error("failed to get recipient", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get recipient")
		return
	}
	if rcpt == nil {
		sendError(w, http.StatusNotFound, "Recipient not found")
		return
	}

	events, err := s.store.Events(id)
	if err != nil {
		s.logger.Warn("failed to load recipient events", "id", id, "error", err)
	}

	sendJSON(w, http.StatusOK, UIDDetailResponse{
		Recipient: rcpt,
		Events:    events,
	})
}

// handleUIDRetry handles POST /api/v1/uids/{id}/retry
func (s *Server) handleUIDRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rcpt, err := s.store.Get(id)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to get recipient")
		return
	}
	if rcpt == nil {
		sendError(w, http.StatusNotFound, "Recipient not found")
		return
	}

	if err := s.store.ForceRetry(id, time.Now()); err != nil {
		sendError(w, http.StatusConflict, err.Error())
		return
	}

	s.logger.Info("recipient queued for retry via API", "id", id)
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUIDExport handles GET /api/v1/uids/export
func (s *Server) handleUIDExport(w http.ResponseWriter, r *http.Request) {
	profileID := s.profileFromQuery(r)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="recipients.csv"`)

	n, err := s.store.ExportCSV(w, profileID)
	if err != nil {
		// Headers are gone; all we can do is log.
		s.logger.Error("CSV export failed", "error", err)
		return
	}
	s.logger.Info("recipients exported via API", "profile_id", profileID, "rows", n)
}

// handleQuota handles GET /api/v1/quota
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	profileID := s.profileFromQuery(r)

	qs, err := s.quota.Status(profileID, time.Now())
	if err != nil {
		s.logger.Error("failed to compute quota", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to compute quota")
		return
	}
	sendJSON(w, http.StatusOK, qs)
}

// handleProfileList handles GET /api/v1/profiles
func (s *Server) handleProfileList(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles()
	if err != nil {
		s.logger.Error("failed to list profiles", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list profiles")
		return
	}
	sendJSON(w, http.StatusOK, profiles)
}

// handleProfileCreate handles POST /api/v1/profiles
func (s *Server) handleProfileCreate(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	profile, err := s.store.CreateProfile(req.Nickname, req.DailyLimit, req.Timezone)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("profile created via API", "id", profile.ID, "nickname", profile.Nickname)
	sendJSON(w, http.StatusCreated, profile)
}

// handleProfileUpdate handles PUT /api/v1/profiles/{id}
func (s *Server) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendError(w, http.StatusBadRequest, "Invalid profile id")
		return
	}

	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	profile, err := s.store.UpdateProfile(id, req.Nickname, req.DailyLimit)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, profile)
}

// profileFromQuery resolves the target profile: an explicit profile_id
// query parameter wins, otherwise the engine's active profile.
func (s *Server) profileFromQuery(r *http.Request) uint64 {
	if v := r.URL.Query().Get("profile_id"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return s.engine.ProfileID()
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}
