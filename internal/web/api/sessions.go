package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/devtrackhq/devtrack/internal/analytics"
	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/devtrackhq/devtrack/internal/tracker"
	"github.com/rs/zerolog"
)

// SessionHandler handles session lifecycle API requests.
type SessionHandler struct {
	tracker  *tracker.Tracker
	ledger   storage.SessionStore
	reporter *analytics.Reporter
	logger   zerolog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(t *tracker.Tracker, ledger storage.SessionStore, reporter *analytics.Reporter, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		tracker:  t,
		ledger:   ledger,
		reporter: reporter,
		logger:   logger.With().Str("handler", "session").Logger(),
	}
}

// StartRequest is the start payload.
type StartRequest struct {
	ProjectID string `json:"project_id"`
}

// StopRequest is the stop payload.
type StopRequest struct {
	Notes string `json:"notes"`
}

// ActiveResponse is the running-session read model.
type ActiveResponse struct {
	Session        *storage.ActiveSession `json:"session"`
	ElapsedMinutes int                    `json:"elapsed_minutes"`
}

// Start begins a session on a project.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	active, err := h.tracker.Start(r.Context(), userID, req.ProjectID)
	if err != nil {
		switch {
		case errors.Is(err, tracker.ErrProjectRequired):
			writeError(w, http.StatusBadRequest, "Project id is required")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "Project not found")
		case errors.Is(err, tracker.ErrSessionRunning):
			writeError(w, http.StatusConflict, "A session is already running")
		default:
			h.logger.Error().Err(err).Msg("Failed to start session")
			writeError(w, http.StatusInternalServerError, "Failed to start session")
		}
		return
	}

	writeJSON(w, http.StatusCreated, active)
}

// Stop ends the running session.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req StopRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	session, err := h.tracker.Stop(r.Context(), userID, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, tracker.ErrNotesTooLong):
			writeError(w, http.StatusBadRequest, "Notes must be at most 2000 characters")
		case errors.Is(err, tracker.ErrNoActiveSession):
			writeError(w, http.StatusConflict, "No session is running")
		default:
			h.logger.Error().Err(err).Msg("Failed to stop session")
			writeError(w, http.StatusInternalServerError, "Failed to stop session")
		}
		return
	}

	h.reporter.Invalidate(userID)

	writeJSON(w, http.StatusOK, session)
}

// Active returns the running session and its elapsed minutes.
func (h *SessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	active, elapsed, err := h.tracker.Active(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No session is running")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to get active session")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve active session")
		return
	}

	writeJSON(w, http.StatusOK, ActiveResponse{Session: active, ElapsedMinutes: elapsed})
}

// List returns the session ledger, most recent first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	filter, errMsg := parseSessionFilter(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	sessions, err := h.ledger.ListByUser(r.Context(), userID, filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sessions")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func parseSessionFilter(r *http.Request) (storage.SessionFilter, string) {
	query := r.URL.Query()
	filter := storage.SessionFilter{
		ProjectID: query.Get("project_id"),
	}

	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, "Invalid limit"
		}
		filter.Limit = limit
	}
	if v := query.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, "Invalid offset"
		}
		filter.Offset = offset
	}
	if v := query.Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, "Invalid from timestamp (RFC 3339 expected)"
		}
		filter.StartTime = &from
	}
	if v := query.Get("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, "Invalid to timestamp (RFC 3339 expected)"
		}
		filter.EndTime = &to
	}

	return filter, ""
}
