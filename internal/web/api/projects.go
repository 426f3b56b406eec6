package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// MaxProjectNameLength bounds project names.
const MaxProjectNameLength = 200

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// requireUserID pulls the authenticated user from the context, answering
// 401 itself when the middleware did not run.
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return "", false
	}
	return userID, true
}

// ProjectHandler handles project API requests.
type ProjectHandler struct {
	store  storage.ProjectStore
	logger zerolog.Logger
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(store storage.ProjectStore, logger zerolog.Logger) *ProjectHandler {
	return &ProjectHandler{
		store:  store,
		logger: logger.With().Str("handler", "project").Logger(),
	}
}

// ProjectRequest is the create/update payload.
type ProjectRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Color       storage.Color `json:"color"`
	Archived    bool          `json:"archived"`
}

func validateProjectRequest(req ProjectRequest) string {
	if req.Name == "" {
		return "Project name is required"
	}
	if utf8.RuneCountInString(req.Name) > MaxProjectNameLength {
		return "Project name is too long"
	}
	return ""
}

// List returns the user's projects.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	projects, err := h.store.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list projects")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve projects")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
		"count":    len(projects),
	})
}

// Get returns a single project by id.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	project, err := h.store.Get(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get project")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve project")
		return
	}

	writeJSON(w, http.StatusOK, project)
}

// Create creates a new project.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateProjectRequest(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	now := time.Now()
	project := storage.Project{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Archived:    req.Archived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.Upsert(r.Context(), project); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create project")
		writeError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	h.logger.Info().Str("id", project.ID).Str("name", project.Name).Msg("Project created")
	writeJSON(w, http.StatusCreated, project)
}

// Update updates an existing project.
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	existing, err := h.store.Get(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get project")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve project")
		return
	}

	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateProjectRequest(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.Color = req.Color
	existing.Archived = req.Archived
	existing.UpdatedAt = time.Now()

	if err := h.store.Upsert(r.Context(), *existing); err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to update project")
		writeError(w, http.StatusInternalServerError, "Failed to update project")
		return
	}

	h.logger.Info().Str("id", id).Str("name", existing.Name).Msg("Project updated")
	writeJSON(w, http.StatusOK, existing)
}

// Delete deletes a project. Ledger entries keep their denormalized
// project name, so history survives the deletion.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	if err := h.store.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to delete project")
		writeError(w, http.StatusInternalServerError, "Failed to delete project")
		return
	}

	h.logger.Info().Str("id", id).Msg("Project deleted")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Project deleted successfully",
	})
}
