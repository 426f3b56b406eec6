package api

import (
	"net/http"
	"strconv"

	"github.com/devtrackhq/devtrack/internal/analytics"
	"github.com/rs/zerolog"
)

// MaxDailyWindowDays bounds the daily-hours chart window.
const MaxDailyWindowDays = 366

// AnalyticsHandler handles dashboard read-model requests. Every endpoint
// degrades to zero-valued output for users with no history.
type AnalyticsHandler struct {
	reporter *analytics.Reporter
	logger   zerolog.Logger
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(reporter *analytics.Reporter, logger zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		reporter: reporter,
		logger:   logger.With().Str("handler", "analytics").Logger(),
	}
}

// Summary returns the cached dashboard summary.
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	summary, err := h.reporter.Summary(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute summary")
		writeError(w, http.StatusInternalServerError, "Failed to compute summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Daily returns per-day hour totals for the trailing window.
func (h *AnalyticsHandler) Daily(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	windowDays := 7
	if v := r.URL.Query().Get("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 || days > MaxDailyWindowDays {
			writeError(w, http.StatusBadRequest, "Invalid days parameter")
			return
		}
		windowDays = days
	}

	totals, err := h.reporter.Daily(r.Context(), userID, windowDays)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute daily hours")
		writeError(w, http.StatusInternalServerError, "Failed to compute daily hours")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":  totals,
		"count": len(totals),
	})
}

// ByProject returns the per-project hour distribution.
func (h *AnalyticsHandler) ByProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	distribution, err := h.reporter.ByProject(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute project distribution")
		writeError(w, http.StatusInternalServerError, "Failed to compute project distribution")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"projects": distribution,
		"count":    len(distribution),
	})
}

// Streak returns the current consecutive-day streak.
func (h *AnalyticsHandler) Streak(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	streak, err := h.reporter.Streak(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute streak")
		writeError(w, http.StatusInternalServerError, "Failed to compute streak")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"streak": streak,
	})
}
