package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Jakob98-code/distance-tracker/internal/models"
	"github.com/Jakob98-code/distance-tracker/internal/services"
)

// SettingsService loads and saves the device settings
type SettingsService interface {
	Settings(ctx context.Context) (models.AppSettings, error)
	SaveSettings(ctx context.Context, settings models.AppSettings) (models.AppSettings, error)
	Counters(settings models.AppSettings) services.Counters
}

// SettingsHandler handles settings requests
type SettingsHandler struct {
	settings SettingsService
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// SettingsResponse represents the settings with the day counters derived from them
type SettingsResponse struct {
	Settings models.AppSettings `json:"settings"`
	Counters services.Counters  `json:"counters"`
}

// GetSettings handles GET /api/v1/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Settings(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, SettingsResponse{Settings: s, Counters: h.settings.Counters(s)})
}

// UpdateSettings handles PUT /api/v1/settings. Saving ends the session and
// re-locks the app.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.AppSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := h.settings.SaveSettings(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, SettingsResponse{Settings: saved, Counters: h.settings.Counters(saved)})
}
