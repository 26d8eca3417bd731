package handlers

import (
	"context"
	"net/http"

	"github.com/Jakob98-code/distance-tracker/internal/models"
	"github.com/Jakob98-code/distance-tracker/internal/services"

	"github.com/rs/zerolog/log"
)

// LocationSession is the unlocked location-sharing session
type LocationSession interface {
	Locations() (services.LocationUpdate, error)
	UpdateLocationNow(ctx context.Context) (*models.LocationRecord, error)
	StartTracking() error
	StopTracking() error
	IsTracking() bool
}

// LocationHandler handles location and tracking requests
type LocationHandler struct {
	session LocationSession
}

// NewLocationHandler creates a new location handler
func NewLocationHandler(session LocationSession) *LocationHandler {
	return &LocationHandler{session: session}
}

// LocationsResponse represents both slots and the derived distance
type LocationsResponse struct {
	Person1       *models.LocationRecord `json:"person1"`
	Person2       *models.LocationRecord `json:"person2"`
	DistanceKm    *float64               `json:"distance_km,omitempty"`
	DistanceLabel string                 `json:"distance_label,omitempty"`
	Tracking      bool                   `json:"tracking"`
}

// TrackingResponse represents the tracking state
type TrackingResponse struct {
	Tracking bool `json:"tracking"`
}

// GetLocations handles GET /api/v1/locations
func (h *LocationHandler) GetLocations(w http.ResponseWriter, r *http.Request) {
	u, err := h.session.Locations()
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := LocationsResponse{
		Person1:  u.Pair.A,
		Person2:  u.Pair.B,
		Tracking: h.session.IsTracking(),
	}
	if u.Distance != nil {
		km := u.Distance.Km
		resp.DistanceKm = &km
		resp.DistanceLabel = services.FormatDistance(km)
	}
	respondJSON(w, http.StatusOK, resp)
}

// UpdateLocation handles POST /api/v1/location
func (h *LocationHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.session.UpdateLocationNow(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Manual location update failed")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// StartTracking handles POST /api/v1/tracking/start
func (h *LocationHandler) StartTracking(w http.ResponseWriter, r *http.Request) {
	if err := h.session.StartTracking(); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, TrackingResponse{Tracking: h.session.IsTracking()})
}

// StopTracking handles POST /api/v1/tracking/stop
func (h *LocationHandler) StopTracking(w http.ResponseWriter, r *http.Request) {
	if err := h.session.StopTracking(); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, TrackingResponse{Tracking: h.session.IsTracking()})
}
