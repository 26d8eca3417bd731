package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Jakob98-code/distance-tracker/internal/config"
	"github.com/Jakob98-code/distance-tracker/internal/geolocation"
	"github.com/Jakob98-code/distance-tracker/internal/models"
	"github.com/Jakob98-code/distance-tracker/internal/services"

	"github.com/rs/zerolog/log"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondServiceError maps a service error to a status code and message
func respondServiceError(w http.ResponseWriter, err error) {
	status, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	respondError(w, message, status)
}

func classifyError(err error) (int, string) {
	var authErr *models.AuthError
	var posErr *geolocation.PositionError

	switch {
	case errors.As(err, &authErr):
		return authStatus(authErr.Kind), authErr.Message()
	case errors.Is(err, services.ErrNotAuthenticated):
		return http.StatusUnauthorized, "Sign in required"
	case errors.Is(err, services.ErrLocked):
		return http.StatusLocked, "Enter your PIN to unlock"
	case errors.Is(err, services.ErrAuthInProgress):
		return http.StatusConflict, "Sign-in already in progress"
	case errors.Is(err, services.ErrAlreadyAuthenticated):
		return http.StatusConflict, "Already signed in"
	case errors.Is(err, config.ErrInvalidSettings):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrGeolocationUnavailable):
		return http.StatusServiceUnavailable, "Geolocation is not supported"
	case errors.As(err, &posErr):
		switch posErr.Code {
		case geolocation.PermissionDenied:
			return http.StatusForbidden, "Location permission denied"
		case geolocation.Timeout:
			return http.StatusGatewayTimeout, "Timed out waiting for a location fix"
		default:
			return http.StatusServiceUnavailable, "Location unavailable"
		}
	case errors.Is(err, services.ErrSyncWriteFailure):
		return http.StatusBadGateway, "Failed to update location"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func authStatus(kind models.AuthErrorKind) int {
	switch kind {
	case models.AuthInvalidCredentials, models.AuthWrongPassword, models.AuthAccountNotFound:
		return http.StatusUnauthorized
	case models.AuthEmailInUse:
		return http.StatusConflict
	case models.AuthRateLimited:
		return http.StatusTooManyRequests
	case models.AuthWeakPassword, models.AuthPasswordTooShort, models.AuthInvalidEmail, models.AuthMissingFields:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
