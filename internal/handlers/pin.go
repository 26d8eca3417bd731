package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Jakob98-code/distance-tracker/internal/services"
)

// Keypad is the PIN lock as seen by the dashboard
type Keypad interface {
	PinView() (services.PinView, error)
	PressPin(ctx context.Context, keys ...string) (services.PinView, error)
}

// PinHandler handles PIN keypad requests
type PinHandler struct {
	keypad Keypad
}

// NewPinHandler creates a new PIN handler
func NewPinHandler(keypad Keypad) *PinHandler {
	return &PinHandler{keypad: keypad}
}

// KeysRequest carries one key or a sequence of keys; "delete" removes a digit
type KeysRequest struct {
	Key  string   `json:"key,omitempty"`
	Keys []string `json:"keys,omitempty"`
}

// GetPin handles GET /api/v1/pin
func (h *PinHandler) GetPin(w http.ResponseWriter, r *http.Request) {
	view, err := h.keypad.PinView()
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// PressKeys handles POST /api/v1/pin/keys
func (h *PinHandler) PressKeys(w http.ResponseWriter, r *http.Request) {
	var req KeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	keys := req.Keys
	if req.Key != "" {
		keys = append(keys, req.Key)
	}
	if len(keys) == 0 {
		respondError(w, "key or keys is required", http.StatusBadRequest)
		return
	}

	view, err := h.keypad.PressPin(r.Context(), keys...)
	var wrong *services.IncorrectPinError
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, view)
	case errors.Is(err, services.ErrInvalidKey):
		respondError(w, "Keys must be single digits or \"delete\"", http.StatusBadRequest)
	case errors.Is(err, services.ErrLockoutActive):
		respondJSON(w, http.StatusLocked, view)
	case errors.Is(err, services.ErrPinMismatch), errors.As(err, &wrong):
		// the message is part of the keypad view
		respondJSON(w, http.StatusOK, view)
	default:
		respondServiceError(w, err)
	}
}
