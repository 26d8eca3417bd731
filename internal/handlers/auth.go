package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Jakob98-code/distance-tracker/internal/services"

	"github.com/rs/zerolog/log"
)

// Gate is the credential gate driven by the sign-in form
type Gate interface {
	View() services.GateView
	SignIn(ctx context.Context, identifier, secret string) error
	SignUp(ctx context.Context, identifier, secret string) error
	SignOut(ctx context.Context) error
}

// AuthHandler handles sign-in related HTTP requests
type AuthHandler struct {
	gate Gate
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(gate Gate) *AuthHandler {
	return &AuthHandler{gate: gate}
}

// CredentialsRequest represents the sign-in and sign-up form
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GetState handles GET /api/v1/auth/state
func (h *AuthHandler) GetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.gate.View())
}

// SignIn handles POST /api/v1/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, h.gate.SignIn)
}

// SignUp handles POST /api/v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, h.gate.SignUp)
}

func (h *AuthHandler) authenticate(w http.ResponseWriter, r *http.Request, do func(context.Context, string, string) error) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := do(r.Context(), req.Email, req.Password); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.gate.View())
}

// SignOut handles POST /api/v1/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.SignOut(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to sign out")
		respondError(w, "Failed to sign out", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
