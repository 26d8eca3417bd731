package middleware

import (
	"encoding/json"
	"net/http"
)

// SessionState reports how far the user got through sign-in and PIN entry
type SessionState interface {
	Authenticated() bool
	Unlocked() bool
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RequireUnlocked rejects requests until the user is signed in and has
// entered the PIN
func RequireUnlocked(state SessionState) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !state.Authenticated() {
				respondError(w, "Sign in required", http.StatusUnauthorized)
				return
			}
			if !state.Unlocked() {
				respondError(w, "Enter your PIN to unlock", http.StatusLocked)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
