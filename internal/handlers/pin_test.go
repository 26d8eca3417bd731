package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Jakob98-code/distance-tracker/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubKeypad struct {
	view    services.PinView
	viewErr error
	err     error
	pressed []string
}

func (k *stubKeypad) PinView() (services.PinView, error) { return k.view, k.viewErr }

func (k *stubKeypad) PressPin(ctx context.Context, keys ...string) (services.PinView, error) {
	k.pressed = append(k.pressed, keys...)
	return k.view, k.err
}

func pressKeys(h *PinHandler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.PressKeys(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pin/keys", strings.NewReader(body)))
	return rec
}

func TestPinHandler_GetPin(t *testing.T) {
	h := NewPinHandler(&stubKeypad{view: services.PinView{State: services.PinSetup, Title: "Create PIN"}})

	rec := httptest.NewRecorder()
	h.GetPin(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pin", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var view services.PinView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, services.PinSetup, view.State)
	assert.Equal(t, "Create PIN", view.Title)
}

func TestPinHandler_GetPinSignedOut(t *testing.T) {
	h := NewPinHandler(&stubKeypad{viewErr: services.ErrNotAuthenticated})

	rec := httptest.NewRecorder()
	h.GetPin(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pin", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Sign in required", decodeError(t, rec))
}

func TestPinHandler_PressKeys(t *testing.T) {
	keypad := &stubKeypad{view: services.PinView{State: services.PinUnlocked}}
	h := NewPinHandler(keypad)

	rec := pressKeys(h, `{"keys":["1","2","3","4"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"1", "2", "3", "4"}, keypad.pressed)

	rec = pressKeys(h, `{"key":"delete"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "delete", keypad.pressed[len(keypad.pressed)-1])
}

func TestPinHandler_PressKeysErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"no keys", `{}`, nil, http.StatusBadRequest},
		{"bad body", `[`, nil, http.StatusBadRequest},
		{"invalid key", `{"key":"x"}`, services.ErrInvalidKey, http.StatusBadRequest},
		{"wrong pin", `{"keys":["0","0","0","0"]}`, &services.IncorrectPinError{AttemptsLeft: 3}, http.StatusOK},
		{"mismatch", `{"keys":["0","0","0","0"]}`, services.ErrPinMismatch, http.StatusOK},
		{"locked out", `{"key":"1"}`, services.ErrLockoutActive, http.StatusLocked},
		{"signed out", `{"key":"1"}`, services.ErrNotAuthenticated, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPinHandler(&stubKeypad{err: tt.err})
			assert.Equal(t, tt.status, pressKeys(h, tt.body).Code)
		})
	}
}
