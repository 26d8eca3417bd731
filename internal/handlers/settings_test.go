package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Jakob98-code/distance-tracker/internal/config"
	"github.com/Jakob98-code/distance-tracker/internal/models"
	"github.com/Jakob98-code/distance-tracker/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSettings struct {
	current models.AppSettings
	saved   *models.AppSettings
}

func (s *stubSettings) Settings(ctx context.Context) (models.AppSettings, error) {
	return s.current, nil
}

func (s *stubSettings) SaveSettings(ctx context.Context, settings models.AppSettings) (models.AppSettings, error) {
	settings = config.NormalizeSettings(settings)
	if err := config.ValidateSettings(settings); err != nil {
		return models.AppSettings{}, err
	}
	s.saved = &settings
	s.current = settings
	return settings, nil
}

func (s *stubSettings) Counters(settings models.AppSettings) services.Counters {
	if settings.NextMeetDate == "" {
		return services.Counters{}
	}
	n := 3
	return services.Counters{DaysUntil: &n, MeetLabel: services.MeetLabel(n)}
}

func TestSettingsHandler_Get(t *testing.T) {
	h := NewSettingsHandler(&stubSettings{current: models.AppSettings{
		Person1Name:  "Ana",
		Person2Name:  "Ben",
		CoupleID:     "c1",
		WhoAmI:       models.SlotB,
		NextMeetDate: "2025-06-04",
	}})

	rec := httptest.NewRecorder()
	h.GetSettings(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Ana", body["settings"]["person1Name"])
	assert.Equal(t, "person2", body["settings"]["whoAmI"])
	assert.Equal(t, "3 days", body["counters"]["meet_label"])
}

func TestSettingsHandler_Update(t *testing.T) {
	svc := &stubSettings{}
	h := NewSettingsHandler(svc)

	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, httptest.NewRequest(http.MethodPut, "/api/v1/settings",
		strings.NewReader(`{"person1Name":"Ana","coupleId":"c9","whoAmI":"person2"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.saved)
	assert.Equal(t, "c9", svc.saved.CoupleID)
	assert.Equal(t, "Person 2", svc.saved.Person2Name)
}

func TestSettingsHandler_UpdateRejectsInvalid(t *testing.T) {
	svc := &stubSettings{}
	h := NewSettingsHandler(svc)

	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, httptest.NewRequest(http.MethodPut, "/api/v1/settings",
		strings.NewReader(`{"whoAmI":"person3"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "whoAmI")

	rec = httptest.NewRecorder()
	h.UpdateSettings(rec, httptest.NewRequest(http.MethodPut, "/api/v1/settings",
		strings.NewReader(`{"relationshipStart":"yesterday"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.saved)
}
