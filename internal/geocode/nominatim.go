// Package geocode resolves coordinates to a human-readable place name.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrResolverFailure is returned for any failed lookup
var ErrResolverFailure = errors.New("place name resolver failure")

// NominatimResolver resolves place names with the OpenStreetMap Nominatim reverse API
type NominatimResolver struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
}

// NewNominatimResolver creates a resolver for the given base endpoint
func NewNominatimResolver(endpoint, userAgent string, timeout time.Duration) *NominatimResolver {
	return &NominatimResolver{
		endpoint:   strings.TrimRight(endpoint, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type reverseResponse struct {
	Address struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		County  string `json:"county"`
	} `json:"address"`
	Error string `json:"error"`
}

// ReverseGeocode returns the city, town, village or county at (lat, lon)
func (r *NominatimResolver) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to build request: %w", ErrResolverFailure, err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrResolverFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", ErrResolverFailure, resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %w", ErrResolverFailure, err)
	}
	if body.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrResolverFailure, body.Error)
	}

	for _, name := range []string{body.Address.City, body.Address.Town, body.Address.Village, body.Address.County} {
		if name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no place name at %f,%f", ErrResolverFailure, lat, lon)
}
