package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/geo"
	"github.com/Jakob98-code/distance-tracker/internal/models"
	"github.com/Jakob98-code/distance-tracker/internal/syncstore"

	"github.com/rs/zerolog/log"
)

// isoMillis matches the ISO-8601 form browsers produce for updatedAt
const isoMillis = "2006-01-02T15:04:05.000Z"

// ErrSyncWriteFailure wraps any failed write to the shared store
var ErrSyncWriteFailure = errors.New("sync write failure")

// PlaceResolver turns coordinates into a place name, best-effort
type PlaceResolver interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

// MapView draws both participants once both positions are known
type MapView interface {
	RenderPair(a, b models.LocationRecord)
}

// LocationUpdate is delivered for every change of the couple's locations
type LocationUpdate struct {
	Pair     models.LocationPair    `json:"pair"`
	Distance *models.DistanceResult `json:"distance,omitempty"`
}

// LocationSyncEngine publishes the local position and follows both slots
type LocationSyncEngine struct {
	store    syncstore.Store
	resolver PlaceResolver
	mapView  MapView
	coupleID string
	whoAmI   models.Slot
	now      func() time.Time

	mu     sync.RWMutex
	latest LocationUpdate
}

// NewLocationSyncEngine creates an engine for the couple and slot in settings.
// resolver and mapView may be nil.
func NewLocationSyncEngine(store syncstore.Store, resolver PlaceResolver, mapView MapView, settings models.AppSettings) *LocationSyncEngine {
	return &LocationSyncEngine{
		store:    store,
		resolver: resolver,
		mapView:  mapView,
		coupleID: settings.CoupleID,
		whoAmI:   settings.WhoAmI,
		now:      time.Now,
	}
}

func (e *LocationSyncEngine) locationsPath() string {
	return syncstore.Join("couples", e.coupleID, "locations")
}

// PublishMyLocation overwrites this participant's slot with a fresh record.
// A failed place-name lookup only omits the city.
func (e *LocationSyncEngine) PublishMyLocation(ctx context.Context, lat, lon float64) (*models.LocationRecord, error) {
	now := e.now()
	rec := models.LocationRecord{
		Lat:       lat,
		Lon:       lon,
		Timestamp: now.UnixMilli(),
		UpdatedAt: now.UTC().Format(isoMillis),
	}

	if e.resolver != nil {
		city, err := e.resolver.ReverseGeocode(ctx, lat, lon)
		if err != nil {
			log.Debug().Err(err).Float64("lat", lat).Float64("lon", lon).Msg("Place name lookup failed")
		} else {
			rec.City = city
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal location: %w", ErrSyncWriteFailure, err)
	}

	path := syncstore.Join(e.locationsPath(), string(e.whoAmI))
	if err := e.store.Set(ctx, path, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyncWriteFailure, err)
	}

	log.Info().
		Str("slot", string(e.whoAmI)).
		Float64("lat", lat).
		Float64("lon", lon).
		Str("city", rec.City).
		Msg("Location published")
	return &rec, nil
}

// SubscribeToLocations follows both slots. Every delivery carries the full
// current pair; when both slots are present the distance is computed and the
// map view is rendered. fn may be nil.
func (e *LocationSyncEngine) SubscribeToLocations(fn func(LocationUpdate)) (syncstore.Subscription, error) {
	path := e.locationsPath()
	sub, err := e.store.Watch(path, func(snap syncstore.Snapshot) {
		update := pairUpdate(snap)

		e.mu.Lock()
		e.latest = update
		e.mu.Unlock()

		if fn != nil {
			fn(update)
		}
		if update.Distance != nil && e.mapView != nil {
			e.mapView.RenderPair(*update.Pair.A, *update.Pair.B)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("Subscribed to locations")
	return sub, nil
}

// SubscribeToConnectivity follows the shared store's connection state
func (e *LocationSyncEngine) SubscribeToConnectivity(fn func(models.Connectivity)) syncstore.Subscription {
	return e.store.WatchConnectivity(fn)
}

// Latest returns the most recently delivered pair
func (e *LocationSyncEngine) Latest() LocationUpdate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

func pairUpdate(snap syncstore.Snapshot) LocationUpdate {
	var u LocationUpdate
	u.Pair.A = decodeRecord(snap, models.SlotA)
	u.Pair.B = decodeRecord(snap, models.SlotB)
	if u.Pair.Complete() {
		u.Distance = &models.DistanceResult{Km: DistanceBetween(*u.Pair.A, *u.Pair.B)}
	}
	return u
}

// DistanceBetween returns the great-circle distance between two records in km
func DistanceBetween(a, b models.LocationRecord) float64 {
	return geo.DistanceKm(a.Lat, a.Lon, b.Lat, b.Lon)
}

func decodeRecord(snap syncstore.Snapshot, slot models.Slot) *models.LocationRecord {
	raw, ok := snap[string(slot)]
	if !ok {
		return nil
	}
	var rec models.LocationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Warn().Err(err).Str("slot", string(slot)).Msg("Ignoring malformed location record")
		return nil
	}
	return &rec
}
