package services

import (
	"context"
	"sync"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/geolocation"
	"github.com/Jakob98-code/distance-tracker/internal/models"

	"github.com/rs/zerolog/log"
)

// ErrGeolocationUnavailable is returned when the device has no position source
var ErrGeolocationUnavailable = geolocation.ErrUnavailable

const publishTimeout = 30 * time.Second

var (
	trackingOptions = geolocation.Options{
		EnableHighAccuracy: true,
		Timeout:            10 * time.Second,
		MaximumAge:         30 * time.Second,
	}
	onceOptions = geolocation.Options{
		EnableHighAccuracy: true,
		Timeout:            10 * time.Second,
		MaximumAge:         60 * time.Second,
	}
)

// LocationPublisher writes this participant's position to the shared store
type LocationPublisher interface {
	PublishMyLocation(ctx context.Context, lat, lon float64) (*models.LocationRecord, error)
}

// Tracker turns continuous position sampling into start/stop tracking
type Tracker struct {
	source    geolocation.Source
	publisher LocationPublisher
	onChange  func(active bool)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker creates an inactive tracker. onChange may be nil.
func NewTracker(source geolocation.Source, publisher LocationPublisher, onChange func(active bool)) *Tracker {
	return &Tracker{
		source:    source,
		publisher: publisher,
		onChange:  onChange,
	}
}

// StartTracking begins sampling and publishes every fix; a no-op while active
func (t *Tracker) StartTracking() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return nil
	}
	if t.source == nil {
		t.mu.Unlock()
		return ErrGeolocationUnavailable
	}

	ctx, cancel := context.WithCancel(context.Background())
	samples, err := t.source.Watch(ctx, trackingOptions)
	if err != nil {
		cancel()
		t.mu.Unlock()
		return err
	}
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go t.run(ctx, samples, done)

	log.Info().Msg("Tracking started")
	t.changed(true)
	return nil
}

func (t *Tracker) run(ctx context.Context, samples <-chan geolocation.Sample, done chan struct{}) {
	defer close(done)

	for s := range samples {
		if ctx.Err() != nil {
			return
		}
		if s.Err != nil {
			log.Warn().Err(s.Err).Msg("Tracking sample failed")
			continue
		}

		// a publish in flight completes even if tracking stops meanwhile
		pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if _, err := t.publisher.PublishMyLocation(pubCtx, s.Position.Lat, s.Position.Lon); err != nil {
			log.Error().Err(err).Msg("Failed to publish tracked location")
		}
		cancel()
	}
}

// StopTracking cancels sampling and waits for a publish in flight; no
// publish starts after it returns. A no-op while inactive.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	if t.cancel == nil {
		t.mu.Unlock()
		return
	}
	t.cancel()
	done := t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	<-done

	log.Info().Msg("Tracking stopped")
	t.changed(false)
}

// IsTracking reports whether a tracking session is active
func (t *Tracker) IsTracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// GetCurrentLocationOnce takes a single fix, accepting one up to a minute old
func (t *Tracker) GetCurrentLocationOnce(ctx context.Context) (models.Position, error) {
	if t.source == nil {
		return models.Position{}, ErrGeolocationUnavailable
	}
	return t.source.Current(ctx, onceOptions)
}

func (t *Tracker) changed(active bool) {
	if t.onChange != nil {
		t.onChange(active)
	}
}
